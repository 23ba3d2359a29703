// Package repl implements the replication propagator: the single ordered
// stream of canonical write effects that replicas and the append-only log
// consume.
//
// Commands are never propagated verbatim. Each executed write contributes
// zero or more canonical records: relative expirations become absolute
// PEXPIREAT, TTL-carrying SETs become PXAT forms, randomized removals
// become explicit member deletions, and scripts never appear at all, only
// the writes their effects captured. A batch of two or more records from
// one execution travels inside a MULTI/EXEC frame so replicas apply it
// atomically; a single record travels bare.
//
// The replication offset advances by the exact encoded byte size of every
// record, including SELECT markers and MULTI/EXEC framing, so a primary
// and its replicas agree on positions byte for byte. A bounded backlog
// retains the recent stream for partial resynchronization; replicas whose
// offset has been evicted fall back to a full snapshot sync.
package repl

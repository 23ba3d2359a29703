// Package persist implements durability for the keyspace: point-in-time
// snapshot files, serialized single-value payloads for DUMP/RESTORE and
// key migration, and the append-only log of canonical write records.
//
// The snapshot format serializes logical content only; physical encodings
// are re-derived from the configured thresholds on load. Files carry a
// versioned header and a CRC-64 trailer, and a load that fails validation
// returns an error the caller treats as fatal at startup: serving from a
// partially loaded keyspace would silently diverge from the snapshot.
//
// The append-only log stores exactly the replication stream bytes, so
// replaying it is the same operation as following a primary.
package persist

// Package halcyon provides a deterministic in-memory keyspace state
// machine speaking Redis semantics, with effect-based replication.
//
// Every command runs through a serialized executor; writes are rewritten
// into canonical, absolute effects (PEXPIREAT instead of EXPIRE, explicit
// stream ids instead of *, the exact members SPOP removed) before they
// reach the replication stream, so replaying the stream on another node
// converges it byte-for-byte.
//
// Basic usage:
//
//	srv, err := halcyon.New(
//		halcyon.WithSnapshotPath("dump.hdb"),
//		halcyon.WithAppendLogPath("halcyon.aof"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	sess := srv.Session()
//	reply := srv.Do(sess, "SET", "greeting", "hello")
//
// The package supports:
//
//   - Typed values: strings, hashes, lists, sets, sorted sets, streams
//   - MULTI/EXEC transactions with WATCH optimistic fencing
//   - Lua scripting with effect capture (scripts never replicate as source)
//   - Snapshot and append-only-log persistence with integrity checks
//   - Hash-slot routing with MOVED/ASK redirects and live key migration
//
// For the wire protocol building blocks, see the protocol subpackage; for
// direct keyspace access, see keyspace.
package halcyon

// Package protocol implements the RESP serialization used at every boundary
// of the engine: typed reply values handed back to the connection layer, the
// canonical command stream fed to replicas, and the append-only log on disk.
//
// The package supports both RESP2 and RESP3 framing. Writers are created in
// RESP2 mode and can be switched per connection after protocol negotiation;
// RESP3-only value kinds (maps, sets, booleans, doubles, big numbers,
// verbatim strings, push frames) degrade to their RESP2 equivalents when the
// negotiated version does not support them.
//
// Basic usage:
//
//	w := protocol.NewWriter(conn)
//	w.WriteValue(protocol.SimpleString("OK"))
//	w.Flush()
//
//	r := protocol.NewReader(conn)
//	v, err := r.ReadNext()
package protocol

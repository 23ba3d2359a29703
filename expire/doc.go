// Package expire implements key lifetime management: the conditional
// flags of the EXPIRE command family and the active expiry cycle that
// sweeps logically dead keys in the background.
//
// Flag validation and application mirror the command surface exactly:
// NX, XX, GT and LT are parsed, checked for compatibility and then
// evaluated against the key's current expiry before any TTL is written.
//
// The Manager runs the active cycle. On a primary it forces lazy expiry
// of sampled dead keys, and the store's expire callback carries each
// deletion into propagation; on a replica the cycle idles, since dead
// keys must stay in place until the primary's delete arrives.
package expire

package repl

import (
	"strconv"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
)

// Canonical record constructors. Handlers that execute nondeterministic or
// time-relative commands build their propagated form through these, so the
// stream only ever carries absolute, deterministic effects.

// SelectRecord switches the replica's target database
func SelectRecord(db int) protocol.Command {
	return protocol.NewCommand("SELECT", strconv.Itoa(db))
}

// DelRecord removes keys; the canonical form of GETDEL, of expired-key
// collection and of any expiration that resolved into the past
func DelRecord(keys ...string) protocol.Command {
	return protocol.NewCommand("DEL", keys...)
}

// PExpireAtRecord pins a key's expiry to an absolute unix-ms instant; the
// canonical form of the whole EXPIRE family
func PExpireAtRecord(key string, atMs int64) protocol.Command {
	return protocol.NewCommand("PEXPIREAT", key, strconv.FormatInt(atMs, 10))
}

// PersistRecord clears a key's expiry
func PersistRecord(key string) protocol.Command {
	return protocol.NewCommand("PERSIST", key)
}

// SetRecord writes a string value with its TTL disposition made explicit:
// an absolute PXAT deadline, KEEPTTL, or neither (expiry cleared)
func SetRecord(key string, val []byte, atMs int64, keepTTL bool) protocol.Command {
	args := [][]byte{[]byte(key), val}
	switch {
	case atMs > 0:
		args = append(args, []byte("PXAT"), []byte(strconv.FormatInt(atMs, 10)))
	case keepTTL:
		args = append(args, []byte("KEEPTTL"))
	}
	return protocol.NewCommandBytes("SET", args...)
}

// SRemRecord removes exact set members; the canonical form of SPOP
func SRemRecord(key string, members ...string) protocol.Command {
	return protocol.NewCommand("SREM", append([]string{key}, members...)...)
}

// ZRemRecord removes exact sorted-set members
func ZRemRecord(key string, members ...string) protocol.Command {
	return protocol.NewCommand("ZREM", append([]string{key}, members...)...)
}

// XAddRecord appends a stream entry with its resolved id made explicit;
// the canonical form of XADD with * or ms-* ids
func XAddRecord(key string, id keyspace.StreamID, fields []keyspace.FieldValue) protocol.Command {
	args := [][]byte{[]byte(key), []byte(id.String())}
	for _, fv := range fields {
		args = append(args, []byte(fv.Field), fv.Value)
	}
	return protocol.NewCommandBytes("XADD", args...)
}

// XClaimRecord transfers ownership of one pending entry with its delivery
// bookkeeping pinned; the canonical form of every XREADGROUP delivery and
// XAUTOCLAIM transfer
func XClaimRecord(key, group, consumer string, id keyspace.StreamID, deliveryTime, deliveryCount int64) protocol.Command {
	return protocol.NewCommand("XCLAIM",
		key, group, consumer, "0", id.String(),
		"TIME", strconv.FormatInt(deliveryTime, 10),
		"RETRYCOUNT", strconv.FormatInt(deliveryCount, 10),
		"FORCE", "JUSTID")
}

// CopyRecord duplicates a key across databases
func CopyRecord(src string, dst string, dstDB int, replace bool) protocol.Command {
	args := []string{src, dst, "DB", strconv.Itoa(dstDB)}
	if replace {
		args = append(args, "REPLACE")
	}
	return protocol.NewCommand("COPY", args...)
}

// RestoreRecord installs a serialized value; the canonical form of a
// migration handoff landing on the destination
func RestoreRecord(key string, atMs int64, payload []byte, replace bool) protocol.Command {
	args := [][]byte{[]byte(key), []byte(strconv.FormatInt(atMs, 10)), payload, []byte("ABSTTL")}
	if replace {
		args = append(args, []byte("REPLACE"))
	}
	return protocol.NewCommandBytes("RESTORE", args...)
}

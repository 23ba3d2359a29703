package cluster

import (
	"context"
	"fmt"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
)

// Handoff delivers one serialized key to another node. The destination
// installs it with RESTORE semantics into destDB under ASKING, so an
// in-flight slot accepts the transfer while still redirecting normal
// traffic.
type Handoff interface {
	Restore(ctx context.Context, addr string, destDB int, key string, expireAtMs int64, payload []byte, replace bool) error
}

// MigrateKey moves one key to destDB of the node at destAddr: serialize,
// deliver, then delete locally. The local delete only happens after the
// destination acknowledged the restore, so a failed handoff never loses
// the key; a crash between the two steps leaves a duplicate the
// completing SETSLOT resolves in the destination's favor.
func MigrateKey(ctx context.Context, store *keyspace.Store, db int, key, destAddr string, destDB int, h Handoff) error {
	m, expireAt, ok := store.Materialize(db, key)
	if !ok {
		return keyspace.ErrNoSuchKey
	}
	payload, err := persist.DumpValue(m)
	if err != nil {
		return fmt.Errorf("serialize %q: %w", key, err)
	}
	if err := h.Restore(ctx, destAddr, destDB, key, expireAt, payload, true); err != nil {
		return fmt.Errorf("handoff %q to %s: %w", key, destAddr, err)
	}
	store.Del(db, key)
	return nil
}

// MigrateSlot drains every local key of one slot to destDB at destAddr
func MigrateSlot(ctx context.Context, store *keyspace.Store, db int, slot uint16, destAddr string, destDB int, h Handoff) (int, error) {
	moved := 0
	for _, key := range store.Keys(db, "") {
		if KeySlot(key) != slot {
			continue
		}
		if err := MigrateKey(ctx, store, db, key, destAddr, destDB, h); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

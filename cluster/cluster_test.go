package cluster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
)

func TestKeySlot(t *testing.T) {
	// known CRC16 slot assignments from the wire protocol
	assert.Equal(t, uint16(12182), cluster.KeySlot("foo"))
	assert.Equal(t, uint16(5061), cluster.KeySlot("bar"))

	// hash tags pin related keys to one slot
	assert.Equal(t, cluster.KeySlot("user"), cluster.KeySlot("{user}.profile"))
	assert.Equal(t, cluster.KeySlot("{user}.cart"), cluster.KeySlot("{user}.profile"))

	// empty or unterminated tags hash the whole key
	assert.Equal(t, cluster.KeySlot("{}key"), cluster.KeySlot("{}key"))
	assert.NotEqual(t, cluster.KeySlot("{}abc"), cluster.KeySlot("abc"))

	if cluster.KeySlot("anything") >= cluster.SlotCount {
		t.Fatal("slot out of range")
	}
}

func TestRouteOwnedSlot(t *testing.T) {
	tbl := cluster.NewSlotTable("node-a")
	tbl.AssignRange(0, cluster.SlotCount-1, "node-a")

	require.NoError(t, tbl.Route(cluster.KeySlot("foo"), true, false))
	require.NoError(t, tbl.Route(cluster.KeySlot("foo"), false, false))
}

func TestRouteMoved(t *testing.T) {
	tbl := cluster.NewSlotTable("node-a")
	tbl.SetNodeAddr("node-b", "10.0.0.2:7000")
	slot := cluster.KeySlot("foo")
	tbl.Assign(slot, "node-b")

	err := tbl.Route(slot, false, false)
	var moved *cluster.MovedError
	require.True(t, errors.As(err, &moved))
	assert.Equal(t, slot, moved.Slot)
	assert.Equal(t, "10.0.0.2:7000", moved.Addr)
	assert.Contains(t, moved.Error(), "MOVED ")
}

func TestRouteMigratingAsksForMissingKeys(t *testing.T) {
	tbl := cluster.NewSlotTable("node-a")
	tbl.SetNodeAddr("node-b", "10.0.0.2:7000")
	slot := cluster.KeySlot("foo")
	tbl.Assign(slot, "node-a")
	require.NoError(t, tbl.SetMigrating(slot, "node-b"))

	// keys still local are served
	require.NoError(t, tbl.Route(slot, true, false))

	// keys already moved redirect with ASK
	err := tbl.Route(slot, false, false)
	var ask *cluster.AskError
	require.True(t, errors.As(err, &ask))
	assert.Equal(t, "10.0.0.2:7000", ask.Addr)
	assert.Contains(t, ask.Error(), "ASK ")
}

func TestRouteImportingNeedsAsking(t *testing.T) {
	tbl := cluster.NewSlotTable("node-b")
	tbl.SetNodeAddr("node-a", "10.0.0.1:7000")
	slot := cluster.KeySlot("foo")
	tbl.Assign(slot, "node-a")
	tbl.SetImporting(slot, "node-a")

	// plain request bounces back to the owner of record
	err := tbl.Route(slot, false, false)
	var moved *cluster.MovedError
	require.True(t, errors.As(err, &moved))
	assert.Equal(t, "10.0.0.1:7000", moved.Addr)

	// ASKING request is served
	require.NoError(t, tbl.Route(slot, false, true))
}

func TestRouteUnboundSlot(t *testing.T) {
	tbl := cluster.NewSlotTable("node-a")
	assert.ErrorIs(t, tbl.Route(0, false, false), cluster.ErrSlotUnbound)
}

func TestSetMigratingRequiresOwnership(t *testing.T) {
	tbl := cluster.NewSlotTable("node-a")
	tbl.Assign(7, "node-b")
	assert.Error(t, tbl.SetMigrating(7, "node-c"))
}

type memHandoff struct {
	dst *keyspace.Store
}

func (h *memHandoff) Restore(_ context.Context, _ string, destDB int, key string, expireAtMs int64, payload []byte, _ bool) error {
	m, err := persist.LoadDump(payload)
	if err != nil {
		return err
	}
	return h.dst.RestoreEntry(destDB, key, m, expireAtMs)
}

func TestMigrateKeyMovesValueThenDeletes(t *testing.T) {
	src := keyspace.New()
	dst := keyspace.New()
	src.FreezeClock(1000)
	defer src.ThawClock()
	dst.FreezeClock(1000)
	defer dst.ThawClock()

	src.HSet(0, "h", keyspace.FieldValue{Field: "f", Value: []byte("v")})
	src.PExpireAt(0, "h", 90000)

	err := cluster.MigrateKey(context.Background(), src, 0, "h", "10.0.0.2:7000", 3, &memHandoff{dst: dst})
	require.NoError(t, err)

	assert.Equal(t, int64(0), src.Exists(0, "h"))
	// the key lands in the requested destination database
	assert.Equal(t, int64(0), dst.Exists(0, "h"))
	v, ok, err := dst.HGet(3, "h", "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, int64(90000), dst.PExpireTime(3, "h"))
}

type failingHandoff struct{}

func (failingHandoff) Restore(context.Context, string, int, string, int64, []byte, bool) error {
	return errors.New("destination unreachable")
}

func TestMigrateKeyKeepsKeyOnFailedHandoff(t *testing.T) {
	src := keyspace.New()
	src.Set(0, "k", []byte("v"), keyspace.SetOptions{})

	err := cluster.MigrateKey(context.Background(), src, 0, "k", "addr", 0, failingHandoff{})
	require.Error(t, err)
	assert.Equal(t, int64(1), src.Exists(0, "k"))
}

type memTransport struct {
	views map[string]*cluster.Membership
}

func (tr *memTransport) Exchange(_ context.Context, addr string, self cluster.Node) ([]cluster.Node, error) {
	peer, ok := tr.views[addr]
	if !ok {
		return nil, errors.New("no such peer")
	}
	peer.Merge([]cluster.Node{self})
	return peer.View(), nil
}

func TestMeetMergesBothDirections(t *testing.T) {
	a := cluster.NewMembership(cluster.Node{ID: "a", Addr: "host-a", SeenAt: time.Now()})
	b := cluster.NewMembership(cluster.Node{ID: "b", Addr: "host-b", SeenAt: time.Now()})
	tr := &memTransport{views: map[string]*cluster.Membership{"host-b": b}}

	require.NoError(t, a.Meet(context.Background(), tr, "host-b"))

	require.Len(t, a.Peers(), 1)
	assert.Equal(t, "b", a.Peers()[0].ID)
	require.Len(t, b.Peers(), 1)
	assert.Equal(t, "a", b.Peers()[0].ID)
}

func TestMergeKeepsNewestSighting(t *testing.T) {
	m := cluster.NewMembership(cluster.Node{ID: "self"})
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()

	m.Merge([]cluster.Node{{ID: "x", Addr: "old-addr", SeenAt: fresh}})
	m.Merge([]cluster.Node{{ID: "x", Addr: "stale-addr", SeenAt: old}})

	require.Len(t, m.Peers(), 1)
	assert.Equal(t, "old-addr", m.Peers()[0].Addr)
}

package keyspace_test

import (
	"testing"

	"github.com/halcyonkv/halcyon/keyspace"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := keyspace.New()
	src.FreezeClock(1000)
	defer src.ThawClock()

	src.Set(0, "str", []byte("value"), keyspace.SetOptions{ExpireAt: 90000})
	src.HSet(0, "hash", keyspace.FieldValue{Field: "f", Value: []byte("v")})
	src.RPush(0, "list", false, []byte("a"), []byte("b"))
	src.SAdd(0, "set", "1", "2", "three")
	src.ZAdd(0, "zset", "m", 1.5, keyspace.ZAddFlags{})
	xadd(t, src, "stream", "1-1", "f", "v")
	src.XGroupCreate(0, "stream", "g", keyspace.StreamID{}, false)
	src.XReadGroup(0, "stream", "g", "c1", 10, false)

	snap := src.SnapshotDB(0)
	if len(snap) != 6 {
		t.Fatalf("SnapshotDB exported %d keys, want 6", len(snap))
	}

	dst := keyspace.New()
	dst.FreezeClock(1000)
	defer dst.ThawClock()
	if err := dst.RestoreSnapshot(0, snap); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}

	if v, ok, _ := dst.Get(0, "str"); !ok || string(v) != "value" {
		t.Fatalf("restored string = %q, %v", v, ok)
	}
	if at := dst.PExpireTime(0, "str"); at != 90000 {
		t.Fatalf("restored expiry = %d, want 90000", at)
	}
	if v, ok, _ := dst.HGet(0, "hash", "f"); !ok || string(v) != "v" {
		t.Fatalf("restored hash field = %q, %v", v, ok)
	}
	if got, _ := dst.LRange(0, "list", 0, -1); len(got) != 2 || string(got[0]) != "a" {
		t.Fatalf("restored list = %v", got)
	}
	if ok, _ := dst.SIsMember(0, "set", "three"); !ok {
		t.Fatal("restored set lost a member")
	}
	if sc, ok, _ := dst.ZScore(0, "zset", "m"); !ok || sc != 1.5 {
		t.Fatalf("restored zset score = %v, %v", sc, ok)
	}

	// consumer-group state travels with the stream
	sum, err := dst.XPending(0, "stream", "g")
	if err != nil {
		t.Fatalf("XPending on restored stream error = %v", err)
	}
	if sum.Count != 1 || sum.Consumers["c1"] != 1 {
		t.Fatalf("restored pending state = %+v", sum)
	}
}

func TestSnapshotSkipsElapsedExpiries(t *testing.T) {
	src := keyspace.New()
	src.FreezeClock(1000)
	defer src.ThawClock()
	src.Set(0, "soon", []byte("v"), keyspace.SetOptions{ExpireAt: 2000})

	snap := src.SnapshotDB(0)

	dst := keyspace.New()
	dst.FreezeClock(3000)
	defer dst.ThawClock()
	if err := dst.RestoreSnapshot(0, snap); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if dst.Exists(0, "soon") != 0 {
		t.Fatal("elapsed-expiry key must not be loaded")
	}
}

func TestMaterializeRebuildsEncoding(t *testing.T) {
	src := keyspace.New()
	src.SAdd(0, "s", "10", "20")

	m, _, ok := src.Materialize(0, "s")
	if !ok || m.Type != keyspace.TypeSet {
		t.Fatalf("Materialize = %+v, %v", m, ok)
	}

	dst := keyspace.New()
	if err := dst.RestoreEntry(0, "s", m, 0); err != nil {
		t.Fatalf("RestoreEntry() error = %v", err)
	}
	// all-integer content lands back in the intset encoding
	if enc, _ := dst.ObjectEncoding(0, "s"); enc != keyspace.EncIntset {
		t.Fatalf("rebuilt encoding = %s, want intset", enc)
	}
}

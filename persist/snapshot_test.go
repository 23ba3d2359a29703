package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
)

func populate(t *testing.T, store *keyspace.Store) {
	t.Helper()
	store.Set(0, "str", []byte("value"), keyspace.SetOptions{ExpireAt: 90000})
	store.RPush(0, "list", false, []byte("a"), []byte("b"))
	store.SAdd(1, "set", "x", "y")

	spec, err := keyspace.ParseXAddID("1-1")
	require.NoError(t, err)
	_, _, err = store.XAdd(0, "stream", spec,
		[]keyspace.FieldValue{{Field: "f", Value: []byte("v")}}, false)
	require.NoError(t, err)
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	src := keyspace.New()
	src.FreezeClock(1000)
	defer src.ThawClock()
	populate(t, src)

	path := filepath.Join(t.TempDir(), "dump.snapshot")
	require.NoError(t, persist.SaveSnapshot(path, src))

	dst := keyspace.New()
	dst.FreezeClock(1000)
	defer dst.ThawClock()
	require.NoError(t, persist.LoadSnapshot(path, dst))

	v, ok, err := dst.Get(0, "str")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(v))
	assert.Equal(t, int64(90000), dst.PExpireTime(0, "str"))

	elems, err := dst.LRange(0, "list", 0, -1)
	require.NoError(t, err)
	require.Len(t, elems, 2)

	member, err := dst.SIsMember(1, "set", "y")
	require.NoError(t, err)
	assert.True(t, member)

	// streams ride the append log, not snapshots
	assert.Equal(t, int64(0), dst.Exists(0, "stream"))
}

func TestLoadSnapshotHaltsOnCorruption(t *testing.T) {
	src := keyspace.New()
	populate(t, src)

	path := filepath.Join(t.TempDir(), "dump.snapshot")
	require.NoError(t, persist.SaveSnapshot(path, src))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// flip one body byte: checksum must catch it
	bad := append([]byte(nil), data...)
	bad[len(bad)/2] ^= 0x01
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	err = persist.LoadSnapshot(path, keyspace.New())
	assert.ErrorIs(t, err, persist.ErrCorrupt)

	// truncated file
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))
	err = persist.LoadSnapshot(path, keyspace.New())
	assert.ErrorIs(t, err, persist.ErrCorrupt)

	// bad magic
	bad = append([]byte(nil), data...)
	copy(bad, "NOTDB")
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	err = persist.LoadSnapshot(path, keyspace.New())
	assert.ErrorIs(t, err, persist.ErrCorrupt)
}

func TestLoadSnapshotSkipsElapsedExpiries(t *testing.T) {
	src := keyspace.New()
	src.FreezeClock(1000)
	defer src.ThawClock()
	src.Set(0, "soon", []byte("v"), keyspace.SetOptions{ExpireAt: 2000})
	src.Set(0, "keeper", []byte("v"), keyspace.SetOptions{})

	path := filepath.Join(t.TempDir(), "dump.snapshot")
	require.NoError(t, persist.SaveSnapshot(path, src))

	dst := keyspace.New()
	dst.FreezeClock(5000)
	defer dst.ThawClock()
	require.NoError(t, persist.LoadSnapshot(path, dst))

	assert.Equal(t, int64(0), dst.Exists(0, "soon"))
	assert.Equal(t, int64(1), dst.Exists(0, "keeper"))
}

package persist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	store := keyspace.New()
	store.ZAdd(0, "z", "a", 1.5, keyspace.ZAddFlags{})
	store.ZAdd(0, "z", "b", -2.25, keyspace.ZAddFlags{})

	m, _, ok := store.Materialize(0, "z")
	require.True(t, ok)

	payload, err := persist.DumpValue(m)
	require.NoError(t, err)

	got, err := persist.LoadDump(payload)
	require.NoError(t, err)
	require.Equal(t, keyspace.TypeZSet, got.Type)
	require.Len(t, got.ZSet, 2)
	assert.Equal(t, "a", got.ZSet[0].Member)
	assert.Equal(t, 1.5, got.ZSet[0].Score)
	assert.Equal(t, -2.25, got.ZSet[1].Score)
}

func TestLoadDumpRejectsCorruption(t *testing.T) {
	store := keyspace.New()
	store.Set(0, "s", []byte("payload"), keyspace.SetOptions{})
	m, _, _ := store.Materialize(0, "s")
	payload, err := persist.DumpValue(m)
	require.NoError(t, err)

	// flipped body byte fails the checksum
	bad := append([]byte(nil), payload...)
	bad[0] ^= 0xff
	_, err = persist.LoadDump(bad)
	assert.ErrorIs(t, err, persist.ErrDumpPayload)

	// truncation
	_, err = persist.LoadDump(payload[:len(payload)-3])
	assert.ErrorIs(t, err, persist.ErrDumpPayload)

	// the version footer is covered by the checksum
	bad = append([]byte(nil), payload...)
	bad[len(bad)-10] = 0xff
	bad[len(bad)-9] = 0xff
	_, err = persist.LoadDump(bad)
	assert.ErrorIs(t, err, persist.ErrDumpPayload)

	// too short to hold the footer
	_, err = persist.LoadDump([]byte{1, 2, 3})
	assert.ErrorIs(t, err, persist.ErrDumpPayload)
}

func TestDumpRestoreAcrossStores(t *testing.T) {
	src := keyspace.New()
	src.HSet(0, "h",
		keyspace.FieldValue{Field: "f1", Value: []byte("v1")},
		keyspace.FieldValue{Field: "f2", Value: []byte("v2")},
	)
	m, _, _ := src.Materialize(0, "h")
	payload, err := persist.DumpValue(m)
	require.NoError(t, err)

	dst := keyspace.New()
	got, err := persist.LoadDump(payload)
	require.NoError(t, err)
	require.NoError(t, dst.RestoreEntry(0, "h", got, 0))

	val, ok, err := dst.HGet(0, "h", "f2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(val))
}

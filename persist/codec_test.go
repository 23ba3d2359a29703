package persist_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
)

func footer(body []byte) []byte {
	out := append([]byte(nil), body...)
	out = binary.LittleEndian.AppendUint16(out, persist.FormatVersion)
	out = binary.LittleEndian.AppendUint64(out, persist.Checksum(0, out))
	return out
}

func TestDumpStringLayout(t *testing.T) {
	store := keyspace.New()
	store.Set(0, "k", []byte("hello"), keyspace.SetOptions{})
	m, _, ok := store.Materialize(0, "k")
	require.True(t, ok)

	payload, err := persist.DumpValue(m)
	require.NoError(t, err)

	// type 0, 6-bit length, raw bytes, version and checksum footer
	want := footer([]byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'})
	assert.Equal(t, want, payload)
}

func TestDumpPacksIntegerStrings(t *testing.T) {
	store := keyspace.New()
	store.Set(0, "small", []byte("123"), keyspace.SetOptions{})
	store.Set(0, "wide", []byte("300"), keyspace.SetOptions{})
	store.Set(0, "padded", []byte("0123"), keyspace.SetOptions{})

	m, _, _ := store.Materialize(0, "small")
	payload, err := persist.DumpValue(m)
	require.NoError(t, err)
	assert.Equal(t, footer([]byte{0x00, 0xC0, 123}), payload)

	m, _, _ = store.Materialize(0, "wide")
	payload, err = persist.DumpValue(m)
	require.NoError(t, err)
	assert.Equal(t, footer([]byte{0x00, 0xC1, 0x2C, 0x01}), payload)

	// a leading zero does not round-trip, so it stays a raw string
	m, _, _ = store.Materialize(0, "padded")
	payload, err = persist.DumpValue(m)
	require.NoError(t, err)
	assert.Equal(t, footer([]byte{0x00, 0x04, '0', '1', '2', '3'}), payload)
}

func TestDumpListIsPlainElementSequence(t *testing.T) {
	store := keyspace.New()
	store.RPush(0, "l", false, []byte("a"), []byte("bc"))
	m, _, _ := store.Materialize(0, "l")

	payload, err := persist.DumpValue(m)
	require.NoError(t, err)
	assert.Equal(t, footer([]byte{0x01, 0x02, 0x01, 'a', 0x02, 'b', 'c'}), payload)
}

func TestDumpZSetUsesBinaryDoubles(t *testing.T) {
	store := keyspace.New()
	store.ZAdd(0, "z", "m", 1.5, keyspace.ZAddFlags{})
	m, _, _ := store.Materialize(0, "z")

	payload, err := persist.DumpValue(m)
	require.NoError(t, err)

	body := []byte{0x05, 0x01, 0x01, 'm'}
	body = binary.LittleEndian.AppendUint64(body, 0x3FF8000000000000) // 1.5
	assert.Equal(t, footer(body), payload)
}

func TestDumpRejectsStreams(t *testing.T) {
	store := keyspace.New()
	spec, err := keyspace.ParseXAddID("1-1")
	require.NoError(t, err)
	_, _, err = store.XAdd(0, "s", spec,
		[]keyspace.FieldValue{{Field: "f", Value: []byte("v")}}, false)
	require.NoError(t, err)

	m, _, ok := store.Materialize(0, "s")
	require.True(t, ok)
	_, err = persist.DumpValue(m)
	assert.ErrorIs(t, err, persist.ErrNotDumpable)
}

func TestSnapshotFileLayout(t *testing.T) {
	store := keyspace.New()
	store.FreezeClock(1000)
	defer store.ThawClock()
	store.Set(0, "str", []byte("value"), keyspace.SetOptions{ExpireAt: 90000})

	path := filepath.Join(t.TempDir(), "dump.snapshot")
	require.NoError(t, persist.SaveSnapshot(path, store))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var want []byte
	want = append(want, "REDIS0010"...)
	want = append(want, 250, 0x09)
	want = append(want, "redis-ver"...)
	want = append(want, 0x05)
	want = append(want, "7.2.5"...)
	want = append(want, 250, 0x0A)
	want = append(want, "redis-bits"...)
	want = append(want, 0xC0, 64)
	want = append(want, 250, 0x05)
	want = append(want, "ctime"...)
	want = append(want, 0xC0, 1) // clock frozen at second 1
	want = append(want, 250, 0x08)
	want = append(want, "used-mem"...)
	want = append(want, 0xC0, 0)
	want = append(want, 254, 0x00) // select db 0
	want = append(want, 251, 0x01, 0x01)
	want = append(want, 252)
	want = binary.LittleEndian.AppendUint64(want, 90000)
	want = append(want, 0x00, 0x03) // string type byte precedes the key
	want = append(want, "str"...)
	want = append(want, 0x05)
	want = append(want, "value"...)
	want = append(want, 255)
	want = binary.LittleEndian.AppendUint64(want, persist.Checksum(0, want))

	assert.Equal(t, want, data)
}

func TestLoadSnapshotReadsListpackHash(t *testing.T) {
	// a version-11 file carrying a listpack-encoded hash and a
	// seconds-resolution expiry on a second key
	lp := []byte{13, 0, 0, 0, 2, 0, 0x01, 'f', 0x02, 0x01, 'v', 0x02, 0xFF}

	var data []byte
	data = append(data, "REDIS0011"...)
	data = append(data, 254, 0x00)
	data = append(data, 16, 0x01, 'h') // hash-listpack type, key "h"
	data = append(data, byte(len(lp)))
	data = append(data, lp...)
	data = append(data, 253)
	data = binary.LittleEndian.AppendUint32(data, 100) // expires at second 100
	data = append(data, 0x00, 0x01, 'k', 0xC0, 7)
	data = append(data, 255)
	data = binary.LittleEndian.AppendUint64(data, persist.Checksum(0, data))

	path := filepath.Join(t.TempDir(), "dump.snapshot")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	store := keyspace.New()
	store.FreezeClock(1000)
	defer store.ThawClock()
	require.NoError(t, persist.LoadSnapshot(path, store))

	val, ok, err := store.HGet(0, "h", "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(val))

	got, ok, err := store.Get(0, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", string(got))
	assert.Equal(t, int64(100_000), store.PExpireTime(0, "k"))
}

package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/VictoriaMetrics/metrics"

	"github.com/halcyonkv/halcyon/keyspace"
)

// Snapshot file opcodes, interleaved with key entries in the body
const (
	opAux       = 250
	opResizeDB  = 251
	opExpireMs  = 252
	opExpireSec = 253
	opSelectDB  = 254
	opEOF       = 255
)

var snapshotMagic = []byte(fmt.Sprintf("REDIS%04d", FormatVersion))

var (
	snapshotSaves = metrics.NewCounter("halcyon_snapshot_saves_total")
	snapshotKeys  = metrics.NewCounter("halcyon_snapshot_keys_total")
)

// SaveSnapshot serializes every database of the store into a snapshot
// file. The file is assembled in a temp file next to the target and
// renamed into place, so readers only ever observe complete snapshots.
// Stream keys are not part of snapshots; the append log carries them.
func SaveSnapshot(path string, store *keyspace.Store) error {
	var buf bytes.Buffer
	buf.Write(snapshotMagic)

	writeAux(&buf, "redis-ver", "7.2.5")
	writeAux(&buf, "redis-bits", "64")
	writeAux(&buf, "ctime", strconv.FormatInt(store.Now()/1000, 10))
	writeAux(&buf, "used-mem", "0")

	for db := 0; db < store.NumDatabases(); db++ {
		snap := store.SnapshotDB(db)
		if len(snap) == 0 {
			continue
		}
		buf.WriteByte(opSelectDB)
		writeLength(&buf, uint64(db))

		withExpiry := 0
		for _, ks := range snap {
			if ks.ExpireAt != 0 {
				withExpiry++
			}
		}
		buf.WriteByte(opResizeDB)
		writeLength(&buf, uint64(len(snap)))
		writeLength(&buf, uint64(withExpiry))

		for _, ks := range snap {
			typ, err := snapshotType(ks.Value)
			if err != nil {
				continue
			}
			if ks.ExpireAt != 0 {
				buf.WriteByte(opExpireMs)
				writeUint64(&buf, uint64(ks.ExpireAt))
			}
			buf.WriteByte(typ)
			writeString(&buf, []byte(ks.Key))
			if err := writeBody(&buf, typ, ks.Value); err != nil {
				return err
			}
			snapshotKeys.Inc()
		}
	}

	buf.WriteByte(opEOF)
	crc := Checksum(0, buf.Bytes())
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], crc)
	buf.Write(sum[:])

	if err := atomicWrite(path, buf.Bytes()); err != nil {
		return err
	}
	snapshotSaves.Inc()
	return nil
}

func writeAux(buf *bytes.Buffer, key, val string) {
	buf.WriteByte(opAux)
	writeString(buf, []byte(key))
	writeString(buf, []byte(val))
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadSnapshot reads a snapshot file into the store. Any validation
// failure, bad magic, version outside the accepted window, checksum
// mismatch or a truncated body, is returned as an error: the caller must
// treat it as fatal rather than serve a partially loaded keyspace. Keys
// whose expiry already elapsed are skipped.
func LoadSnapshot(path string, store *keyspace.Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return loadSnapshotBytes(data, store)
}

func loadSnapshotBytes(data []byte, store *keyspace.Store) error {
	if len(data) < len(snapshotMagic)+1+8 {
		return fmt.Errorf("%w: snapshot truncated", ErrCorrupt)
	}
	if !bytes.HasPrefix(data, []byte("REDIS")) {
		return fmt.Errorf("%w: bad snapshot magic", ErrCorrupt)
	}
	version, err := strconv.Atoi(string(data[5:len(snapshotMagic)]))
	if err != nil || version < 1 || version > MaxLoadVersion {
		return fmt.Errorf("%w: unsupported snapshot version", ErrCorrupt)
	}

	body := data[:len(data)-8]
	sum := binary.LittleEndian.Uint64(data[len(data)-8:])
	if Checksum(0, body) != sum {
		return fmt.Errorf("%w: snapshot checksum mismatch", ErrCorrupt)
	}

	r := bytes.NewReader(body[len(snapshotMagic):])
	db := 0
	expireAt := int64(0)
	now := store.Now()

	for {
		op, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: snapshot body ended without EOF marker", ErrCorrupt)
		}
		switch op {
		case opEOF:
			if r.Len() != 0 {
				return fmt.Errorf("%w: trailing bytes after EOF marker", ErrCorrupt)
			}
			return nil
		case opAux:
			if _, err := readString(r); err != nil {
				return err
			}
			if _, err := readString(r); err != nil {
				return err
			}
		case opSelectDB:
			n, err := readPlainLength(r)
			if err != nil {
				return err
			}
			if !store.ValidDB(int(n)) {
				return fmt.Errorf("%w: snapshot selects database %d", ErrCorrupt, n)
			}
			db = int(n)
		case opResizeDB:
			if _, err := readPlainLength(r); err != nil {
				return err
			}
			if _, err := readPlainLength(r); err != nil {
				return err
			}
		case opExpireMs:
			at, err := readUint64(r)
			if err != nil {
				return err
			}
			expireAt = int64(at)
		case opExpireSec:
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return ErrCorrupt
			}
			expireAt = int64(binary.LittleEndian.Uint32(buf[:])) * 1000
		default:
			// a key entry: the opcode byte is the value's type
			key, err := readString(r)
			if err != nil {
				return err
			}
			m, err := readBody(r, op)
			if err != nil {
				return err
			}
			at := expireAt
			expireAt = 0
			if m.Type == keyspace.TypeNone {
				continue
			}
			if at != 0 && at <= now {
				continue
			}
			if err := store.RestoreEntry(db, string(key), m, at); err != nil {
				return err
			}
		}
	}
}

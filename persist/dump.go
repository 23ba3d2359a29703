package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/halcyonkv/halcyon/keyspace"
)

// ErrDumpPayload is the validation failure RESTORE reports to clients
var ErrDumpPayload = errors.New("DUMP payload version or checksum are wrong")

// dumpType picks the type byte a DUMP payload carries. Unlike snapshots,
// a dumped list is the plain element-sequence form. Streams are not
// dumpable.
func dumpType(m keyspace.Materialized) (byte, error) {
	switch m.Type {
	case keyspace.TypeString:
		return typeString, nil
	case keyspace.TypeList:
		return typeList, nil
	case keyspace.TypeSet:
		return typeSet, nil
	case keyspace.TypeHash:
		return typeHash, nil
	case keyspace.TypeZSet:
		return typeZSet2, nil
	case keyspace.TypeStream:
		return 0, ErrNotDumpable
	}
	return 0, fmt.Errorf("cannot serialize value type %d", m.Type)
}

// restoreTypes is the set of type bytes RESTORE accepts
var restoreTypes = map[byte]bool{
	typeString: true,
	typeList:   true,
	typeSet:    true,
	typeZSet:   true,
	typeHash:   true,
	typeZSet2:  true,
}

// DumpValue serializes one value into a self-validating payload: a type
// byte and body, a 2-byte little-endian format version, and an 8-byte
// little-endian CRC-64 over everything before it. This is the unit that
// DUMP returns, RESTORE accepts and key migration hands between nodes.
func DumpValue(m keyspace.Materialized) ([]byte, error) {
	typ, err := dumpType(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(typ)
	if err := writeBody(&buf, typ, m); err != nil {
		return nil, err
	}

	var footer [2]byte
	binary.LittleEndian.PutUint16(footer[:], FormatVersion)
	buf.Write(footer[:])

	crc := Checksum(0, buf.Bytes())
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], crc)
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// LoadDump validates and deserializes a payload produced by DumpValue.
// Truncation or a checksum mismatch fails with ErrDumpPayload; the
// version footer travels with the payload but only the checksum decides
// validity.
func LoadDump(payload []byte) (keyspace.Materialized, error) {
	if len(payload) < 11 { // type byte + version + checksum at minimum
		return keyspace.Materialized{}, ErrDumpPayload
	}

	body := payload[:len(payload)-10]
	sum := binary.LittleEndian.Uint64(payload[len(payload)-8:])
	if Checksum(0, payload[:len(payload)-8]) != sum {
		return keyspace.Materialized{}, ErrDumpPayload
	}

	r := bytes.NewReader(body)
	typ, err := r.ReadByte()
	if err != nil {
		return keyspace.Materialized{}, ErrDumpPayload
	}
	if !restoreTypes[typ] {
		return keyspace.Materialized{}, fmt.Errorf("%w: bad data format", ErrDumpPayload)
	}
	m, err := readBody(r, typ)
	if err != nil {
		return keyspace.Materialized{}, fmt.Errorf("%w: %v", ErrDumpPayload, err)
	}
	if r.Len() != 0 {
		return keyspace.Materialized{}, ErrDumpPayload
	}
	return m, nil
}

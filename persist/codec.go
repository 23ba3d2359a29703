package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/halcyonkv/halcyon/keyspace"
)

// FormatVersion is the on-disk format version written into snapshot
// headers and DUMP payload footers. Loaders accept snapshots up to
// version 12.
const FormatVersion = 10

// MaxLoadVersion is the newest snapshot version the loader accepts
const MaxLoadVersion = 12

// ErrCorrupt reports a structurally invalid or checksum-failing payload
var ErrCorrupt = errors.New("corrupt serialized payload")

// ErrNotDumpable reports a value with no DUMP serialization
var ErrNotDumpable = errors.New("value type has no DUMP form")

// Value type bytes. The writer emits the subset marked below; the reader
// additionally understands the legacy encodings older files carry.
const (
	typeString     = 0 // written
	typeList       = 1 // written by DUMP
	typeSet        = 2 // written
	typeZSet       = 3
	typeHash       = 4 // written
	typeZSet2      = 5 // written
	typeHashZipmap     = 9
	typeListZiplist    = 10
	typeSetIntset      = 11
	typeZSetZiplist    = 12
	typeHashZiplist    = 13
	typeListQuicklist  = 15
	typeHashListpack   = 16
	typeZSetListpack   = 17
	typeListQuicklist2 = 18 // written by snapshots
	typeSetListpack    = 20
)

// Special string encodings carried in the two high bits of a length byte
const (
	encInt8 = iota
	encInt16
	encInt32
	encLZF
)

// Length encoding: 6-bit and 14-bit immediates for the common cases,
// marker bytes 0x80/0x81 followed by big-endian 32/64-bit for the rest.
func writeLength(w *bytes.Buffer, n uint64) {
	switch {
	case n < 1<<6:
		w.WriteByte(byte(n))
	case n < 1<<14:
		w.WriteByte(0x40 | byte(n>>8))
		w.WriteByte(byte(n))
	case n <= math.MaxUint32:
		w.WriteByte(0x80)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(n))
		w.Write(buf[:])
	default:
		w.WriteByte(0x81)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], n)
		w.Write(buf[:])
	}
}

// readLength decodes a length prefix. encoded reports the 11-prefixed
// form, in which case the returned value names the special encoding
// rather than a length.
func readLength(r *bytes.Reader) (n uint64, encoded bool, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, false, ErrCorrupt
	}
	switch b >> 6 {
	case 0:
		return uint64(b & 0x3f), false, nil
	case 1:
		b2, err := r.ReadByte()
		if err != nil {
			return 0, false, ErrCorrupt
		}
		return uint64(b&0x3f)<<8 | uint64(b2), false, nil
	case 3:
		return uint64(b & 0x3f), true, nil
	}
	switch b & 0x3f {
	case 0:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, false, ErrCorrupt
		}
		return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
	case 1:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, false, ErrCorrupt
		}
		return binary.BigEndian.Uint64(buf[:]), false, nil
	}
	return 0, false, fmt.Errorf("%w: bad length byte 0x%02x", ErrCorrupt, b)
}

func readPlainLength(r *bytes.Reader) (uint64, error) {
	n, encoded, err := readLength(r)
	if err != nil {
		return 0, err
	}
	if encoded {
		return 0, fmt.Errorf("%w: encoded length where plain expected", ErrCorrupt)
	}
	return n, nil
}

// writeString emits a string, packing decimal integers that round-trip
// exactly into 1, 2 or 4 little-endian bytes.
func writeString(w *bytes.Buffer, p []byte) {
	if n := len(p); n > 0 && n <= 20 {
		if v, err := strconv.ParseInt(string(p), 10, 64); err == nil && strconv.FormatInt(v, 10) == string(p) {
			switch {
			case v >= math.MinInt8 && v <= math.MaxInt8:
				w.WriteByte(0xC0 | encInt8)
				w.WriteByte(byte(int8(v)))
				return
			case v >= math.MinInt16 && v <= math.MaxInt16:
				w.WriteByte(0xC0 | encInt16)
				var buf [2]byte
				binary.LittleEndian.PutUint16(buf[:], uint16(int16(v)))
				w.Write(buf[:])
				return
			case v >= math.MinInt32 && v <= math.MaxInt32:
				w.WriteByte(0xC0 | encInt32)
				var buf [4]byte
				binary.LittleEndian.PutUint32(buf[:], uint32(int32(v)))
				w.Write(buf[:])
				return
			}
		}
	}
	writeLength(w, uint64(len(p)))
	w.Write(p)
}

func readString(r *bytes.Reader) ([]byte, error) {
	n, encoded, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if encoded {
		switch n {
		case encInt8:
			b, err := r.ReadByte()
			if err != nil {
				return nil, ErrCorrupt
			}
			return strconv.AppendInt(nil, int64(int8(b)), 10), nil
		case encInt16:
			var buf [2]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, ErrCorrupt
			}
			return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(buf[:]))), 10), nil
		case encInt32:
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, ErrCorrupt
			}
			return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(buf[:]))), 10), nil
		case encLZF:
			clen, err := readPlainLength(r)
			if err != nil {
				return nil, err
			}
			ulen, err := readPlainLength(r)
			if err != nil {
				return nil, err
			}
			if clen > uint64(r.Len()) {
				return nil, ErrCorrupt
			}
			compressed := make([]byte, clen)
			if _, err := io.ReadFull(r, compressed); err != nil {
				return nil, ErrCorrupt
			}
			return lzfDecompress(compressed, int(ulen))
		}
		return nil, fmt.Errorf("%w: bad string encoding %d", ErrCorrupt, n)
	}
	if n > uint64(r.Len()) {
		return nil, ErrCorrupt
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrCorrupt
	}
	return out, nil
}

func lzfDecompress(in []byte, outLen int) ([]byte, error) {
	out := make([]byte, outLen)
	ip, op := 0, 0
	for ip < len(in) {
		ctrl := int(in[ip])
		ip++
		if ctrl < 32 {
			run := ctrl + 1
			if ip+run > len(in) || op+run > outLen {
				return nil, ErrCorrupt
			}
			copy(out[op:], in[ip:ip+run])
			ip += run
			op += run
			continue
		}
		length := ctrl>>5 + 2
		if length == 9 {
			if ip >= len(in) {
				return nil, ErrCorrupt
			}
			length += int(in[ip])
			ip++
		}
		if ip >= len(in) {
			return nil, ErrCorrupt
		}
		ref := (ctrl&0x1f)<<8 + int(in[ip]) + 1
		ip++
		if op < ref || op+length > outLen {
			return nil, ErrCorrupt
		}
		// byte-by-byte: source and destination may overlap
		for i := 0; i < length; i++ {
			out[op+i] = out[op-ref+i]
		}
		op += length
	}
	if op != outLen {
		return nil, ErrCorrupt
	}
	return out, nil
}

func writeUint64(w *bytes.Buffer, n uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	w.Write(buf[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrCorrupt
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeBinaryDouble(w *bytes.Buffer, f float64) {
	writeUint64(w, math.Float64bits(f))
}

func readBinaryDouble(r *bytes.Reader) (float64, error) {
	bits, err := readUint64(r)
	return math.Float64frombits(bits), err
}

// readLegacyDouble reads the pre-version-8 score form: a one-byte length
// and a decimal string, with 255/254/253 marking the non-finite values
func readLegacyDouble(r *bytes.Reader) (float64, error) {
	n, err := r.ReadByte()
	if err != nil {
		return 0, ErrCorrupt
	}
	switch n {
	case 255:
		return math.Inf(-1), nil
	case 254:
		return math.Inf(1), nil
	case 253:
		return math.NaN(), nil
	}
	if int(n) > r.Len() {
		return 0, ErrCorrupt
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, ErrCorrupt
	}
	f, err := strconv.ParseFloat(string(buf), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad score %q", ErrCorrupt, buf)
	}
	return f, nil
}

// Listpack blobs: u32 LE total bytes, u16 LE entry count, entries, 0xFF.
// The writer encodes every element as a string; an entry is the encoding
// byte(s), the payload, and a variable-length backlen.
func encodeListpack(items [][]byte) []byte {
	var entries bytes.Buffer
	count := uint16(0)
	for _, item := range items {
		switch n := len(item); {
		case n <= 63:
			entries.WriteByte(byte(n))
			entries.Write(item)
			listpackBacklen(&entries, uint32(1+n))
		case n <= 16383:
			entries.WriteByte(0x40 | byte(n>>8))
			entries.WriteByte(byte(n))
			entries.Write(item)
			listpackBacklen(&entries, uint32(2+n))
		default:
			entries.WriteByte(0x80)
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(n))
			entries.Write(buf[:])
			entries.Write(item)
			listpackBacklen(&entries, uint32(5+n))
		}
		count++
	}
	total := uint32(4 + 2 + entries.Len() + 1)
	out := make([]byte, 0, total)
	out = binary.LittleEndian.AppendUint32(out, total)
	out = binary.LittleEndian.AppendUint16(out, count)
	out = append(out, entries.Bytes()...)
	out = append(out, 0xFF)
	return out
}

func listpackBacklen(w *bytes.Buffer, n uint32) {
	switch {
	case n <= 127:
		w.WriteByte(byte(n))
	case n < 16383:
		w.WriteByte(byte(n>>7) | 0x80)
		w.WriteByte(byte(n) & 0x7f)
	default:
		var buf [5]byte
		i := 0
		for {
			buf[i] = byte(n) & 0x7f
			if i > 0 {
				buf[i] |= 0x80
			}
			n >>= 7
			i++
			if n == 0 {
				break
			}
		}
		for i--; i >= 0; i-- {
			w.WriteByte(buf[i])
		}
	}
}

// decodeListpack parses a listpack blob into its elements. ok is false
// when the blob is too short or an entry is truncated.
func decodeListpack(blob []byte) ([][]byte, bool) {
	if len(blob) < 7 {
		return nil, false
	}
	count := int(binary.LittleEndian.Uint16(blob[4:6]))
	pos := 6
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		val, next, ok := listpackEntry(blob, pos)
		if !ok {
			return nil, false
		}
		out = append(out, val)
		pos = next
	}
	return out, true
}

func listpackEntry(blob []byte, pos int) (val []byte, next int, ok bool) {
	if pos >= len(blob) {
		return nil, 0, false
	}
	enc := blob[pos]
	if enc == 0xFF {
		return nil, 0, false
	}
	switch {
	case enc&0x80 == 0: // 6-bit string length
		n := int(enc & 0x3f)
		pos++
		if pos+n > len(blob) {
			return nil, 0, false
		}
		val = blob[pos : pos+n]
		pos += n
	case enc&0xC0 == 0x40: // 14-bit string length
		if pos+1 >= len(blob) {
			return nil, 0, false
		}
		n := int(enc&0x3f)<<8 | int(blob[pos+1])
		pos += 2
		if pos+n > len(blob) {
			return nil, 0, false
		}
		val = blob[pos : pos+n]
		pos += n
	case enc&0xE0 == 0x80: // 32-bit big-endian string length
		if pos+4 >= len(blob) {
			return nil, 0, false
		}
		n := int(binary.BigEndian.Uint32(blob[pos+1 : pos+5]))
		pos += 5
		if pos+n > len(blob) {
			return nil, 0, false
		}
		val = blob[pos : pos+n]
		pos += n
	case enc&0xF0 == 0xF0: // small unsigned integer
		val = strconv.AppendInt(nil, int64(enc&0x0F)-1, 10)
		pos++
	case enc&0xE0 == 0xC0: // 13-bit signed integer
		if pos+1 >= len(blob) {
			return nil, 0, false
		}
		v := int16(uint16(enc&0x1F)<<8 | uint16(blob[pos+1]))
		if v&0x1000 != 0 {
			v |= ^int16(0x1FFF)
		}
		val = strconv.AppendInt(nil, int64(v), 10)
		pos += 2
	default:
		// unrecognized encoding: consume the byte as an empty element
		val = nil
		pos++
	}
	// backlen: continuation bytes carry the high bit
	for pos < len(blob) {
		b := blob[pos]
		pos++
		if b&0x80 == 0 {
			break
		}
	}
	return val, pos, true
}

// snapshotType picks the type byte a snapshot entry carries. Streams have
// no snapshot form; the append log carries them instead.
func snapshotType(m keyspace.Materialized) (byte, error) {
	switch m.Type {
	case keyspace.TypeString:
		return typeString, nil
	case keyspace.TypeList:
		return typeListQuicklist2, nil
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

// writeBody serializes the value content for the given type byte
func writeBody(w *bytes.Buffer, typ byte, m keyspace.Materialized) error {
	switch typ {
	case typeString:
		writeString(w, m.Str)
	case typeList:
		writeLength(w, uint64(len(m.List)))
		for _, el := range m.List {
			writeString(w, el)
		}
	case typeListQuicklist2:
		// a single PACKED node holding every element in one listpack
		writeLength(w, 1)
		writeLength(w, 2)
		writeString(w, encodeListpack(m.List))
	case typeSet:
		writeLength(w, uint64(len(m.Set)))
		for _, member := range m.Set {
			writeString(w, []byte(member))
		}
	case typeHash:
		writeLength(w, uint64(len(m.Hash)))
		for _, fv := range m.Hash {
			writeString(w, []byte(fv.Field))
			writeString(w, fv.Value)
		}
	case typeZSet2:
		writeLength(w, uint64(len(m.ZSet)))
		for _, sm := range m.ZSet {
			writeString(w, []byte(sm.Member))
			writeBinaryDouble(w, sm.Score)
		}
	default:
		return fmt.Errorf("cannot serialize type byte %d", typ)
	}
	return nil
}

// readBody deserializes one value body for the given type byte. A
// TypeNone result means the body was consumed but carries nothing to
// restore (the retired zipmap hash encoding).
func readBody(r *bytes.Reader, typ byte) (keyspace.Materialized, error) {
	var m keyspace.Materialized
	switch typ {
	case typeString:
		m.Type = keyspace.TypeString
		val, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Str = val
		return m, nil

	case typeList:
		m.Type = keyspace.TypeList
		n, err := readPlainLength(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < n; i++ {
			el, err := readString(r)
			if err != nil {
				return m, err
			}
			m.List = append(m.List, el)
		}
		return m, nil

	case typeListQuicklist, typeListQuicklist2:
		m.Type = keyspace.TypeList
		nodes, err := readPlainLength(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < nodes; i++ {
			if typ == typeListQuicklist2 {
				if _, err := readPlainLength(r); err != nil { // container kind
					return m, err
				}
			}
			node, err := readString(r)
			if err != nil {
				return m, err
			}
			if items, ok := decodeListpack(node); ok {
				m.List = append(m.List, items...)
			} else {
				m.List = append(m.List, node)
			}
		}
		return m, nil

	case typeListZiplist:
		m.Type = keyspace.TypeList
		blob, err := readString(r)
		if err != nil {
			return m, err
		}
		items, _ := decodeListpack(blob)
		m.List = items
		return m, nil

	case typeSet:
		m.Type = keyspace.TypeSet
		n, err := readPlainLength(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < n; i++ {
			member, err := readString(r)
			if err != nil {
				return m, err
			}
			m.Set = append(m.Set, string(member))
		}
		return m, nil

	case typeSetIntset:
		m.Type = keyspace.TypeSet
		blob, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Set = decodeIntset(blob)
		return m, nil

	case typeSetListpack:
		m.Type = keyspace.TypeSet
		blob, err := readString(r)
		if err != nil {
			return m, err
		}
		items, _ := decodeListpack(blob)
		for _, item := range items {
			m.Set = append(m.Set, string(item))
		}
		return m, nil

	case typeHash:
		m.Type = keyspace.TypeHash
		n, err := readPlainLength(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < n; i++ {
			field, err := readString(r)
			if err != nil {
				return m, err
			}
			val, err := readString(r)
			if err != nil {
				return m, err
			}
			m.Hash = append(m.Hash, keyspace.FieldValue{Field: string(field), Value: val})
		}
		return m, nil

	case typeHashZiplist, typeHashListpack:
		m.Type = keyspace.TypeHash
		blob, err := readString(r)
		if err != nil {
			return m, err
		}
		items, _ := decodeListpack(blob)
		for i := 0; i+1 < len(items); i += 2 {
			m.Hash = append(m.Hash, keyspace.FieldValue{Field: string(items[i]), Value: items[i+1]})
		}
		return m, nil

	case typeHashZipmap:
		// retired encoding: consume the blob, restore nothing
		if _, err := readString(r); err != nil {
			return m, err
		}
		return keyspace.Materialized{Type: keyspace.TypeNone}, nil

	case typeZSet, typeZSet2:
		m.Type = keyspace.TypeZSet
		n, err := readPlainLength(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < n; i++ {
			member, err := readString(r)
			if err != nil {
				return m, err
			}
			var score float64
			if typ == typeZSet2 {
				score, err = readBinaryDouble(r)
			} else {
				score, err = readLegacyDouble(r)
			}
			if err != nil {
				return m, err
			}
			m.ZSet = append(m.ZSet, keyspace.ScoredMember{Member: string(member), Score: score})
		}
		return m, nil

	case typeZSetZiplist, typeZSetListpack:
		m.Type = keyspace.TypeZSet
		blob, err := readString(r)
		if err != nil {
			return m, err
		}
		items, _ := decodeListpack(blob)
		for i := 0; i+1 < len(items); i += 2 {
			score, _ := strconv.ParseFloat(string(items[i+1]), 64)
			m.ZSet = append(m.ZSet, keyspace.ScoredMember{Member: string(items[i]), Score: score})
		}
		return m, nil
	}
	return m, fmt.Errorf("%w: unknown value type %d", ErrCorrupt, typ)
}

func decodeIntset(blob []byte) []string {
	if len(blob) < 8 {
		return nil
	}
	encoding := binary.LittleEndian.Uint32(blob[0:4])
	num := binary.LittleEndian.Uint32(blob[4:8])
	size := 8
	switch encoding {
	case 2:
		size = 2
	case 4:
		size = 4
	}
	members := make([]string, 0, num)
	for i := uint32(0); i < num; i++ {
		off := 8 + int(i)*size
		if off+size > len(blob) {
			break
		}
		var v int64
		switch size {
		case 2:
			v = int64(int16(binary.LittleEndian.Uint16(blob[off:])))
		case 4:
			v = int64(int32(binary.LittleEndian.Uint32(blob[off:])))
		default:
			v = int64(binary.LittleEndian.Uint64(blob[off:]))
		}
		members = append(members, strconv.FormatInt(v, 10))
	}
	return members
}

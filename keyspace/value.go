package keyspace

import "strconv"

// ValueType represents the stored data type of a key
type ValueType int

const (
	TypeNone ValueType = iota
	TypeString
	TypeList
	TypeSet
	TypeZSet
	TypeHash
	TypeStream
)

// String returns the wire-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	case TypeHash:
		return "hash"
	case TypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Encoding is the reported physical layout of a value. Composite values
// start in a compact encoding and convert to the generic one the first time
// an insertion crosses a configured threshold; the conversion is one-way.
type Encoding string

const (
	EncInt       Encoding = "int"
	EncEmbstr    Encoding = "embstr"
	EncRaw       Encoding = "raw"
	EncListpack  Encoding = "listpack"
	EncIntset    Encoding = "intset"
	EncHashtable Encoding = "hashtable"
	EncQuicklist Encoding = "quicklist"
	EncSkiplist  Encoding = "skiplist"
	EncStream    Encoding = "stream"
)

// value is the closed union over the supported data kinds. Exactly one
// concrete type implements it per ValueType; verbs type-switch on it and
// surface ErrWrongType on a mismatch.
type value interface {
	typeOf() ValueType
	encoding() Encoding
	clone() value
}

// Entry binds a value to its per-key metadata
type Entry struct {
	val      value
	expireAt int64 // absolute unix milliseconds; 0 = no expiry
	version  uint64
}

// Type returns the entry's value type
func (e *Entry) Type() ValueType {
	return e.val.typeOf()
}

// Encoding returns the entry's current encoding tag
func (e *Entry) Encoding() Encoding {
	return e.val.encoding()
}

// ExpireAt returns the absolute expiry in unix milliseconds, 0 for none
func (e *Entry) ExpireAt() int64 {
	return e.expireAt
}

// Version returns the entry's write version, used for optimistic watches
func (e *Entry) Version() uint64 {
	return e.version
}

// expiredAt reports whether the entry is logically dead at the given clock
func (e *Entry) expiredAt(nowMs int64) bool {
	return e.expireAt > 0 && e.expireAt <= nowMs
}

func (e *Entry) clone() *Entry {
	return &Entry{val: e.val.clone(), expireAt: e.expireAt, version: e.version}
}

// stringValue holds a string value. The encoding is derived: integers
// report "int", short strings "embstr", everything else "raw". APPEND and
// SETRANGE force the value raw permanently, matching reference behavior.
type stringValue struct {
	data     []byte
	forceRaw bool
}

func (v *stringValue) typeOf() ValueType { return TypeString }

func (v *stringValue) encoding() Encoding {
	if !v.forceRaw {
		if _, err := strconv.ParseInt(string(v.data), 10, 64); err == nil {
			return EncInt
		}
		if len(v.data) <= 44 {
			return EncEmbstr
		}
	}
	return EncRaw
}

func (v *stringValue) clone() value {
	return &stringValue{data: append([]byte(nil), v.data...), forceRaw: v.forceRaw}
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

func cloneByteSlices(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = cloneBytes(b)
	}
	return out
}

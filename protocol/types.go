package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 value types
	TypeNull      ValueType = '_'
	TypeBoolean   ValueType = '#'
	TypeDouble    ValueType = ','
	TypeBigNumber ValueType = '('
	TypeVerbatim  ValueType = '='
	TypeMap       ValueType = '%'
	TypeSet       ValueType = '~'
	TypePush      ValueType = '>'
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Double  float64
	Bool    bool
	Array   []Value // elements for arrays/sets/pushes; flattened key-value pairs for maps
	IsNull  bool
}

// Constructors for the common reply shapes.

// SimpleString returns a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// OK is the shared "+OK" reply
var OK = SimpleString("OK")

// Err returns an error value with the given message
func Err(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Errf returns a formatted error value prefixed with "ERR "
func Errf(format string, args ...interface{}) Value {
	return Err("ERR " + fmt.Sprintf(format, args...))
}

// Int returns an integer value
func Int(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk returns a bulk string value
func Bulk(data []byte) Value {
	return Value{Type: TypeBulkString, Data: data}
}

// BulkString returns a bulk string value from a string
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// Null returns the protocol null (RESP3 "_", RESP2 null bulk string)
func Null() Value {
	return Value{Type: TypeNull, IsNull: true}
}

// NullArray returns a null array (used for aborted transactions)
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// Boolean returns a boolean value
func Boolean(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// DoubleValue returns a double value
func DoubleValue(f float64) Value {
	return Value{Type: TypeDouble, Double: f}
}

// BigNumber returns a big number value from its decimal representation
func BigNumber(digits string) Value {
	return Value{Type: TypeBigNumber, Data: []byte(digits)}
}

// Verbatim returns a verbatim string value. The format must be a
// three-character tag such as "txt" or "mkd".
func Verbatim(format, body string) Value {
	return Value{Type: TypeVerbatim, Data: []byte(format + ":" + body)}
}

// ArrayValue returns an array value
func ArrayValue(elems ...Value) Value {
	return Value{Type: TypeArray, Array: elems}
}

// MapValue returns a map value from flattened key-value pairs
func MapValue(pairs ...Value) Value {
	return Value{Type: TypeMap, Array: pairs}
}

// SetReply returns a set value
func SetReply(elems ...Value) Value {
	return Value{Type: TypeSet, Array: elems}
}

// Push returns a push frame value
func Push(elems ...Value) Value {
	return Value{Type: TypePush, Array: elems}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError, TypeBigNumber:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case TypeBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeBulkString, TypeVerbatim:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray, TypeMap, TypeSet, TypePush:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeNull:
		return "(nil)"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// ErrorMessage returns the error message if this is an error value
func (v Value) ErrorMessage() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

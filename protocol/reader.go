package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// CRLF is the RESP line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (1GB)
	maxBulkSize = 1024 * 1024 * 1024

	// maxArraySize is the maximum element count for aggregate types
	maxArraySize = 1024 * 1024
)

var crlfBytes = []byte(CRLF)

// Reader is a streaming RESP reader that parses protocol frames without
// unnecessary allocations. It understands both RESP2 and RESP3 framing.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReader(r),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString, TypeError, TypeBigNumber:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueType(typeByte), Data: line}, nil
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString(TypeBulkString)
	case TypeVerbatim:
		return r.readBulkString(TypeVerbatim)
	case TypeArray:
		return r.readAggregate(TypeArray, 1)
	case TypeSet:
		return r.readAggregate(TypeSet, 1)
	case TypePush:
		return r.readAggregate(TypePush, 1)
	case TypeMap:
		return r.readAggregate(TypeMap, 2)
	case TypeNull:
		if _, err := r.readLine(); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeNull, IsNull: true}, nil
	case TypeBoolean:
		return r.readBoolean()
	case TypeDouble:
		return r.readDouble()
	default:
		if typeByte == 0 {
			return Value{}, fmt.Errorf("unknown RESP type: empty byte (connection may be closed)")
		}
		return Value{}, fmt.Errorf("unknown RESP type: %c (0x%02x)", typeByte, typeByte)
	}
}

// ReadCommand reads the next value and parses it as a command
func (r *Reader) ReadCommand() (*Command, error) {
	v, err := r.ReadNext()
	if err != nil {
		return nil, err
	}
	return ParseCommand(v)
}

func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid integer: %s", line)
	}

	return Value{Type: TypeInteger, Integer: integer}, nil
}

func (r *Reader) readBoolean() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	if len(line) != 1 || (line[0] != 't' && line[0] != 'f') {
		return Value{}, fmt.Errorf("invalid boolean: %s", line)
	}
	return Value{Type: TypeBoolean, Bool: line[0] == 't'}, nil
}

func (r *Reader) readDouble() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	f, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid double: %s", line)
	}
	return Value{Type: TypeDouble, Double: f}, nil
}

func (r *Reader) readBulkString(typ ValueType) (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid bulk string length: %s", line)
	}

	// RESP2 null bulk string
	if length == -1 {
		return Value{Type: typ, IsNull: true}, nil
	}

	if length < 0 || length > maxBulkSize {
		return Value{}, fmt.Errorf("invalid bulk string length: %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}

	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}

	return Value{Type: typ, Data: data}, nil
}

// readAggregate reads an array-like frame. Maps carry two stored elements
// per logical entry, so stride is 2 for TypeMap and 1 otherwise.
func (r *Reader) readAggregate(typ ValueType, stride int64) (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid aggregate length: %s", line)
	}

	// RESP2 null array
	if length == -1 {
		return Value{Type: typ, IsNull: true}, nil
	}

	if length < 0 || length > maxArraySize {
		return Value{}, fmt.Errorf("invalid aggregate length: %d", length)
	}

	elems := make([]Value, length*stride)
	for i := int64(0); i < length*stride; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, err
		}
		elems[i] = value
	}

	return Value{Type: typ, Array: elems}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read line: %w", err)
	}

	if len(line) < 2 || !bytes.HasSuffix(line, crlfBytes) {
		return nil, fmt.Errorf("missing CRLF terminator")
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates the CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	n, err := io.ReadFull(r.br, crlf)
	if err != nil {
		return fmt.Errorf("failed to read CRLF terminator (read %d/2 bytes): %w", n, err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return fmt.Errorf("expected CRLF terminator [13, 10], got [%d, %d]", crlf[0], crlf[1])
	}

	return nil
}

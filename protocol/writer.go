package protocol

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Writer provides efficient writing of RESP protocol messages.
//
// A Writer starts in RESP2 mode. After a session negotiates RESP3 the caller
// switches the writer with SetProtocol(3); RESP3-only value kinds are then
// emitted natively instead of being downgraded.
type Writer struct {
	bw    *bufio.Writer
	proto int
}

// NewWriter creates a new RESP protocol writer in RESP2 mode
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:    bufio.NewWriter(w),
		proto: 2,
	}
}

// SetProtocol sets the negotiated protocol version (2 or 3)
func (w *Writer) SetProtocol(version int) error {
	if version != 2 && version != 3 {
		return fmt.Errorf("unsupported protocol version: %d", version)
	}
	w.proto = version
	return nil
}

// Protocol returns the negotiated protocol version
func (w *Writer) Protocol() int {
	return w.proto
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.WriteSimpleString(string(v.Data))
	case TypeError:
		return w.WriteError(string(v.Data))
	case TypeInteger:
		return w.WriteInteger(v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return w.WriteNull()
		}
		return w.WriteBulkString(v.Data)
	case TypeArray:
		if v.IsNull {
			return w.WriteNullArray()
		}
		return w.writeAggregate('*', len(v.Array), v.Array)
	case TypeNull:
		return w.WriteNull()
	case TypeBoolean:
		return w.WriteBoolean(v.Bool)
	case TypeDouble:
		return w.WriteDouble(v.Double)
	case TypeBigNumber:
		return w.WriteBigNumber(string(v.Data))
	case TypeVerbatim:
		return w.WriteVerbatim(v.Data)
	case TypeMap:
		return w.WriteMap(v.Array)
	case TypeSet:
		return w.WriteSet(v.Array)
	case TypePush:
		return w.WritePush(v.Array)
	default:
		return fmt.Errorf("unsupported value type: %c", v.Type)
	}
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.writeLine('+', s)
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.writeLine('-', msg)
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.writeLine(':', strconv.FormatInt(n, 10))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	if err := w.writeLine('$', strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteBulkStringFromString writes a bulk string from a string
func (w *Writer) WriteBulkStringFromString(s string) error {
	return w.WriteBulkString([]byte(s))
}

// WriteNull writes the protocol null: "_" in RESP3, null bulk in RESP2
func (w *Writer) WriteNull() error {
	if w.proto >= 3 {
		return w.writeLine('_', "")
	}
	return w.writeLine('$', "-1")
}

// WriteNullArray writes a null array ("*-1" in both protocol versions,
// preserved in RESP3 for EXEC abort compatibility)
func (w *Writer) WriteNullArray() error {
	if w.proto >= 3 {
		return w.writeLine('_', "")
	}
	return w.writeLine('*', "-1")
}

// WriteBoolean writes a boolean; RESP2 clients receive :1 / :0
func (w *Writer) WriteBoolean(b bool) error {
	if w.proto >= 3 {
		if b {
			return w.writeLine('#', "t")
		}
		return w.writeLine('#', "f")
	}
	if b {
		return w.WriteInteger(1)
	}
	return w.WriteInteger(0)
}

// WriteDouble writes a double; RESP2 clients receive a bulk string
func (w *Writer) WriteDouble(f float64) error {
	var s string
	switch {
	case math.IsInf(f, 1):
		s = "inf"
	case math.IsInf(f, -1):
		s = "-inf"
	default:
		s = strconv.FormatFloat(f, 'g', -1, 64)
	}
	if w.proto >= 3 {
		return w.writeLine(',', s)
	}
	return w.WriteBulkStringFromString(s)
}

// WriteBigNumber writes a big number; RESP2 clients receive a bulk string
func (w *Writer) WriteBigNumber(digits string) error {
	if w.proto >= 3 {
		return w.writeLine('(', digits)
	}
	return w.WriteBulkStringFromString(digits)
}

// WriteVerbatim writes a verbatim string ("fmt:body"); RESP2 clients receive
// a plain bulk string without the format tag
func (w *Writer) WriteVerbatim(data []byte) error {
	if w.proto >= 3 {
		if err := w.writeLine('=', strconv.Itoa(len(data))); err != nil {
			return err
		}
		if _, err := w.bw.Write(data); err != nil {
			return err
		}
		return w.writeCRLF()
	}
	body := data
	if len(data) > 4 && data[3] == ':' {
		body = data[4:]
	}
	return w.WriteBulkString(body)
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.writeAggregate('*', len(values), values)
}

// WriteMap writes a map from flattened key-value pairs; RESP2 clients
// receive a flat array
func (w *Writer) WriteMap(pairs []Value) error {
	if w.proto >= 3 {
		return w.writeAggregate('%', len(pairs)/2, pairs)
	}
	return w.writeAggregate('*', len(pairs), pairs)
}

// WriteSet writes a set; RESP2 clients receive an array
func (w *Writer) WriteSet(values []Value) error {
	if w.proto >= 3 {
		return w.writeAggregate('~', len(values), values)
	}
	return w.writeAggregate('*', len(values), values)
}

// WritePush writes a push frame; RESP2 clients receive an array
func (w *Writer) WritePush(values []Value) error {
	if w.proto >= 3 {
		return w.writeAggregate('>', len(values), values)
	}
	return w.writeAggregate('*', len(values), values)
}

// WriteCommand writes a command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	if err := w.writeLine('*', strconv.Itoa(1+len(args))); err != nil {
		return err
	}
	if err := w.WriteBulkStringFromString(cmd); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.WriteBulkStringFromString(arg); err != nil {
			return err
		}
	}
	return nil
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteSimpleString("OK")
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}

func (w *Writer) writeAggregate(marker byte, count int, values []Value) error {
	if err := w.writeLine(marker, strconv.Itoa(count)); err != nil {
		return err
	}
	for _, value := range values {
		if err := w.WriteValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeLine(marker byte, s string) error {
	if err := w.bw.WriteByte(marker); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) writeCRLF() error {
	_, err := w.bw.WriteString(CRLF)
	return err
}

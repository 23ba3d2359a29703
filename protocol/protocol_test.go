package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/protocol"
)

func encode(t *testing.T, proto int, v protocol.Value) string {
	t.Helper()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	require.NoError(t, w.SetProtocol(proto))
	require.NoError(t, w.WriteValue(v))
	require.NoError(t, w.Flush())
	return buf.String()
}

func TestWriteValueRESP2(t *testing.T) {
	tests := []struct {
		name string
		v    protocol.Value
		want string
	}{
		{"simple string", protocol.OK, "+OK\r\n"},
		{"error", protocol.Err("ERR boom"), "-ERR boom\r\n"},
		{"integer", protocol.Int(42), ":42\r\n"},
		{"bulk", protocol.BulkString("hi"), "$2\r\nhi\r\n"},
		{"empty bulk", protocol.BulkString(""), "$0\r\n\r\n"},
		{"null", protocol.Null(), "$-1\r\n"},
		{"null array", protocol.NullArray(), "*-1\r\n"},
		{"array", protocol.ArrayValue(protocol.Int(1), protocol.BulkString("a")), "*2\r\n:1\r\n$1\r\na\r\n"},
		{"bool true downgrades", protocol.Boolean(true), ":1\r\n"},
		{"double downgrades", protocol.DoubleValue(1.5), "$3\r\n1.5\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encode(t, 2, tt.v))
		})
	}
}

func TestWriteValueRESP3(t *testing.T) {
	tests := []struct {
		name string
		v    protocol.Value
		want string
	}{
		{"null", protocol.Null(), "_\r\n"},
		{"bool", protocol.Boolean(true), "#t\r\n"},
		{"double", protocol.DoubleValue(1.5), ",1.5\r\n"},
		{"map", protocol.MapValue(protocol.BulkString("k"), protocol.Int(1)), "%1\r\n$1\r\nk\r\n:1\r\n"},
		{"set", protocol.SetReply(protocol.BulkString("m")), "~1\r\n$1\r\nm\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encode(t, 3, tt.v))
		})
	}
}

func TestReaderRoundTrip(t *testing.T) {
	values := []protocol.Value{
		protocol.OK,
		protocol.Int(-7),
		protocol.BulkString("payload"),
		protocol.ArrayValue(protocol.Int(1), protocol.Int(2)),
	}
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	for _, v := range values {
		require.NoError(t, w.WriteValue(v))
	}
	require.NoError(t, w.Flush())

	r := protocol.NewReader(&buf)
	for _, want := range values {
		got, err := r.ReadNext()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.ReadNext()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadCommand(t *testing.T) {
	r := protocol.NewReader(bytes.NewReader([]byte("*3\r\n$3\r\nset\r\n$1\r\nk\r\n$1\r\nv\r\n")))
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Name)
	require.Len(t, cmd.Args, 2)
	assert.Equal(t, "k", string(cmd.Args[0]))
	assert.Equal(t, "v", string(cmd.Args[1]))
}

func TestParseCommandRejectsNonBulk(t *testing.T) {
	_, err := protocol.ParseCommand(protocol.ArrayValue(protocol.Int(1)))
	assert.Error(t, err)

	_, err = protocol.ParseCommand(protocol.Int(1))
	assert.Error(t, err)
}

func TestEncodedCommandSizeMatchesEncoder(t *testing.T) {
	tests := [][]string{
		{"PING"},
		{"SET", "k", "v"},
		{"SET", "key", ""},
		{"PEXPIREAT", "some-longer-key-name", "1700000000000"},
	}
	for _, args := range tests {
		cmd := protocol.NewCommand(args[0], args[1:]...)
		encoded := protocol.EncodeCommand(cmd.Argv())
		assert.Equal(t, len(encoded), protocol.EncodedCommandSize(cmd.Argv()), "args %v", args)

		// the encoding must decode back to the same command
		r := protocol.NewReader(bytes.NewReader(encoded))
		back, err := r.ReadCommand()
		require.NoError(t, err)
		assert.Equal(t, cmd.Name, back.Name)
	}
}

func TestReaderRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown type byte", "?1\r\n"},
		{"bulk without CRLF", "$2\r\nhiXX"},
		{"negative bulk length", "$-5\r\n"},
		{"bad integer", ":abc\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := protocol.NewReader(bytes.NewReader([]byte(tt.input)))
			_, err := r.ReadNext()
			assert.Error(t, err)
		})
	}
}

func TestVerbatimDowngradesToBulk(t *testing.T) {
	v := protocol.Verbatim("txt", "hello")
	assert.Equal(t, "$5\r\nhello\r\n", encode(t, 2, v))
	assert.Equal(t, "=9\r\ntxt:hello\r\n", encode(t, 3, v))
}

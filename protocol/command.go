package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command represents a command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	// First element is the command name
	if v.Array[0].Type != TypeBulkString {
		return nil, fmt.Errorf("command name must be bulk string")
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	// Remaining elements are arguments
	for i := 1; i < len(v.Array); i++ {
		if v.Array[i].Type != TypeBulkString {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}

// Argv returns the full argument vector, command name included, in the
// form the wire encoder expects
func (c *Command) Argv() [][]byte {
	argv := make([][]byte, 0, len(c.Args)+1)
	argv = append(argv, []byte(c.Name))
	return append(argv, c.Args...)
}

// NewCommand builds a Command from string arguments
func NewCommand(name string, args ...string) Command {
	cmd := Command{Name: strings.ToUpper(name)}
	for _, a := range args {
		cmd.Args = append(cmd.Args, []byte(a))
	}
	return cmd
}

// NewCommandBytes builds a Command from byte-slice arguments
func NewCommandBytes(name string, args ...[]byte) Command {
	return Command{Name: strings.ToUpper(name), Args: args}
}

// EncodeCommand encodes a full argument vector (command name included) as a
// RESP array of bulk strings. This is the canonical wire form shared by the
// live replication stream and the append-only log.
func EncodeCommand(args [][]byte) []byte {
	buf := make([]byte, 0, EncodedCommandSize(args))
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

// EncodeCommandStrings encodes a command given as strings
func EncodeCommandStrings(args ...string) []byte {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return EncodeCommand(raw)
}

// EncodedCommandSize returns the exact number of bytes EncodeCommand will
// produce for the given argument vector. Replication offsets advance by this
// amount per propagated record, so the size computation must match the
// encoder byte for byte.
func EncodedCommandSize(args [][]byte) int {
	total := 1 + digits(len(args)) + 2
	for _, a := range args {
		total += 1 + digits(len(a)) + 2 + len(a) + 2
	}
	return total
}

func digits(n int) int {
	if n == 0 {
		return 1
	}
	d := 0
	for n > 0 {
		d++
		n /= 10
	}
	return d
}

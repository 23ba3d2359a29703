package engine

import (
	"github.com/halcyonkv/halcyon/protocol"
)

type cmdFlag uint8

const (
	// flagWrite marks commands that may mutate the keyspace
	flagWrite cmdFlag = 1 << iota
	// flagImmediate marks commands that run even while a MULTI is open
	flagImmediate
	// flagNoScript marks commands redis.call may not invoke
	flagNoScript
	// flagAdmin marks server-control commands exempt from slot routing
	// and replica fences
	flagAdmin
)

// command is one entry of the dispatch table. Arity follows the wire
// convention: positive is the exact argument count including the name,
// negative is the minimum. firstKey/lastKey/keyStep locate the key
// positions for slot routing; lastKey -1 means "through the final
// argument", firstKey 0 means no keys.
type command struct {
	name    string
	arity   int
	flags   cmdFlag
	firstKey, lastKey, keyStep int
	handler func(x *Executor, inv *invocation) protocol.Value
}

var commands = make(map[string]*command)

func register(cmds ...*command) {
	for _, c := range cmds {
		commands[c.name] = c
	}
}

func lookupCommand(name string) *command {
	return commands[name]
}

func (c *command) arityOK(argc int) bool {
	if c.arity >= 0 {
		return argc == c.arity
	}
	return argc >= -c.arity
}

// keys returns the key arguments of an invocation per the table entry
func (c *command) keys(args [][]byte) []string {
	if c.firstKey == 0 {
		return nil
	}
	last := c.lastKey
	if last < 0 {
		last = len(args) + last + 1
	}
	step := c.keyStep
	if step == 0 {
		step = 1
	}
	var out []string
	for i := c.firstKey; i <= last && i <= len(args); i += step {
		out = append(out, string(args[i-1]))
	}
	return out
}

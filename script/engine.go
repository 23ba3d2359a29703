// Package script provides Lua script execution at the effect-capture
// boundary. Scripts interact with the keyspace only through redis.call
// and redis.pcall, which dispatch into the executor like any client
// command; the writes a script performs are captured and propagated as
// ordinary canonical records, and the script source itself never enters
// the replication stream.
package script

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	lua "github.com/yuin/gopher-lua"

	"github.com/halcyonkv/halcyon/protocol"
)

var (
	// ErrNoScript reports EVALSHA for an uncached script
	ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

	// ErrBusy gates commands while a script runs
	ErrBusy = errors.New("BUSY A script is currently running. Use SCRIPT KILL to terminate it.")

	// ErrNotBusy reports SCRIPT KILL with nothing running
	ErrNotBusy = errors.New("NOTBUSY No scripts in execution right now.")

	// ErrKilled reports a script stopped by SCRIPT KILL
	ErrKilled = errors.New("UNKILLABLE Script killed by user")
)

// CallFunc executes one command issued from inside a script. The full
// argument vector includes the command name.
type CallFunc func(args [][]byte) (protocol.Value, error)

// Engine runs Lua scripts and caches their bodies by SHA1
type Engine struct {
	scripts *xsync.MapOf[string, string]

	mu     sync.Mutex
	busy   atomic.Bool
	cancel context.CancelFunc
}

// NewEngine creates an Engine with an empty script cache
func NewEngine() *Engine {
	return &Engine{scripts: xsync.NewMapOf[string, string]()}
}

// Load caches a script body and returns its SHA1 in lowercase hex
func (e *Engine) Load(body string) string {
	sum := fmt.Sprintf("%x", sha1.Sum([]byte(body)))
	e.scripts.Store(sum, body)
	return sum
}

// Exists reports which of the given SHA1 digests are cached
func (e *Engine) Exists(digests ...string) []bool {
	out := make([]bool, len(digests))
	for i, d := range digests {
		_, out[i] = e.scripts.Load(d)
	}
	return out
}

// Flush empties the script cache
func (e *Engine) Flush() {
	e.scripts.Clear()
}

// Busy reports whether a script is currently executing
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Kill stops the running script. The interrupted Eval fails with a
// context error which the executor reports as a killed script.
func (e *Engine) Kill() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.busy.Load() || e.cancel == nil {
		return ErrNotBusy
	}
	e.cancel()
	return nil
}

// EvalSHA runs a cached script by digest
func (e *Engine) EvalSHA(ctx context.Context, digest string, keys, args []string, call CallFunc) (protocol.Value, error) {
	body, ok := e.scripts.Load(digest)
	if !ok {
		return protocol.Value{}, ErrNoScript
	}
	return e.Eval(ctx, body, keys, args, call)
}

// Eval runs a script body, caching it as EVAL does. Only one script runs
// at a time; the busy flag is what the executor's command gate reads.
func (e *Engine) Eval(ctx context.Context, body string, keys, args []string, call CallFunc) (protocol.Value, error) {
	e.Load(body)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.busy.Store(true)
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.busy.Store(false)
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(runCtx)

	e.setupEnv(L, keys, args, call)

	if err := L.DoString(body); err != nil {
		if runCtx.Err() != nil {
			return protocol.Value{}, ErrKilled
		}
		return protocol.Value{}, fmt.Errorf("ERR Error running script: %v", err)
	}
	return fromLua(L.Get(-1)), nil
}

func (e *Engine) setupEnv(L *lua.LState, keys, args []string, call CallFunc) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	dispatch := func(L *lua.LState) (protocol.Value, error) {
		argc := L.GetTop()
		if argc == 0 {
			return protocol.Value{}, errors.New("wrong number of arguments")
		}
		argv := make([][]byte, argc)
		for i := 1; i <= argc; i++ {
			switch v := L.Get(i).(type) {
			case lua.LString:
				argv[i-1] = []byte(v)
			case lua.LNumber:
				argv[i-1] = []byte(v.String())
			default:
				return protocol.Value{}, errors.New("Lua command arguments must be strings or integers")
			}
		}
		return call(argv)
	}

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			res, err := dispatch(L)
			if err != nil {
				L.Error(lua.LString(err.Error()), 1)
				return 0
			}
			L.Push(toLua(L, res))
			return 1
		},
		"pcall": func(L *lua.LState) int {
			res, err := dispatch(L)
			if err != nil {
				errTable := L.NewTable()
				errTable.RawSetString("err", lua.LString(err.Error()))
				L.Push(errTable)
				return 1
			}
			L.Push(toLua(L, res))
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			errTable := L.NewTable()
			errTable.RawSetString("err", lua.LString(L.ToString(1)))
			L.Push(errTable)
			return 1
		},
		"status_reply": func(L *lua.LState) int {
			okTable := L.NewTable()
			okTable.RawSetString("ok", lua.LString(L.ToString(1)))
			L.Push(okTable)
			return 1
		},
		"sha1hex": func(L *lua.LState) int {
			L.Push(lua.LString(fmt.Sprintf("%x", sha1.Sum([]byte(L.ToString(1))))))
			return 1
		},
	})
	L.SetGlobal("redis", redisTable)
}

// toLua converts a command reply into its Lua form
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(v.Data))
		return t
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeBulkString:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	case protocol.TypeArray, protocol.TypeSet, protocol.TypePush:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.NewTable()
		for i, el := range v.Array {
			t.RawSetInt(i+1, toLua(L, el))
		}
		return t
	case protocol.TypeNull:
		return lua.LFalse
	case protocol.TypeBoolean:
		if v.Bool {
			return lua.LNumber(1)
		}
		return lua.LFalse
	case protocol.TypeDouble:
		return lua.LNumber(v.Double)
	}
	return lua.LNil
}

// fromLua converts a script's return value into a command reply,
// following the canonical truncation rules: numbers become integers,
// tables convert element-wise until the first nil, and boolean true
// becomes 1 while false becomes the null reply.
func fromLua(v lua.LValue) protocol.Value {
	switch lv := v.(type) {
	case lua.LNumber:
		return protocol.Int(int64(lv))
	case lua.LString:
		return protocol.Bulk([]byte(lv))
	case lua.LBool:
		if lv {
			return protocol.Int(1)
		}
		return protocol.Null()
	case *lua.LTable:
		if errMsg := lv.RawGetString("err"); errMsg != lua.LNil {
			return protocol.Err(errMsg.String())
		}
		if status := lv.RawGetString("ok"); status != lua.LNil {
			return protocol.SimpleString(status.String())
		}
		out := make([]protocol.Value, 0, lv.Len())
		for i := 1; ; i++ {
			el := lv.RawGetInt(i)
			if el == lua.LNil {
				break
			}
			out = append(out, fromLua(el))
		}
		return protocol.ArrayValue(out...)
	}
	return protocol.Null()
}

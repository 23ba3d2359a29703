package engine

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/protocol"
)

func init() {
	register(
		&command{name: "EVAL", arity: -3, flags: flagWrite | flagNoScript, handler: cmdEval},
		&command{name: "EVALSHA", arity: -3, flags: flagWrite | flagNoScript, handler: cmdEvalSHA},
		&command{name: "SCRIPT", arity: -2, flags: flagNoScript | flagImmediate, handler: cmdScript},
	)
}

func scriptKeysArgs(inv *invocation) ([]string, []string, *protocol.Value) {
	nkeys, err := parseInt(inv.arg(1))
	if err != nil {
		verr := errReply(err)
		return nil, nil, &verr
	}
	if nkeys < 0 {
		verr := protocol.Err("ERR Number of keys can't be negative")
		return nil, nil, &verr
	}
	if int(nkeys) > inv.argc()-2 {
		verr := protocol.Err("ERR Number of keys can't be greater than number of args")
		return nil, nil, &verr
	}
	toStr := func(b []byte, _ int) string { return string(b) }
	keys := lo.Map(inv.cmd.Args[2:2+nkeys], toStr)
	args := lo.Map(inv.cmd.Args[2+nkeys:], toStr)
	return keys, args, nil
}

// runScript executes a script body with the clock frozen, dispatching
// redis.call through the command pipeline so every write is captured on
// inv and propagated as primitive effects. The script source never
// reaches the replication stream.
func (x *Executor) runScript(inv *invocation, bySHA bool, body string, keys, args []string) protocol.Value {
	x.store.FreezeClock(x.store.Now())
	defer x.store.ThawClock()

	call := func(argv [][]byte) (protocol.Value, error) {
		cmd := protocol.Command{Name: string(argv[0]), Args: argv[1:]}
		scriptInv := &invocation{sess: inv.sess, inScript: true}
		reply := x.dispatch(scriptInv, cmd)
		inv.effects = append(inv.effects, scriptInv.effects...)
		if reply.IsError() {
			return protocol.Value{}, protocolError(reply.ErrorMessage())
		}
		return reply, nil
	}

	var (
		res protocol.Value
		err error
	)
	if bySHA {
		res, err = x.scripts.EvalSHA(context.Background(), body, keys, args, call)
	} else {
		res, err = x.scripts.Eval(context.Background(), body, keys, args, call)
	}
	if err != nil {
		return errReply(err)
	}
	return res
}

func cmdEval(x *Executor, inv *invocation) protocol.Value {
	keys, args, verr := scriptKeysArgs(inv)
	if verr != nil {
		return *verr
	}
	return x.runScript(inv, false, inv.argStr(0), keys, args)
}

func cmdEvalSHA(x *Executor, inv *invocation) protocol.Value {
	keys, args, verr := scriptKeysArgs(inv)
	if verr != nil {
		return *verr
	}
	return x.runScript(inv, true, strings.ToLower(inv.argStr(0)), keys, args)
}

func cmdScript(x *Executor, inv *invocation) protocol.Value {
	switch upperArg(inv.arg(0)) {
	case "LOAD":
		if inv.argc() != 2 {
			return wrongArity("SCRIPT")
		}
		return protocol.BulkString(x.scripts.Load(inv.argStr(1)))
	case "EXISTS":
		if inv.argc() < 2 {
			return wrongArity("SCRIPT")
		}
		digests := lo.Map(inv.cmd.Args[1:], func(b []byte, _ int) string {
			return strings.ToLower(string(b))
		})
		return protocol.ArrayValue(lo.Map(x.scripts.Exists(digests...), func(hit bool, _ int) protocol.Value {
			if hit {
				return protocol.Int(1)
			}
			return protocol.Int(0)
		})...)
	case "FLUSH":
		x.scripts.Flush()
		return protocol.OK
	case "KILL":
		// the busy path is handled before the executor lock; reaching
		// here means no script is running
		if err := x.scripts.Kill(); err != nil {
			return errReply(err)
		}
		return protocol.OK
	default:
		return protocol.Err("ERR Unknown SCRIPT subcommand or wrong number of arguments for '" + inv.argStr(0) + "'")
	}
}

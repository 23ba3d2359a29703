package engine

import (
	"math"
	"strconv"
	"strings"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "GET", arity: 2, firstKey: 1, lastKey: 1, handler: cmdGet},
		&command{name: "SET", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSet},
		&command{name: "SETNX", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSetNX},
		&command{name: "SETEX", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSetEX},
		&command{name: "PSETEX", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdPSetEX},
		&command{name: "GETSET", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdGetSet},
		&command{name: "GETDEL", arity: 2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdGetDel},
		&command{name: "GETEX", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdGetEx},
		&command{name: "MSET", arity: -3, flags: flagWrite, firstKey: 1, lastKey: -1, keyStep: 2, handler: cmdMSet},
		&command{name: "APPEND", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdAppend},
		&command{name: "STRLEN", arity: 2, firstKey: 1, lastKey: 1, handler: cmdStrLen},
		&command{name: "SETRANGE", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSetRange},
		&command{name: "GETRANGE", arity: 4, firstKey: 1, lastKey: 1, handler: cmdGetRange},
		&command{name: "INCR", arity: 2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdIncr},
		&command{name: "DECR", arity: 2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdDecr},
		&command{name: "INCRBY", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdIncrBy},
		&command{name: "DECRBY", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdDecrBy},
		&command{name: "INCRBYFLOAT", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdIncrByFloat},
	)
}

func cmdGet(x *Executor, inv *invocation) protocol.Value {
	val, ok, err := x.store.Get(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return bulkOrNull(val, ok)
}

// parseSetOptions reads the SET modifiers starting at arg index from.
// Relative expiries resolve against the store clock so the captured
// effect is absolute.
func (x *Executor) parseSetOptions(inv *invocation, from int) (keyspace.SetOptions, error) {
	var opts keyspace.SetOptions
	for i := from; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GET":
			opts.Get = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			unit := upperArg(inv.arg(i))
			if i+1 >= inv.argc() {
				return opts, errSyntax
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil {
				return opts, err
			}
			i++
			switch unit {
			case "EX":
				opts.ExpireAt = x.nowMs() + n*1000
			case "PX":
				opts.ExpireAt = x.nowMs() + n
			case "EXAT":
				opts.ExpireAt = n * 1000
			case "PXAT":
				opts.ExpireAt = n
			}
		default:
			return opts, errSyntax
		}
	}
	if opts.NX && opts.XX {
		return opts, errSyntax
	}
	return opts, nil
}

var errSyntax = protocolError("syntax error")

func cmdSet(x *Executor, inv *invocation) protocol.Value {
	opts, err := x.parseSetOptions(inv, 2)
	if err != nil {
		return errReply(err)
	}
	key, val := inv.argStr(0), inv.arg(1)
	res, err := x.store.Set(inv.sess.db, key, val, opts)
	if err != nil {
		return errReply(err)
	}
	if res.DidSet {
		inv.emit(repl.SetRecord(key, val, opts.ExpireAt, opts.KeepTTL))
	}
	if opts.Get {
		return bulkOrNull(res.Previous, res.HadPrev)
	}
	if !res.DidSet {
		return protocol.Null()
	}
	return protocol.OK
}

func cmdSetNX(x *Executor, inv *invocation) protocol.Value {
	key, val := inv.argStr(0), inv.arg(1)
	res, err := x.store.Set(inv.sess.db, key, val, keyspace.SetOptions{NX: true})
	if err != nil {
		return errReply(err)
	}
	if !res.DidSet {
		return protocol.Int(0)
	}
	inv.emit(repl.SetRecord(key, val, 0, false))
	return protocol.Int(1)
}

func cmdSetEX(x *Executor, inv *invocation) protocol.Value {
	return x.setWithTTL(inv, 1000)
}

func cmdPSetEX(x *Executor, inv *invocation) protocol.Value {
	return x.setWithTTL(inv, 1)
}

func (x *Executor) setWithTTL(inv *invocation, unitMs int64) protocol.Value {
	n, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if n <= 0 {
		return protocol.Err("ERR invalid expire time in '" + strings.ToLower(inv.cmd.Name) + "' command")
	}
	key, val := inv.argStr(0), inv.arg(2)
	atMs := x.nowMs() + n*unitMs
	if _, err := x.store.Set(inv.sess.db, key, val, keyspace.SetOptions{ExpireAt: atMs}); err != nil {
		return errReply(err)
	}
	inv.emit(repl.SetRecord(key, val, atMs, false))
	return protocol.OK
}

func cmdGetSet(x *Executor, inv *invocation) protocol.Value {
	key, val := inv.argStr(0), inv.arg(1)
	res, err := x.store.Set(inv.sess.db, key, val, keyspace.SetOptions{Get: true})
	if err != nil {
		return errReply(err)
	}
	inv.emit(repl.SetRecord(key, val, 0, false))
	return bulkOrNull(res.Previous, res.HadPrev)
}

func cmdGetDel(x *Executor, inv *invocation) protocol.Value {
	key := inv.argStr(0)
	val, ok, err := x.store.GetDel(inv.sess.db, key)
	if err != nil {
		return errReply(err)
	}
	if ok {
		inv.emit(repl.DelRecord(key))
	}
	return bulkOrNull(val, ok)
}

func cmdGetEx(x *Executor, inv *invocation) protocol.Value {
	key := inv.argStr(0)
	persistTTL := false
	atMs := int64(0)
	touchTTL := false
	for i := 1; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "PERSIST":
			persistTTL = true
			touchTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			unit := upperArg(inv.arg(i))
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			i++
			touchTTL = true
			switch unit {
			case "EX":
				atMs = x.nowMs() + n*1000
			case "PX":
				atMs = x.nowMs() + n
			case "EXAT":
				atMs = n * 1000
			case "PXAT":
				atMs = n
			}
		default:
			return syntaxError()
		}
	}
	val, ok, err := x.store.GetEx(inv.sess.db, key, atMs, persistTTL)
	if err != nil {
		return errReply(err)
	}
	if ok && touchTTL {
		if persistTTL {
			inv.emit(repl.PersistRecord(key))
		} else {
			inv.emit(repl.PExpireAtRecord(key, atMs))
		}
	}
	return bulkOrNull(val, ok)
}

func cmdMSet(x *Executor, inv *invocation) protocol.Value {
	if inv.argc()%2 != 0 {
		return wrongArity("MSET")
	}
	for i := 0; i < inv.argc(); i += 2 {
		key, val := inv.argStr(i), inv.arg(i+1)
		if _, err := x.store.Set(inv.sess.db, key, val, keyspace.SetOptions{}); err != nil {
			return errReply(err)
		}
		inv.emit(repl.SetRecord(key, val, 0, false))
	}
	return protocol.OK
}

func cmdAppend(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.Append(inv.sess.db, inv.argStr(0), inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.Int(n)
}

func cmdStrLen(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.StrLen(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func cmdSetRange(x *Executor, inv *invocation) protocol.Value {
	offset, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if offset < 0 {
		return protocol.Err("ERR offset is out of range")
	}
	n, err := x.store.SetRange(inv.sess.db, inv.argStr(0), offset, inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.Int(n)
}

func cmdGetRange(x *Executor, inv *invocation) protocol.Value {
	start, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	stop, err := parseInt(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	chunk, err := x.store.GetRange(inv.sess.db, inv.argStr(0), start, stop)
	if err != nil {
		return errReply(err)
	}
	return protocol.Bulk(chunk)
}

func cmdIncr(x *Executor, inv *invocation) protocol.Value {
	return x.incrBy(inv, 1)
}

func cmdDecr(x *Executor, inv *invocation) protocol.Value {
	return x.incrBy(inv, -1)
}

func cmdIncrBy(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	return x.incrBy(inv, delta)
}

func cmdDecrBy(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	// the negation of the smallest decrement is itself unrepresentable
	if delta == math.MinInt64 {
		return protocol.Err("ERR decrement would overflow")
	}
	return x.incrBy(inv, -delta)
}

func (x *Executor) incrBy(inv *invocation, delta int64) protocol.Value {
	n, err := x.store.IncrBy(inv.sess.db, inv.argStr(0), delta)
	if err != nil {
		return errReply(err)
	}
	inv.emit(protocol.NewCommand("INCRBY", inv.argStr(0), strconv.FormatInt(delta, 10)))
	return protocol.Int(n)
}

// cmdIncrByFloat propagates the resulting value, not the delta, so
// replicas converge on the primary's exact float text
func cmdIncrByFloat(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseFloat(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	key := inv.argStr(0)
	text, err := x.store.IncrByFloat(inv.sess.db, key, delta)
	if err != nil {
		return errReply(err)
	}
	inv.emit(repl.SetRecord(key, []byte(text), 0, true))
	return protocol.BulkString(text)
}

package engine

import (
	"strconv"

	"github.com/halcyonkv/halcyon/protocol"
)

func init() {
	register(
		&command{name: "LPUSH", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLPush},
		&command{name: "RPUSH", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdRPush},
		&command{name: "LPUSHX", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLPushX},
		&command{name: "RPUSHX", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdRPushX},
		&command{name: "LPOP", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLPop},
		&command{name: "RPOP", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdRPop},
		&command{name: "LLEN", arity: 2, firstKey: 1, lastKey: 1, handler: cmdLLen},
		&command{name: "LRANGE", arity: 4, firstKey: 1, lastKey: 1, handler: cmdLRange},
		&command{name: "LINDEX", arity: 3, firstKey: 1, lastKey: 1, handler: cmdLIndex},
		&command{name: "LSET", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLSet},
		&command{name: "LREM", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLRem},
		&command{name: "LTRIM", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdLTrim},
	)
}

func (x *Executor) listPush(inv *invocation, left, onlyExisting bool) protocol.Value {
	var push func(int, string, bool, ...[]byte) (int64, error)
	if left {
		push = x.store.LPush
	} else {
		push = x.store.RPush
	}
	n, err := push(inv.sess.db, inv.argStr(0), onlyExisting, inv.cmd.Args[1:]...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 || !onlyExisting {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdLPush(x *Executor, inv *invocation) protocol.Value {
	return x.listPush(inv, true, false)
}

func cmdRPush(x *Executor, inv *invocation) protocol.Value {
	return x.listPush(inv, false, false)
}

func cmdLPushX(x *Executor, inv *invocation) protocol.Value {
	return x.listPush(inv, true, true)
}

func cmdRPushX(x *Executor, inv *invocation) protocol.Value {
	return x.listPush(inv, false, true)
}

func (x *Executor) listPop(inv *invocation, left bool) protocol.Value {
	count := int64(1)
	withCount := false
	if inv.argc() == 2 {
		n, err := parseInt(inv.arg(1))
		if err != nil {
			return errReply(err)
		}
		if n < 0 {
			return protocol.Err("ERR value is out of range, must be positive")
		}
		count = n
		withCount = true
	}
	var pop func(int, string, int64) ([][]byte, error)
	if left {
		pop = x.store.LPop
	} else {
		pop = x.store.RPop
	}
	popped, err := pop(inv.sess.db, inv.argStr(0), count)
	if err != nil {
		return errReply(err)
	}
	if len(popped) > 0 {
		name := "RPOP"
		if left {
			name = "LPOP"
		}
		inv.emit(protocol.NewCommand(name, inv.argStr(0), strconv.Itoa(len(popped))))
	}
	if withCount {
		if popped == nil {
			return protocol.NullArray()
		}
		return byteArray(popped)
	}
	if len(popped) == 0 {
		return protocol.Null()
	}
	return protocol.Bulk(popped[0])
}

func cmdLPop(x *Executor, inv *invocation) protocol.Value {
	return x.listPop(inv, true)
}

func cmdRPop(x *Executor, inv *invocation) protocol.Value {
	return x.listPop(inv, false)
}

func cmdLLen(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.LLen(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func cmdLRange(x *Executor, inv *invocation) protocol.Value {
	start, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	stop, err := parseInt(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	items, err := x.store.LRange(inv.sess.db, inv.argStr(0), start, stop)
	if err != nil {
		return errReply(err)
	}
	return byteArray(items)
}

func cmdLIndex(x *Executor, inv *invocation) protocol.Value {
	idx, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	val, ok, err := x.store.LIndex(inv.sess.db, inv.argStr(0), idx)
	if err != nil {
		return errReply(err)
	}
	return bulkOrNull(val, ok)
}

func cmdLSet(x *Executor, inv *invocation) protocol.Value {
	idx, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if err := x.store.LSet(inv.sess.db, inv.argStr(0), idx, inv.arg(2)); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

func cmdLRem(x *Executor, inv *invocation) protocol.Value {
	count, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	n, err := x.store.LRem(inv.sess.db, inv.argStr(0), count, inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdLTrim(x *Executor, inv *invocation) protocol.Value {
	start, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	stop, err := parseInt(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	if err := x.store.LTrim(inv.sess.db, inv.argStr(0), start, stop); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

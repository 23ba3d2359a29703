package engine

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "SADD", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSAdd},
		&command{name: "SREM", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSRem},
		&command{name: "SPOP", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdSPop},
		&command{name: "SISMEMBER", arity: 3, firstKey: 1, lastKey: 1, handler: cmdSIsMember},
		&command{name: "SMISMEMBER", arity: -3, firstKey: 1, lastKey: 1, handler: cmdSMIsMember},
		&command{name: "SMEMBERS", arity: 2, firstKey: 1, lastKey: 1, handler: cmdSMembers},
		&command{name: "SCARD", arity: 2, firstKey: 1, lastKey: 1, handler: cmdSCard},
		&command{name: "SRANDMEMBER", arity: -2, firstKey: 1, lastKey: 1, handler: cmdSRandMember},
		&command{name: "SSCAN", arity: -3, firstKey: 1, lastKey: 1, handler: cmdSScan},
	)
}

func memberArgs(inv *invocation) []string {
	return lo.Map(inv.cmd.Args[1:], func(b []byte, _ int) string { return string(b) })
}

func cmdSAdd(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.SAdd(inv.sess.db, inv.argStr(0), memberArgs(inv)...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdSRem(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.SRem(inv.sess.db, inv.argStr(0), memberArgs(inv)...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

// cmdSPop propagates SREM of the exact popped members; the pick itself is
// non-deterministic
func cmdSPop(x *Executor, inv *invocation) protocol.Value {
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
	popped, err := x.store.SPop(inv.sess.db, inv.argStr(0), count, x.rng)
	if err != nil {
		return errReply(err)
	}
	if len(popped) > 0 {
		inv.emit(repl.SRemRecord(inv.argStr(0), popped...))
	}
	if withCount {
		return stringArray(popped)
	}
	if len(popped) == 0 {
		return protocol.Null()
	}
	return protocol.BulkString(popped[0])
}

func cmdSIsMember(x *Executor, inv *invocation) protocol.Value {
	ok, err := x.store.SIsMember(inv.sess.db, inv.argStr(0), inv.argStr(1))
	if err != nil {
		return errReply(err)
	}
	if ok {
		return protocol.Int(1)
	}
	return protocol.Int(0)
}

func cmdSMIsMember(x *Executor, inv *invocation) protocol.Value {
	hits, err := x.store.SMIsMember(inv.sess.db, inv.argStr(0), memberArgs(inv)...)
	if err != nil {
		return errReply(err)
	}
	return protocol.ArrayValue(lo.Map(hits, func(hit bool, _ int) protocol.Value {
		if hit {
			return protocol.Int(1)
		}
		return protocol.Int(0)
	})...)
}

func cmdSMembers(x *Executor, inv *invocation) protocol.Value {
	members, err := x.store.SMembers(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return stringArray(members)
}

func cmdSCard(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.SCard(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

// cmdSRandMember never propagates: it reads without mutating
func cmdSRandMember(x *Executor, inv *invocation) protocol.Value {
	count := int64(1)
	withCount := false
	if inv.argc() == 2 {
		n, err := parseInt(inv.arg(1))
		if err != nil {
			return errReply(err)
		}
		count = n
		withCount = true
	}
	members, err := x.store.SRandMember(inv.sess.db, inv.argStr(0), count, x.rng)
	if err != nil {
		return errReply(err)
	}
	if withCount {
		return stringArray(members)
	}
	if len(members) == 0 {
		return protocol.Null()
	}
	return protocol.BulkString(members[0])
}

func cmdSScan(x *Executor, inv *invocation) protocol.Value {
	cursor, err := strconv.ParseUint(inv.argStr(1), 10, 64)
	if err != nil {
		return protocol.Err("ERR invalid cursor")
	}
	match, count, errv := scanArgs(inv, 2)
	if errv != nil {
		return *errv
	}
	next, members, err := x.store.SScan(inv.sess.db, inv.argStr(0), cursor, match, count)
	if err != nil {
		return errReply(err)
	}
	return scanReply(next, stringArray(members))
}

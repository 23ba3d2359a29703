package engine

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "ZADD", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdZAdd},
		&command{name: "ZINCRBY", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdZIncrBy},
		&command{name: "ZREM", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdZRem},
		&command{name: "ZSCORE", arity: 3, firstKey: 1, lastKey: 1, handler: cmdZScore},
		&command{name: "ZCARD", arity: 2, firstKey: 1, lastKey: 1, handler: cmdZCard},
		&command{name: "ZCOUNT", arity: 4, firstKey: 1, lastKey: 1, handler: cmdZCount},
		&command{name: "ZRANGE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdZRange},
		&command{name: "ZREVRANGE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdZRevRange},
		&command{name: "ZRANGEBYSCORE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdZRangeByScore},
		&command{name: "ZREVRANGEBYSCORE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdZRevRangeByScore},
		&command{name: "ZRANK", arity: 3, firstKey: 1, lastKey: 1, handler: cmdZRank},
		&command{name: "ZREVRANK", arity: 3, firstKey: 1, lastKey: 1, handler: cmdZRevRank},
		&command{name: "ZPOPMIN", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdZPopMin},
		&command{name: "ZPOPMAX", arity: -2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdZPopMax},
		&command{name: "ZSCAN", arity: -3, firstKey: 1, lastKey: 1, handler: cmdZScan},
	)
}

func cmdZAdd(x *Executor, inv *invocation) protocol.Value {
	var flags keyspace.ZAddFlags
	ch := false
	i := 1
parseFlags:
	for ; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "NX":
			flags.NX = true
		case "XX":
			flags.XX = true
		case "GT":
			flags.GT = true
		case "LT":
			flags.LT = true
		case "CH":
			ch = true
		case "INCR":
			flags.Incr = true
		default:
			break parseFlags
		}
	}
	if flags.NX && (flags.XX || flags.GT || flags.LT) {
		return protocol.Err("ERR GT, LT, and/or NX options at the same time are not compatible")
	}
	if flags.GT && flags.LT {
		return protocol.Err("ERR GT, LT, and/or NX options at the same time are not compatible")
	}
	rest := inv.argc() - i
	if rest == 0 || rest%2 != 0 {
		return syntaxError()
	}
	if flags.Incr && rest != 2 {
		return protocol.Err("ERR INCR option supports a single increment-element pair")
	}

	var added, changed int64
	var last keyspace.ZAddResult
	applied := false
	for ; i < inv.argc(); i += 2 {
		score, err := parseFloat(inv.arg(i))
		if err != nil {
			return errReply(err)
		}
		res, err := x.store.ZAdd(inv.sess.db, inv.argStr(0), inv.argStr(i+1), score, flags)
		if err != nil {
			return errReply(err)
		}
		last = res
		if res.Applied {
			applied = true
			if res.Added {
				added++
			}
			if res.Changed {
				changed++
			}
		}
	}
	if applied {
		inv.verbatim()
	}
	if flags.Incr {
		if !last.Applied {
			return protocol.Null()
		}
		return protocol.BulkString(formatScore(last.Score))
	}
	if ch {
		return protocol.Int(changed)
	}
	return protocol.Int(added)
}

func cmdZIncrBy(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseFloat(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	score, err := x.store.ZIncrBy(inv.sess.db, inv.argStr(0), inv.argStr(2), delta)
	if err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.BulkString(formatScore(score))
}

func cmdZRem(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.ZRem(inv.sess.db, inv.argStr(0), memberArgs(inv)...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdZScore(x *Executor, inv *invocation) protocol.Value {
	score, ok, err := x.store.ZScore(inv.sess.db, inv.argStr(0), inv.argStr(1))
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return protocol.Null()
	}
	return protocol.BulkString(formatScore(score))
}

func cmdZCard(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.ZCard(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func cmdZCount(x *Executor, inv *invocation) protocol.Value {
	min, err := parseScoreBound(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	max, err := parseScoreBound(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	n, err := x.store.ZCount(inv.sess.db, inv.argStr(0), min, max)
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func scoredReply(members []keyspace.ScoredMember, withScores bool) protocol.Value {
	if !withScores {
		return stringArray(lo.Map(members, func(m keyspace.ScoredMember, _ int) string { return m.Member }))
	}
	out := make([]protocol.Value, 0, len(members)*2)
	for _, m := range members {
		out = append(out, protocol.BulkString(m.Member), protocol.BulkString(formatScore(m.Score)))
	}
	return protocol.ArrayValue(out...)
}

func (x *Executor) zrange(inv *invocation, rev bool) protocol.Value {
	start, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	stop, err := parseInt(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	withScores := false
	for i := 3; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "WITHSCORES":
			withScores = true
		case "REV":
			rev = true
		default:
			return syntaxError()
		}
	}
	members, err := x.store.ZRange(inv.sess.db, inv.argStr(0), start, stop, rev)
	if err != nil {
		return errReply(err)
	}
	return scoredReply(members, withScores)
}

func cmdZRange(x *Executor, inv *invocation) protocol.Value {
	return x.zrange(inv, false)
}

func cmdZRevRange(x *Executor, inv *invocation) protocol.Value {
	return x.zrange(inv, true)
}

func (x *Executor) zrangeByScore(inv *invocation, rev bool) protocol.Value {
	// With REV the min and max arguments arrive swapped
	minRaw, maxRaw := inv.arg(1), inv.arg(2)
	if rev {
		minRaw, maxRaw = maxRaw, minRaw
	}
	min, err := parseScoreBound(minRaw)
	if err != nil {
		return errReply(err)
	}
	max, err := parseScoreBound(maxRaw)
	if err != nil {
		return errReply(err)
	}
	withScores := false
	offset, limit := int64(0), int64(-1)
	for i := 3; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= inv.argc() {
				return syntaxError()
			}
			offset, err = parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			limit, err = parseInt(inv.arg(i + 2))
			if err != nil {
				return errReply(err)
			}
			i += 2
		default:
			return syntaxError()
		}
	}
	members, err := x.store.ZRangeByScore(inv.sess.db, inv.argStr(0), min, max, rev)
	if err != nil {
		return errReply(err)
	}
	if offset > 0 {
		if offset >= int64(len(members)) {
			members = nil
		} else {
			members = members[offset:]
		}
	}
	if limit >= 0 && limit < int64(len(members)) {
		members = members[:limit]
	}
	return scoredReply(members, withScores)
}

func cmdZRangeByScore(x *Executor, inv *invocation) protocol.Value {
	return x.zrangeByScore(inv, false)
}

func cmdZRevRangeByScore(x *Executor, inv *invocation) protocol.Value {
	return x.zrangeByScore(inv, true)
}

func (x *Executor) zrank(inv *invocation, rev bool) protocol.Value {
	rank, ok, err := x.store.ZRank(inv.sess.db, inv.argStr(0), inv.argStr(1), rev)
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return protocol.Null()
	}
	return protocol.Int(rank)
}

func cmdZRank(x *Executor, inv *invocation) protocol.Value {
	return x.zrank(inv, false)
}

func cmdZRevRank(x *Executor, inv *invocation) protocol.Value {
	return x.zrank(inv, true)
}

// zpop propagates ZREM of the exact popped members
func (x *Executor) zpop(inv *invocation, max bool) protocol.Value {
	count := int64(1)
	if inv.argc() == 2 {
		n, err := parseInt(inv.arg(1))
		if err != nil {
			return errReply(err)
		}
		if n < 0 {
			return protocol.Err("ERR value is out of range, must be positive")
		}
		count = n
	}
	popped, err := x.store.ZPop(inv.sess.db, inv.argStr(0), count, max)
	if err != nil {
		return errReply(err)
	}
	if len(popped) > 0 {
		members := lo.Map(popped, func(m keyspace.ScoredMember, _ int) string { return m.Member })
		inv.emit(repl.ZRemRecord(inv.argStr(0), members...))
	}
	return scoredReply(popped, true)
}

func cmdZPopMin(x *Executor, inv *invocation) protocol.Value {
	return x.zpop(inv, false)
}

func cmdZPopMax(x *Executor, inv *invocation) protocol.Value {
	return x.zpop(inv, true)
}

func cmdZScan(x *Executor, inv *invocation) protocol.Value {
	cursor, err := strconv.ParseUint(inv.argStr(1), 10, 64)
	if err != nil {
		return protocol.Err("ERR invalid cursor")
	}
	match, count, errv := scanArgs(inv, 2)
	if errv != nil {
		return *errv
	}
	next, members, err := x.store.ZScan(inv.sess.db, inv.argStr(0), cursor, match, count)
	if err != nil {
		return errReply(err)
	}
	return scanReply(next, scoredReply(members, true))
}

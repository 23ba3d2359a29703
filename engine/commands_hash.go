package engine

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
)

func init() {
	register(
		&command{name: "HSET", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHSet},
		&command{name: "HMSET", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHMSet},
		&command{name: "HSETNX", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHSetNX},
		&command{name: "HGET", arity: 3, firstKey: 1, lastKey: 1, handler: cmdHGet},
		&command{name: "HMGET", arity: -3, firstKey: 1, lastKey: 1, handler: cmdHMGet},
		&command{name: "HDEL", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHDel},
		&command{name: "HLEN", arity: 2, firstKey: 1, lastKey: 1, handler: cmdHLen},
		&command{name: "HEXISTS", arity: 3, firstKey: 1, lastKey: 1, handler: cmdHExists},
		&command{name: "HGETALL", arity: 2, firstKey: 1, lastKey: 1, handler: cmdHGetAll},
		&command{name: "HKEYS", arity: 2, firstKey: 1, lastKey: 1, handler: cmdHKeys},
		&command{name: "HVALS", arity: 2, firstKey: 1, lastKey: 1, handler: cmdHVals},
		&command{name: "HINCRBY", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHIncrBy},
		&command{name: "HINCRBYFLOAT", arity: 4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdHIncrByFloat},
		&command{name: "HRANDFIELD", arity: -2, firstKey: 1, lastKey: 1, handler: cmdHRandField},
		&command{name: "HSCAN", arity: -3, firstKey: 1, lastKey: 1, handler: cmdHScan},
	)
}

func hashPairs(inv *invocation, from int) ([]keyspace.FieldValue, bool) {
	rest := inv.argc() - from
	if rest == 0 || rest%2 != 0 {
		return nil, false
	}
	pairs := make([]keyspace.FieldValue, 0, rest/2)
	for i := from; i < inv.argc(); i += 2 {
		pairs = append(pairs, keyspace.FieldValue{Field: inv.argStr(i), Value: inv.arg(i + 1)})
	}
	return pairs, true
}

func cmdHSet(x *Executor, inv *invocation) protocol.Value {
	pairs, ok := hashPairs(inv, 1)
	if !ok {
		return wrongArity("HSET")
	}
	n, err := x.store.HSet(inv.sess.db, inv.argStr(0), pairs...)
	if err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.Int(n)
}

func cmdHMSet(x *Executor, inv *invocation) protocol.Value {
	pairs, ok := hashPairs(inv, 1)
	if !ok {
		return wrongArity("HMSET")
	}
	if _, err := x.store.HSet(inv.sess.db, inv.argStr(0), pairs...); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

func cmdHSetNX(x *Executor, inv *invocation) protocol.Value {
	set, err := x.store.HSetNX(inv.sess.db, inv.argStr(0), inv.argStr(1), inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	if !set {
		return protocol.Int(0)
	}
	inv.emit(protocol.NewCommandBytes("HSET", inv.arg(0), inv.arg(1), inv.arg(2)))
	return protocol.Int(1)
}

func cmdHGet(x *Executor, inv *invocation) protocol.Value {
	val, ok, err := x.store.HGet(inv.sess.db, inv.argStr(0), inv.argStr(1))
	if err != nil {
		return errReply(err)
	}
	return bulkOrNull(val, ok)
}

func cmdHMGet(x *Executor, inv *invocation) protocol.Value {
	fields := lo.Map(inv.cmd.Args[1:], func(b []byte, _ int) string { return string(b) })
	vals, err := x.store.HMGet(inv.sess.db, inv.argStr(0), fields...)
	if err != nil {
		return errReply(err)
	}
	return byteArray(vals)
}

func cmdHDel(x *Executor, inv *invocation) protocol.Value {
	fields := lo.Map(inv.cmd.Args[1:], func(b []byte, _ int) string { return string(b) })
	n, err := x.store.HDel(inv.sess.db, inv.argStr(0), fields...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdHLen(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.HLen(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func cmdHExists(x *Executor, inv *invocation) protocol.Value {
	ok, err := x.store.HExists(inv.sess.db, inv.argStr(0), inv.argStr(1))
	if err != nil {
		return errReply(err)
	}
	if ok {
		return protocol.Int(1)
	}
	return protocol.Int(0)
}

func cmdHGetAll(x *Executor, inv *invocation) protocol.Value {
	fields, err := x.store.HGetAll(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return fieldValuePairs(fields)
}

func cmdHKeys(x *Executor, inv *invocation) protocol.Value {
	fields, err := x.store.HGetAll(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return stringArray(lo.Map(fields, func(fv keyspace.FieldValue, _ int) string { return fv.Field }))
}

func cmdHVals(x *Executor, inv *invocation) protocol.Value {
	fields, err := x.store.HGetAll(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return byteArray(lo.Map(fields, func(fv keyspace.FieldValue, _ int) []byte { return fv.Value }))
}

func cmdHIncrBy(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseInt(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	n, err := x.store.HIncrBy(inv.sess.db, inv.argStr(0), inv.argStr(1), delta)
	if err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.Int(n)
}

// cmdHIncrByFloat propagates the resulting field value so replicas carry
// the primary's exact float text
func cmdHIncrByFloat(x *Executor, inv *invocation) protocol.Value {
	delta, err := parseFloat(inv.arg(2))
	if err != nil {
		return errReply(err)
	}
	text, err := x.store.HIncrByFloat(inv.sess.db, inv.argStr(0), inv.argStr(1), delta)
	if err != nil {
		return errReply(err)
	}
	inv.emit(protocol.NewCommand("HSET", inv.argStr(0), inv.argStr(1), text))
	return protocol.BulkString(text)
}

// cmdHRandField is a non-deterministic read; it never propagates
func cmdHRandField(x *Executor, inv *invocation) protocol.Value {
	count := int64(1)
	withValues := false
	plainCount := false
	if inv.argc() >= 2 {
		n, err := parseInt(inv.arg(1))
		if err != nil {
			return errReply(err)
		}
		count = n
		plainCount = true
	}
	if inv.argc() == 3 {
		if upperArg(inv.arg(2)) != "WITHVALUES" {
			return syntaxError()
		}
		withValues = true
	}
	fields, err := x.store.HRandField(inv.sess.db, inv.argStr(0), count, x.rng)
	if err != nil {
		return errReply(err)
	}
	if !plainCount {
		if len(fields) == 0 {
			return protocol.Null()
		}
		return protocol.BulkString(fields[0].Field)
	}
	if withValues {
		return fieldValuePairs(fields)
	}
	return stringArray(lo.Map(fields, func(fv keyspace.FieldValue, _ int) string { return fv.Field }))
}

func cmdHScan(x *Executor, inv *invocation) protocol.Value {
	cursor, err := strconv.ParseUint(inv.argStr(1), 10, 64)
	if err != nil {
		return protocol.Err("ERR invalid cursor")
	}
	match, count, errv := scanArgs(inv, 2)
	if errv != nil {
		return *errv
	}
	next, fields, err := x.store.HScan(inv.sess.db, inv.argStr(0), cursor, match, count)
	if err != nil {
		return errReply(err)
	}
	return scanReply(next, fieldValuePairs(fields))
}

// scanArgs parses the trailing MATCH/COUNT options of the typed SCAN
// variants
func scanArgs(inv *invocation, from int) (string, int64, *protocol.Value) {
	match := ""
	count := int64(0)
	for i := from; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "MATCH":
			if i+1 >= inv.argc() {
				v := syntaxError()
				return "", 0, &v
			}
			match = inv.argStr(i + 1)
			i++
		case "COUNT":
			if i+1 >= inv.argc() {
				v := syntaxError()
				return "", 0, &v
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil || n <= 0 {
				v := syntaxError()
				return "", 0, &v
			}
			count = n
			i++
		default:
			v := syntaxError()
			return "", 0, &v
		}
	}
	return match, count, nil
}

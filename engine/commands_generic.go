package engine

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/expire"
	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "DEL", arity: -2, flags: flagWrite, firstKey: 1, lastKey: -1, handler: cmdDel},
		&command{name: "UNLINK", arity: -2, flags: flagWrite, firstKey: 1, lastKey: -1, handler: cmdDel},
		&command{name: "EXISTS", arity: -2, firstKey: 1, lastKey: -1, handler: cmdExists},
		&command{name: "TYPE", arity: 2, firstKey: 1, lastKey: 1, handler: cmdType},
		&command{name: "RENAME", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 2, handler: cmdRename},
		&command{name: "RENAMENX", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 2, handler: cmdRenameNX},
		&command{name: "COPY", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 2, handler: cmdCopy},
		&command{name: "MOVE", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdMove},
		&command{name: "RANDOMKEY", arity: 1, handler: cmdRandomKey},
		&command{name: "KEYS", arity: 2, handler: cmdKeys},
		&command{name: "SCAN", arity: -2, handler: cmdScan},
		&command{name: "TTL", arity: 2, firstKey: 1, lastKey: 1, handler: cmdTTL},
		&command{name: "PTTL", arity: 2, firstKey: 1, lastKey: 1, handler: cmdPTTL},
		&command{name: "EXPIRETIME", arity: 2, firstKey: 1, lastKey: 1, handler: cmdExpireTime},
		&command{name: "PEXPIRETIME", arity: 2, firstKey: 1, lastKey: 1, handler: cmdPExpireTime},
		&command{name: "EXPIRE", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdExpire},
		&command{name: "PEXPIRE", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdPExpire},
		&command{name: "EXPIREAT", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdExpireAt},
		&command{name: "PEXPIREAT", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdPExpireAt},
		&command{name: "PERSIST", arity: 2, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdPersist},
		&command{name: "OBJECT", arity: -2, handler: cmdObject},
		&command{name: "DBSIZE", arity: 1, handler: cmdDBSize},
		&command{name: "FLUSHDB", arity: -1, flags: flagWrite, handler: cmdFlushDB},
		&command{name: "FLUSHALL", arity: -1, flags: flagWrite, handler: cmdFlushAll},
		&command{name: "SELECT", arity: 2, handler: cmdSelect},
		&command{name: "SWAPDB", arity: 3, flags: flagWrite, handler: cmdSwapDB},
	)
}

func cmdDel(x *Executor, inv *invocation) protocol.Value {
	removed := make([]string, 0, inv.argc())
	for _, raw := range inv.cmd.Args {
		key := string(raw)
		if x.store.Del(inv.sess.db, key) > 0 {
			removed = append(removed, key)
		}
	}
	// Zero removed keys propagate nothing
	if len(removed) > 0 {
		inv.emit(repl.DelRecord(removed...))
	}
	return protocol.Int(int64(len(removed)))
}

func cmdExists(x *Executor, inv *invocation) protocol.Value {
	keys := lo.Map(inv.cmd.Args, func(b []byte, _ int) string { return string(b) })
	return protocol.Int(x.store.Exists(inv.sess.db, keys...))
}

func cmdType(x *Executor, inv *invocation) protocol.Value {
	return protocol.SimpleString(x.store.TypeOf(inv.sess.db, inv.argStr(0)).String())
}

func cmdRename(x *Executor, inv *invocation) protocol.Value {
	if _, err := x.store.Rename(inv.sess.db, inv.argStr(0), inv.argStr(1), false); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

func cmdRenameNX(x *Executor, inv *invocation) protocol.Value {
	ok, err := x.store.Rename(inv.sess.db, inv.argStr(0), inv.argStr(1), true)
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return protocol.Int(0)
	}
	inv.verbatim()
	return protocol.Int(1)
}

func cmdCopy(x *Executor, inv *invocation) protocol.Value {
	dstDB := inv.sess.db
	replace := false
	for i := 2; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "REPLACE":
			replace = true
		case "DB":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			if !x.store.ValidDB(int(n)) {
				return protocol.Err("ERR DB index is out of range")
			}
			dstDB = int(n)
			i++
		default:
			return syntaxError()
		}
	}
	if !x.store.Copy(inv.sess.db, inv.argStr(0), dstDB, inv.argStr(1), replace) {
		return protocol.Int(0)
	}
	inv.emit(repl.CopyRecord(inv.argStr(0), inv.argStr(1), dstDB, replace))
	return protocol.Int(1)
}

func cmdMove(x *Executor, inv *invocation) protocol.Value {
	n, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if !x.store.ValidDB(int(n)) {
		return protocol.Err("ERR DB index is out of range")
	}
	if !x.store.Move(inv.sess.db, inv.argStr(0), int(n)) {
		return protocol.Int(0)
	}
	inv.verbatim()
	return protocol.Int(1)
}

// cmdRandomKey never propagates: the pick is non-deterministic and reads
// leave no effect
func cmdRandomKey(x *Executor, inv *invocation) protocol.Value {
	key, ok := x.store.RandomKey(inv.sess.db, x.rng)
	if !ok {
		return protocol.Null()
	}
	return protocol.BulkString(key)
}

func cmdKeys(x *Executor, inv *invocation) protocol.Value {
	return stringArray(x.store.Keys(inv.sess.db, inv.argStr(0)))
}

func cmdScan(x *Executor, inv *invocation) protocol.Value {
	cursor, err := strconv.ParseUint(inv.argStr(0), 10, 64)
	if err != nil {
		return protocol.Err("ERR invalid cursor")
	}
	var opts keyspace.ScanOptions
	for i := 1; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "MATCH":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			opts.Match = inv.argStr(i + 1)
			i++
		case "COUNT":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil || n <= 0 {
				return syntaxError()
			}
			opts.Count = n
			i++
		case "TYPE":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			opts.Type = typeByName(inv.argStr(i + 1))
			i++
		default:
			return syntaxError()
		}
	}
	next, keys, err := x.store.Scan(inv.sess.db, cursor, opts)
	if err != nil {
		return errReply(err)
	}
	return scanReply(next, stringArray(keys))
}

func typeByName(name string) keyspace.ValueType {
	switch strings.ToLower(name) {
	case "string":
		return keyspace.TypeString
	case "list":
		return keyspace.TypeList
	case "set":
		return keyspace.TypeSet
	case "zset":
		return keyspace.TypeZSet
	case "hash":
		return keyspace.TypeHash
	case "stream":
		return keyspace.TypeStream
	}
	return keyspace.TypeNone
}

func cmdTTL(x *Executor, inv *invocation) protocol.Value {
	ms := x.store.PTTL(inv.sess.db, inv.argStr(0))
	if ms < 0 {
		return protocol.Int(ms)
	}
	return protocol.Int((ms + 500) / 1000)
}

func cmdPTTL(x *Executor, inv *invocation) protocol.Value {
	return protocol.Int(x.store.PTTL(inv.sess.db, inv.argStr(0)))
}

func cmdExpireTime(x *Executor, inv *invocation) protocol.Value {
	at := x.store.PExpireTime(inv.sess.db, inv.argStr(0))
	if at < 0 {
		return protocol.Int(at)
	}
	return protocol.Int(at / 1000)
}

func cmdPExpireTime(x *Executor, inv *invocation) protocol.Value {
	return protocol.Int(x.store.PExpireTime(inv.sess.db, inv.argStr(0)))
}

func cmdExpire(x *Executor, inv *invocation) protocol.Value {
	return x.expireGeneric(inv, 1000, false)
}

func cmdPExpire(x *Executor, inv *invocation) protocol.Value {
	return x.expireGeneric(inv, 1, false)
}

func cmdExpireAt(x *Executor, inv *invocation) protocol.Value {
	return x.expireGeneric(inv, 1000, true)
}

func cmdPExpireAt(x *Executor, inv *invocation) protocol.Value {
	return x.expireGeneric(inv, 1, true)
}

// expireGeneric implements the EXPIRE family: resolve the target to
// absolute milliseconds, validate the NX/XX/GT/LT lattice against the
// current expiry, then apply and propagate the absolute form. An elapsed
// target deletes the key and propagates DEL.
func (x *Executor) expireGeneric(inv *invocation, unitMs int64, absolute bool) protocol.Value {
	key := inv.argStr(0)
	n, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	flagArgs := lo.Map(inv.cmd.Args[2:], func(b []byte, _ int) string { return string(b) })
	flags, err := expire.ParseFlags(flagArgs)
	if err != nil {
		return errReply(err)
	}
	if err := flags.Validate(); err != nil {
		return errReply(err)
	}

	target := n * unitMs
	if !absolute {
		target += x.nowMs()
	}

	current := x.store.PExpireTime(inv.sess.db, key)
	if current == -2 {
		return protocol.Int(0)
	}
	if !flags.Allows(current, target) {
		return protocol.Int(0)
	}
	if !x.store.PExpireAt(inv.sess.db, key, target) {
		return protocol.Int(0)
	}
	if target <= x.nowMs() {
		inv.emit(repl.DelRecord(key))
	} else {
		inv.emit(repl.PExpireAtRecord(key, target))
	}
	return protocol.Int(1)
}

func cmdPersist(x *Executor, inv *invocation) protocol.Value {
	key := inv.argStr(0)
	if !x.store.Persist(inv.sess.db, key) {
		return protocol.Int(0)
	}
	inv.emit(repl.PersistRecord(key))
	return protocol.Int(1)
}

func cmdObject(x *Executor, inv *invocation) protocol.Value {
	switch upperArg(inv.arg(0)) {
	case "ENCODING":
		if inv.argc() != 2 {
			return wrongArity("OBJECT")
		}
		enc, ok := x.store.ObjectEncoding(inv.sess.db, inv.argStr(1))
		if !ok {
			return errReply(keyspace.ErrNoSuchKey)
		}
		return protocol.BulkString(string(enc))
	case "HELP":
		return protocol.ArrayValue(protocol.BulkString("OBJECT ENCODING <key>"))
	default:
		return protocol.Err("ERR Unknown OBJECT subcommand or wrong number of arguments for '" + inv.argStr(0) + "'")
	}
}

func cmdDBSize(x *Executor, inv *invocation) protocol.Value {
	return protocol.Int(x.store.DBSize(inv.sess.db))
}

func cmdFlushDB(x *Executor, inv *invocation) protocol.Value {
	x.store.FlushDB(inv.sess.db)
	inv.emit(protocol.NewCommand("FLUSHDB"))
	return protocol.OK
}

func cmdFlushAll(x *Executor, inv *invocation) protocol.Value {
	x.store.FlushAll()
	inv.emit(protocol.NewCommand("FLUSHALL"))
	return protocol.OK
}

func cmdSelect(x *Executor, inv *invocation) protocol.Value {
	n, err := parseInt(inv.arg(0))
	if err != nil {
		return errReply(err)
	}
	if !x.store.ValidDB(int(n)) {
		return protocol.Err("ERR DB index is out of range")
	}
	inv.sess.db = int(n)
	return protocol.OK
}

func cmdSwapDB(x *Executor, inv *invocation) protocol.Value {
	a, err := parseInt(inv.arg(0))
	if err != nil {
		return errReply(err)
	}
	b, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if err := x.store.SwapDB(int(a), int(b)); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

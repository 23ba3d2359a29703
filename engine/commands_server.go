package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "PING", arity: -1, handler: cmdPing},
		&command{name: "ECHO", arity: 2, handler: cmdEcho},
		&command{name: "TIME", arity: 1, handler: cmdTime},
		&command{name: "INFO", arity: -1, flags: flagAdmin, handler: cmdInfo},
		&command{name: "DEBUG", arity: -2, flags: flagAdmin | flagNoScript, handler: cmdDebug},
		&command{name: "SAVE", arity: 1, flags: flagAdmin | flagNoScript, handler: cmdSave},
		&command{name: "BGSAVE", arity: -1, flags: flagAdmin | flagNoScript, handler: cmdBGSave},
		&command{name: "BGREWRITEAOF", arity: 1, flags: flagAdmin | flagNoScript, handler: cmdBGRewriteAOF},
		&command{name: "DUMP", arity: 2, firstKey: 1, lastKey: 1, handler: cmdDump},
		&command{name: "RESTORE", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdRestore},
		&command{name: "WAIT", arity: 3, flags: flagNoScript, handler: cmdWait},
		&command{name: "REPLICAOF", arity: 3, flags: flagAdmin | flagNoScript, handler: cmdReplicaOf},
		&command{name: "SLAVEOF", arity: 3, flags: flagAdmin | flagNoScript, handler: cmdReplicaOf},
	)
}

func cmdPing(x *Executor, inv *invocation) protocol.Value {
	if inv.argc() == 1 {
		return protocol.Bulk(inv.arg(0))
	}
	return protocol.SimpleString("PONG")
}

func cmdEcho(x *Executor, inv *invocation) protocol.Value {
	return protocol.Bulk(inv.arg(0))
}

// cmdTime reads the store clock, so scripts observe the frozen value
func cmdTime(x *Executor, inv *invocation) protocol.Value {
	ms := x.nowMs()
	return protocol.ArrayValue(
		protocol.BulkString(strconv.FormatInt(ms/1000, 10)),
		protocol.BulkString(strconv.FormatInt(ms%1000*1000, 10)),
	)
}

func cmdInfo(x *Executor, inv *invocation) protocol.Value {
	role := "master"
	if x.Role() == RoleReplica {
		role = "slave"
	}
	var b strings.Builder
	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int64(time.Since(x.startedAt).Seconds()))
	b.WriteString("# Replication\r\n")
	fmt.Fprintf(&b, "role:%s\r\n", role)
	fmt.Fprintf(&b, "master_replid:%s\r\n", x.prop.ReplID())
	fmt.Fprintf(&b, "master_repl_offset:%d\r\n", x.prop.Offset())
	fmt.Fprintf(&b, "connected_slaves:%d\r\n", x.prop.NumSinks())
	b.WriteString("# Keyspace\r\n")
	for db := 0; db < x.store.NumDatabases(); db++ {
		if n := x.store.DBSize(db); n > 0 {
			fmt.Fprintf(&b, "db%d:keys=%d\r\n", db, n)
		}
	}
	return protocol.Bulk([]byte(b.String()))
}

func cmdDebug(x *Executor, inv *invocation) protocol.Value {
	switch upperArg(inv.arg(0)) {
	case "SET-ACTIVE-EXPIRE":
		if inv.argc() != 2 {
			return wrongArity("DEBUG")
		}
		if x.sweeper == nil {
			return protocol.Err("ERR active expiry is not configured")
		}
		x.sweeper.SetActive(inv.argStr(1) != "0")
		return protocol.OK
	case "SLEEP":
		if inv.argc() != 2 {
			return wrongArity("DEBUG")
		}
		secs, err := strconv.ParseFloat(inv.argStr(1), 64)
		if err != nil {
			return errReply(keyspace.ErrNotFloat)
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		return protocol.OK
	case "OBJECT":
		if inv.argc() != 2 {
			return wrongArity("DEBUG")
		}
		enc, ok := x.store.ObjectEncoding(inv.sess.db, inv.argStr(1))
		if !ok {
			return errReply(keyspace.ErrNoSuchKey)
		}
		return protocol.SimpleString("Value at:0 refcount:1 encoding:" + string(enc))
	default:
		return protocol.Err("ERR DEBUG subcommand not supported")
	}
}

func cmdSave(x *Executor, inv *invocation) protocol.Value {
	if x.snapshotPath == "" {
		return protocol.Err("ERR snapshot path is not configured")
	}
	if err := persist.SaveSnapshot(x.snapshotPath, x.store); err != nil {
		x.log.Error("snapshot save failed", Field{Key: "error", Value: err})
		return errReply(err)
	}
	return protocol.OK
}

// cmdBGSave runs in the foreground: the executor is serialized anyway and
// the snapshot reads shard by shard under read locks
func cmdBGSave(x *Executor, inv *invocation) protocol.Value {
	if x.snapshotPath == "" {
		return protocol.Err("ERR snapshot path is not configured")
	}
	if err := persist.SaveSnapshot(x.snapshotPath, x.store); err != nil {
		return errReply(err)
	}
	return protocol.SimpleString("Background saving started")
}

func cmdBGRewriteAOF(x *Executor, inv *invocation) protocol.Value {
	if x.aofPath == "" {
		return protocol.Err("ERR append log is not configured")
	}
	if err := persist.RewriteAppendLog(x.aofPath, x.store); err != nil {
		return errReply(err)
	}
	return protocol.SimpleString("Background append only file rewriting started")
}

func cmdDump(x *Executor, inv *invocation) protocol.Value {
	m, _, ok := x.store.Materialize(inv.sess.db, inv.argStr(0))
	if !ok {
		return protocol.Null()
	}
	payload, err := persist.DumpValue(m)
	if err != nil {
		if errors.Is(err, persist.ErrNotDumpable) {
			return protocol.Null()
		}
		return errReply(err)
	}
	return protocol.Bulk(payload)
}

func cmdRestore(x *Executor, inv *invocation) protocol.Value {
	key := inv.argStr(0)
	ttl, err := parseInt(inv.arg(1))
	if err != nil {
		return errReply(err)
	}
	if ttl < 0 {
		return protocol.Err("ERR Invalid TTL value, must be >= 0")
	}
	payload := inv.arg(2)
	replace := false
	absTTL := false
	for i := 3; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "REPLACE":
			replace = true
		case "ABSTTL":
			absTTL = true
		default:
			return syntaxError()
		}
	}
	if !replace && x.store.Exists(inv.sess.db, key) > 0 {
		return protocol.Err("BUSYKEY Target key name already exists.")
	}
	m, err := persist.LoadDump(payload)
	if err != nil {
		return errReply(err)
	}
	atMs := int64(0)
	if ttl > 0 {
		if absTTL {
			atMs = ttl
		} else {
			atMs = x.nowMs() + ttl
		}
	}
	if err := x.store.RestoreEntry(inv.sess.db, key, m, atMs); err != nil {
		return errReply(err)
	}
	inv.emit(repl.RestoreRecord(key, atMs, payload, true))
	return protocol.OK
}

// cmdWait reports the number of attached replica sinks; the propagator
// feeds sinks synchronously so an attached sink has already seen every
// acknowledged write
func cmdWait(x *Executor, inv *invocation) protocol.Value {
	return protocol.Int(int64(x.prop.NumSinks()))
}

// cmdReplicaOf switches the node's role. NO ONE promotes: self-expiry
// resumes and writes are accepted again.
func cmdReplicaOf(x *Executor, inv *invocation) protocol.Value {
	host, port := upperArg(inv.arg(0)), upperArg(inv.arg(1))
	if host == "NO" && port == "ONE" {
		x.SetRole(RolePrimary)
		return protocol.OK
	}
	x.SetRole(RoleReplica)
	return protocol.OK
}

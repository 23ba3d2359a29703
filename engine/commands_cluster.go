package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func init() {
	register(
		&command{name: "CLUSTER", arity: -2, flags: flagAdmin | flagNoScript, handler: cmdCluster},
		&command{name: "ASKING", arity: 1, flags: flagAdmin, handler: cmdAsking},
		&command{name: "MIGRATE", arity: -6, flags: flagWrite | flagNoScript, firstKey: 3, lastKey: 3, handler: cmdMigrate},
	)
}

func cmdCluster(x *Executor, inv *invocation) protocol.Value {
	sub := upperArg(inv.arg(0))
	if sub == "KEYSLOT" {
		if inv.argc() != 2 {
			return wrongArity("CLUSTER")
		}
		return protocol.Int(int64(cluster.KeySlot(inv.argStr(1))))
	}
	if x.slots == nil {
		return protocol.Err("ERR This instance has cluster support disabled")
	}
	switch sub {
	case "MYID":
		return protocol.BulkString(x.slots.Self())
	case "INFO":
		return cmdClusterInfo(x)
	case "NODES":
		return cmdClusterNodes(x)
	case "SLOTS":
		return cmdClusterSlots(x)
	case "MEET":
		if inv.argc() != 3 {
			return wrongArity("CLUSTER")
		}
		if x.members == nil || x.transport == nil {
			return protocol.Err("ERR cluster membership is not configured")
		}
		addr := inv.argStr(1) + ":" + inv.argStr(2)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := x.members.Meet(ctx, x.transport, addr); err != nil {
			return errReply(err)
		}
		return protocol.OK
	case "SETSLOT":
		return cmdClusterSetSlot(x, inv)
	default:
		return protocol.Err("ERR Unknown CLUSTER subcommand or wrong number of arguments for '" + inv.argStr(0) + "'")
	}
}

func cmdClusterInfo(x *Executor) protocol.Value {
	owned := len(x.slots.OwnedSlots())
	state := "ok"
	var b strings.Builder
	fmt.Fprintf(&b, "cluster_enabled:1\r\n")
	fmt.Fprintf(&b, "cluster_state:%s\r\n", state)
	fmt.Fprintf(&b, "cluster_slots_assigned:%d\r\n", owned)
	known := 1
	if x.members != nil {
		known += len(x.members.Peers())
	}
	fmt.Fprintf(&b, "cluster_known_nodes:%d\r\n", known)
	return protocol.Bulk([]byte(b.String()))
}

func cmdClusterNodes(x *Executor) protocol.Value {
	var b strings.Builder
	fmt.Fprintf(&b, "%s :0@0 myself,master - 0 0 0 connected\r\n", x.slots.Self())
	if x.members != nil {
		for _, peer := range x.members.Peers() {
			fmt.Fprintf(&b, "%s %s@0 master - 0 %d 0 connected\r\n",
				peer.ID, peer.Addr, peer.SeenAt.UnixMilli())
		}
	}
	return protocol.Bulk([]byte(b.String()))
}

// cmdClusterSlots reports the contiguous ranges owned by this node
func cmdClusterSlots(x *Executor) protocol.Value {
	owned := x.slots.OwnedSlots()
	var out []protocol.Value
	for i := 0; i < len(owned); {
		j := i
		for j+1 < len(owned) && owned[j+1] == owned[j]+1 {
			j++
		}
		out = append(out, protocol.ArrayValue(
			protocol.Int(int64(owned[i])),
			protocol.Int(int64(owned[j])),
			protocol.ArrayValue(protocol.BulkString(x.slots.Self())),
		))
		i = j + 1
	}
	return protocol.ArrayValue(out...)
}

func cmdClusterSetSlot(x *Executor, inv *invocation) protocol.Value {
	if inv.argc() < 3 {
		return wrongArity("CLUSTER")
	}
	slot, err := strconv.ParseUint(inv.argStr(1), 10, 16)
	if err != nil || slot >= cluster.SlotCount {
		return protocol.Err("ERR Invalid or out of range slot")
	}
	s := uint16(slot)
	switch upperArg(inv.arg(2)) {
	case "MIGRATING":
		if inv.argc() != 4 {
			return wrongArity("CLUSTER")
		}
		if err := x.slots.SetMigrating(s, inv.argStr(3)); err != nil {
			return errReply(err)
		}
	case "IMPORTING":
		if inv.argc() != 4 {
			return wrongArity("CLUSTER")
		}
		x.slots.SetImporting(s, inv.argStr(3))
	case "NODE":
		if inv.argc() != 4 {
			return wrongArity("CLUSTER")
		}
		x.slots.Assign(s, inv.argStr(3))
	case "STABLE":
		x.slots.ClearHandoff(s)
	default:
		return syntaxError()
	}
	return protocol.OK
}

// cmdAsking admits the session's next command into an importing slot
func cmdAsking(x *Executor, inv *invocation) protocol.Value {
	inv.sess.asking = true
	return protocol.OK
}

// cmdMigrate serializes one key, hands it to the destination and deletes
// it locally only after the restore is acknowledged. The local delete
// propagates as DEL.
func cmdMigrate(x *Executor, inv *invocation) protocol.Value {
	if x.handoff == nil {
		return protocol.Err("ERR migration transport is not configured")
	}
	host, port := inv.argStr(0), inv.argStr(1)
	key := inv.argStr(2)
	destDB, err := parseInt(inv.arg(3))
	if err != nil {
		return errReply(err)
	}
	if destDB < 0 {
		return protocol.Err("ERR invalid destination database")
	}
	timeoutMs, err := parseInt(inv.arg(4))
	if err != nil {
		return errReply(err)
	}
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}
	if x.store.Exists(inv.sess.db, key) == 0 {
		return protocol.SimpleString("NOKEY")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	if err := cluster.MigrateKey(ctx, x.store, inv.sess.db, key, host+":"+port, int(destDB), x.handoff); err != nil {
		return errReply(err)
	}
	inv.emit(repl.DelRecord(key))
	return protocol.OK
}

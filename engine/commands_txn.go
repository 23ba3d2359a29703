package engine

import (
	"errors"

	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/txn"
)

func init() {
	register(
		&command{name: "MULTI", arity: 1, flags: flagImmediate | flagNoScript, handler: cmdMulti},
		&command{name: "EXEC", arity: 1, flags: flagImmediate | flagNoScript, handler: cmdExec},
		&command{name: "DISCARD", arity: 1, flags: flagImmediate | flagNoScript, handler: cmdDiscard},
		&command{name: "WATCH", arity: -2, flags: flagImmediate | flagNoScript, firstKey: 1, lastKey: -1, handler: cmdWatch},
		&command{name: "UNWATCH", arity: 1, flags: flagImmediate | flagNoScript, handler: cmdUnwatch},
	)
}

func cmdMulti(x *Executor, inv *invocation) protocol.Value {
	if err := inv.sess.tx.Begin(); err != nil {
		return errReply(err)
	}
	return protocol.OK
}

// cmdExec admits the queued batch: a poisoned queue aborts, an invalidated
// watch yields the null batch, and the fences run once before anything
// executes
func cmdExec(x *Executor, inv *invocation) protocol.Value {
	queue, ok, err := inv.sess.tx.Admit(func(db int, key string) uint64 {
		return x.store.KeyVersion(db, key)
	})
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return protocol.NullArray()
	}

	for _, queued := range queue {
		spec := lookupCommand(queued.Name)
		if spec != nil && spec.flags&flagWrite != 0 {
			if ferr := x.writeFence(); ferr != nil {
				return errReply(ferr)
			}
			break
		}
	}

	replies := make([]protocol.Value, 0, len(queue))
	for _, queued := range queue {
		replies = append(replies, x.dispatch(inv, queued))
	}
	return protocol.ArrayValue(replies...)
}

func cmdDiscard(x *Executor, inv *invocation) protocol.Value {
	if err := inv.sess.tx.Discard(); err != nil {
		return errReply(err)
	}
	return protocol.OK
}

func cmdWatch(x *Executor, inv *invocation) protocol.Value {
	for _, raw := range inv.cmd.Args {
		key := string(raw)
		err := inv.sess.tx.Watch(inv.sess.db, key, x.store.KeyVersion(inv.sess.db, key))
		if errors.Is(err, txn.ErrWatchInMulti) {
			return errReply(err)
		}
	}
	return protocol.OK
}

func cmdUnwatch(x *Executor, inv *invocation) protocol.Value {
	inv.sess.tx.Unwatch()
	return protocol.OK
}

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
		&command{name: "XADD", arity: -5, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXAdd},
		&command{name: "XLEN", arity: 2, firstKey: 1, lastKey: 1, handler: cmdXLen},
		&command{name: "XRANGE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdXRange},
		&command{name: "XREVRANGE", arity: -4, firstKey: 1, lastKey: 1, handler: cmdXRevRange},
		&command{name: "XREAD", arity: -4, firstKey: 0, handler: cmdXRead},
		&command{name: "XDEL", arity: -3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXDel},
		&command{name: "XTRIM", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXTrim},
		&command{name: "XSETID", arity: 3, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXSetID},
		&command{name: "XGROUP", arity: -2, flags: flagWrite, firstKey: 2, lastKey: 2, handler: cmdXGroup},
		&command{name: "XREADGROUP", arity: -7, flags: flagWrite, firstKey: 0, handler: cmdXReadGroup},
		&command{name: "XACK", arity: -4, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXAck},
		&command{name: "XCLAIM", arity: -6, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXClaim},
		&command{name: "XAUTOCLAIM", arity: -7, flags: flagWrite, firstKey: 1, lastKey: 1, handler: cmdXAutoClaim},
		&command{name: "XPENDING", arity: -3, firstKey: 1, lastKey: 1, handler: cmdXPending},
	)
}

// cmdXAdd resolves auto ids before propagating so replicas append the
// exact same entry
func cmdXAdd(x *Executor, inv *invocation) protocol.Value {
	key := inv.argStr(0)
	i := 1
	noMkStream := false
	maxLen := int64(-1)
	var minID *keyspace.StreamID
	for ; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "NOMKSTREAM":
			noMkStream = true
		case "MAXLEN":
			i++
			if i < inv.argc() && (inv.argStr(i) == "~" || inv.argStr(i) == "=") {
				i++
			}
			if i >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i))
			if err != nil {
				return errReply(err)
			}
			maxLen = n
		case "MINID":
			i++
			if i < inv.argc() && (inv.argStr(i) == "~" || inv.argStr(i) == "=") {
				i++
			}
			if i >= inv.argc() {
				return syntaxError()
			}
			id, err := keyspace.ParseStreamID(inv.argStr(i), 0)
			if err != nil {
				return errReply(err)
			}
			minID = &id
		default:
			goto parseID
		}
	}
parseID:
	if i >= inv.argc() {
		return wrongArity("XADD")
	}
	spec, err := keyspace.ParseXAddID(inv.argStr(i))
	if err != nil {
		return errReply(err)
	}
	i++
	rest := inv.argc() - i
	if rest == 0 || rest%2 != 0 {
		return wrongArity("XADD")
	}
	fields := make([]keyspace.FieldValue, 0, rest/2)
	for ; i < inv.argc(); i += 2 {
		fields = append(fields, keyspace.FieldValue{Field: inv.argStr(i), Value: inv.arg(i + 1)})
	}

	id, created, err := x.store.XAdd(inv.sess.db, key, spec, fields, noMkStream)
	if err != nil {
		return errReply(err)
	}
	if !created {
		return protocol.Null()
	}
	inv.emit(repl.XAddRecord(key, id, fields))

	if maxLen >= 0 {
		if n, err := x.store.XTrimMaxLen(inv.sess.db, key, maxLen); err == nil && n > 0 {
			inv.emit(protocol.NewCommand("XTRIM", key, "MAXLEN", strconv.FormatInt(maxLen, 10)))
		}
	}
	if minID != nil {
		if n, err := x.store.XTrimMinID(inv.sess.db, key, *minID); err == nil && n > 0 {
			inv.emit(protocol.NewCommand("XTRIM", key, "MINID", minID.String()))
		}
	}
	return protocol.BulkString(id.String())
}

func cmdXLen(x *Executor, inv *invocation) protocol.Value {
	n, err := x.store.XLen(inv.sess.db, inv.argStr(0))
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func (x *Executor) xrange(inv *invocation, rev bool) protocol.Value {
	start, err := keyspace.ParseRangeStart(inv.argStr(1))
	if err != nil {
		return errReply(err)
	}
	end, err := keyspace.ParseRangeEnd(inv.argStr(2))
	if err != nil {
		return errReply(err)
	}
	count := int64(-1)
	if inv.argc() > 3 {
		if inv.argc() != 5 || upperArg(inv.arg(3)) != "COUNT" {
			return syntaxError()
		}
		count, err = parseInt(inv.arg(4))
		if err != nil {
			return errReply(err)
		}
	}
	var entries []keyspace.StreamEntry
	if rev {
		// XREVRANGE takes end first
		entries, err = x.store.XRevRange(inv.sess.db, inv.argStr(0), start, end, count)
	} else {
		entries, err = x.store.XRange(inv.sess.db, inv.argStr(0), start, end, count)
	}
	if err != nil {
		return errReply(err)
	}
	return streamEntriesReply(entries)
}

func cmdXRange(x *Executor, inv *invocation) protocol.Value {
	return x.xrange(inv, false)
}

func cmdXRevRange(x *Executor, inv *invocation) protocol.Value {
	swapped := *inv
	swapped.cmd.Args = append([][]byte{inv.arg(0), inv.arg(2), inv.arg(1)}, inv.cmd.Args[3:]...)
	return x.xrange(&swapped, true)
}

// cmdXRead is the non-blocking form: entries after the given id, per key
func cmdXRead(x *Executor, inv *invocation) protocol.Value {
	count := int64(-1)
	i := 0
	for ; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "COUNT":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			count = n
			i++
		case "STREAMS":
			goto streams
		default:
			return syntaxError()
		}
	}
streams:
	i++
	rest := inv.argc() - i
	if rest <= 0 || rest%2 != 0 {
		return protocol.Err("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	nkeys := rest / 2
	var out []protocol.Value
	for k := 0; k < nkeys; k++ {
		key := inv.argStr(i + k)
		rawID := inv.argStr(i + nkeys + k)
		var after keyspace.StreamID
		if rawID == "$" {
			last, err := x.store.LastStreamID(inv.sess.db, key)
			if err != nil {
				return errReply(err)
			}
			after = last
		} else {
			id, err := keyspace.ParseStreamID(rawID, 0)
			if err != nil {
				return errReply(err)
			}
			after = id
		}
		entries, err := x.store.XRead(inv.sess.db, key, after, count)
		if err != nil {
			return errReply(err)
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, protocol.ArrayValue(protocol.BulkString(key), streamEntriesReply(entries)))
	}
	if len(out) == 0 {
		return protocol.NullArray()
	}
	return protocol.ArrayValue(out...)
}

func parseStreamIDs(inv *invocation, from int) ([]keyspace.StreamID, error) {
	ids := make([]keyspace.StreamID, 0, inv.argc()-from)
	for i := from; i < inv.argc(); i++ {
		id, err := keyspace.ParseStreamID(inv.argStr(i), 0)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func cmdXDel(x *Executor, inv *invocation) protocol.Value {
	ids, err := parseStreamIDs(inv, 1)
	if err != nil {
		return errReply(err)
	}
	n, err := x.store.XDel(inv.sess.db, inv.argStr(0), ids...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdXTrim(x *Executor, inv *invocation) protocol.Value {
	strategy := upperArg(inv.arg(1))
	i := 2
	if i < inv.argc() && (inv.argStr(i) == "~" || inv.argStr(i) == "=") {
		i++
	}
	if i >= inv.argc() {
		return syntaxError()
	}
	var trimmed int64
	switch strategy {
	case "MAXLEN":
		n, err := parseInt(inv.arg(i))
		if err != nil {
			return errReply(err)
		}
		trimmed, err = x.store.XTrimMaxLen(inv.sess.db, inv.argStr(0), n)
		if err != nil {
			return errReply(err)
		}
	case "MINID":
		id, err := keyspace.ParseStreamID(inv.argStr(i), 0)
		if err != nil {
			return errReply(err)
		}
		trimmed, err = x.store.XTrimMinID(inv.sess.db, inv.argStr(0), id)
		if err != nil {
			return errReply(err)
		}
	default:
		return syntaxError()
	}
	if trimmed > 0 {
		inv.verbatim()
	}
	return protocol.Int(trimmed)
}

func cmdXSetID(x *Executor, inv *invocation) protocol.Value {
	id, err := keyspace.ParseStreamID(inv.argStr(1), 0)
	if err != nil {
		return errReply(err)
	}
	if err := x.store.XSetID(inv.sess.db, inv.argStr(0), id); err != nil {
		return errReply(err)
	}
	inv.verbatim()
	return protocol.OK
}

func cmdXGroup(x *Executor, inv *invocation) protocol.Value {
	sub := upperArg(inv.arg(0))
	switch sub {
	case "CREATE":
		if inv.argc() < 4 {
			return wrongArity("XGROUP")
		}
		mkStream := inv.argc() == 5 && upperArg(inv.arg(4)) == "MKSTREAM"
		start, err := x.groupStartID(inv, inv.argStr(1), inv.argStr(3))
		if err != nil {
			return errReply(err)
		}
		if err := x.store.XGroupCreate(inv.sess.db, inv.argStr(1), inv.argStr(2), start, mkStream); err != nil {
			return errReply(err)
		}
		inv.emit(protocol.NewCommand("XGROUP", "CREATE", inv.argStr(1), inv.argStr(2), start.String(), "MKSTREAM"))
		return protocol.OK
	case "SETID":
		if inv.argc() != 4 {
			return wrongArity("XGROUP")
		}
		id, err := x.groupStartID(inv, inv.argStr(1), inv.argStr(3))
		if err != nil {
			return errReply(err)
		}
		if err := x.store.XGroupSetID(inv.sess.db, inv.argStr(1), inv.argStr(2), id); err != nil {
			return errReply(err)
		}
		inv.emit(protocol.NewCommand("XGROUP", "SETID", inv.argStr(1), inv.argStr(2), id.String()))
		return protocol.OK
	case "DESTROY":
		if inv.argc() != 3 {
			return wrongArity("XGROUP")
		}
		ok, err := x.store.XGroupDestroy(inv.sess.db, inv.argStr(1), inv.argStr(2))
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return protocol.Int(0)
		}
		inv.verbatim()
		return protocol.Int(1)
	case "DELCONSUMER":
		if inv.argc() != 4 {
			return wrongArity("XGROUP")
		}
		n, err := x.store.XGroupDelConsumer(inv.sess.db, inv.argStr(1), inv.argStr(2), inv.argStr(3))
		if err != nil {
			return errReply(err)
		}
		inv.verbatim()
		return protocol.Int(n)
	default:
		return protocol.Err("ERR Unknown XGROUP subcommand or wrong number of arguments for '" + inv.argStr(0) + "'")
	}
}

// groupStartID resolves "$" to the stream's current last id
func (x *Executor) groupStartID(inv *invocation, key, raw string) (keyspace.StreamID, error) {
	if raw == "$" {
		return x.store.LastStreamID(inv.sess.db, key)
	}
	return keyspace.ParseStreamID(raw, 0)
}

// cmdXReadGroup propagates each delivery as an exact XCLAIM record; with
// NOACK only the group cursor advance is propagated
func cmdXReadGroup(x *Executor, inv *invocation) protocol.Value {
	if upperArg(inv.arg(0)) != "GROUP" {
		return syntaxError()
	}
	group, consumer := inv.argStr(1), inv.argStr(2)
	count := int64(-1)
	noAck := false
	i := 3
	for ; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "COUNT":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, err := parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			count = n
			i++
		case "NOACK":
			noAck = true
		case "STREAMS":
			goto streams
		default:
			return syntaxError()
		}
	}
streams:
	i++
	rest := inv.argc() - i
	if rest <= 0 || rest%2 != 0 {
		return protocol.Err("ERR Unbalanced XREADGROUP list of streams: for each stream key an ID or '>' must be specified.")
	}
	nkeys := rest / 2
	var out []protocol.Value
	for k := 0; k < nkeys; k++ {
		key := inv.argStr(i + k)
		rawID := inv.argStr(i + nkeys + k)

		var entries []keyspace.StreamEntry
		var err error
		fresh := rawID == ">"
		if fresh {
			entries, err = x.store.XReadGroup(inv.sess.db, key, group, consumer, count, noAck)
		} else {
			var after keyspace.StreamID
			after, err = keyspace.ParseStreamID(rawID, 0)
			if err == nil {
				entries, err = x.store.XReadGroupPending(inv.sess.db, key, group, consumer, after, count)
			}
		}
		if err != nil {
			return errReply(err)
		}

		if fresh && len(entries) > 0 {
			if noAck {
				last := entries[len(entries)-1].ID
				inv.emit(protocol.NewCommand("XGROUP", "SETID", key, group, last.String()))
			} else {
				for _, ent := range entries {
					pe, ok, perr := x.store.XPendingEntry(inv.sess.db, key, group, ent.ID)
					if perr != nil || !ok {
						continue
					}
					inv.emit(repl.XClaimRecord(key, group, consumer, ent.ID, pe.DeliveryTime, pe.DeliveryCount))
				}
			}
		}
		if len(entries) == 0 && fresh {
			continue
		}
		out = append(out, protocol.ArrayValue(protocol.BulkString(key), streamEntriesReply(entries)))
	}
	if len(out) == 0 {
		return protocol.NullArray()
	}
	return protocol.ArrayValue(out...)
}

func cmdXAck(x *Executor, inv *invocation) protocol.Value {
	ids, err := parseStreamIDs(inv, 2)
	if err != nil {
		return errReply(err)
	}
	n, err := x.store.XAck(inv.sess.db, inv.argStr(0), inv.argStr(1), ids...)
	if err != nil {
		return errReply(err)
	}
	if n > 0 {
		inv.verbatim()
	}
	return protocol.Int(n)
}

func cmdXClaim(x *Executor, inv *invocation) protocol.Value {
	key, group, consumer := inv.argStr(0), inv.argStr(1), inv.argStr(2)
	minIdle, err := parseInt(inv.arg(3))
	if err != nil {
		return errReply(err)
	}

	var ids []keyspace.StreamID
	i := 4
	for ; i < inv.argc(); i++ {
		id, perr := keyspace.ParseStreamID(inv.argStr(i), 0)
		if perr != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return errReply(keyspace.ErrInvalidStreamID)
	}

	justID, force := false, false
	var exactTime, exactCount *int64
	for ; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "JUSTID":
			justID = true
		case "FORCE":
			force = true
		case "IDLE":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			idle, perr := parseInt(inv.arg(i + 1))
			if perr != nil {
				return errReply(perr)
			}
			t := x.nowMs() - idle
			exactTime = &t
			i++
		case "TIME":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			t, perr := parseInt(inv.arg(i + 1))
			if perr != nil {
				return errReply(perr)
			}
			exactTime = &t
			i++
		case "RETRYCOUNT":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			n, perr := parseInt(inv.arg(i + 1))
			if perr != nil {
				return errReply(perr)
			}
			exactCount = &n
			i++
		default:
			return syntaxError()
		}
	}

	// The exact form (TIME/RETRYCOUNT present) is what claim records use
	// on the wire: bookkeeping is installed verbatim, no idle filtering.
	if exactTime != nil || exactCount != nil {
		t := x.nowMs()
		if exactTime != nil {
			t = *exactTime
		}
		n := int64(1)
		if exactCount != nil {
			n = *exactCount
		}
		claimed := make([]protocol.Value, 0, len(ids))
		for _, id := range ids {
			if err := x.store.XClaimExact(inv.sess.db, key, group, consumer, id, t, n); err != nil {
				return errReply(err)
			}
			inv.emit(repl.XClaimRecord(key, group, consumer, id, t, n))
			claimed = append(claimed, protocol.BulkString(id.String()))
		}
		return protocol.ArrayValue(claimed...)
	}

	entries, err := x.store.XClaim(inv.sess.db, key, group, consumer, minIdle, ids, justID, force)
	if err != nil {
		return errReply(err)
	}
	for _, ent := range entries {
		pe, ok, perr := x.store.XPendingEntry(inv.sess.db, key, group, ent.ID)
		if perr != nil || !ok {
			continue
		}
		inv.emit(repl.XClaimRecord(key, group, consumer, ent.ID, pe.DeliveryTime, pe.DeliveryCount))
	}
	if justID {
		return protocol.ArrayValue(lo.Map(entries, func(e keyspace.StreamEntry, _ int) protocol.Value {
			return protocol.BulkString(e.ID.String())
		})...)
	}
	return streamEntriesReply(entries)
}

func cmdXAutoClaim(x *Executor, inv *invocation) protocol.Value {
	key, group, consumer := inv.argStr(0), inv.argStr(1), inv.argStr(2)
	minIdle, err := parseInt(inv.arg(3))
	if err != nil {
		return errReply(err)
	}
	start, err := keyspace.ParseRangeStart(inv.argStr(4))
	if err != nil {
		return errReply(err)
	}
	count := int64(100)
	justID := false
	for i := 5; i < inv.argc(); i++ {
		switch upperArg(inv.arg(i)) {
		case "COUNT":
			if i+1 >= inv.argc() {
				return syntaxError()
			}
			count, err = parseInt(inv.arg(i + 1))
			if err != nil {
				return errReply(err)
			}
			i++
		case "JUSTID":
			justID = true
		default:
			return syntaxError()
		}
	}
	cursor, claimed, deleted, err := x.store.XAutoClaim(inv.sess.db, key, group, consumer, minIdle, start, count)
	if err != nil {
		return errReply(err)
	}
	for _, ent := range claimed {
		pe, ok, perr := x.store.XPendingEntry(inv.sess.db, key, group, ent.ID)
		if perr != nil || !ok {
			continue
		}
		inv.emit(repl.XClaimRecord(key, group, consumer, ent.ID, pe.DeliveryTime, pe.DeliveryCount))
	}
	entriesReply := streamEntriesReply(claimed)
	if justID {
		entriesReply = protocol.ArrayValue(lo.Map(claimed, func(e keyspace.StreamEntry, _ int) protocol.Value {
			return protocol.BulkString(e.ID.String())
		})...)
	}
	return protocol.ArrayValue(
		protocol.BulkString(cursor.String()),
		entriesReply,
		protocol.ArrayValue(lo.Map(deleted, func(id keyspace.StreamID, _ int) protocol.Value {
			return protocol.BulkString(id.String())
		})...),
	)
}

func cmdXPending(x *Executor, inv *invocation) protocol.Value {
	key, group := inv.argStr(0), inv.argStr(1)
	if inv.argc() == 2 {
		sum, err := x.store.XPending(inv.sess.db, key, group)
		if err != nil {
			return errReply(err)
		}
		if sum.Count == 0 {
			return protocol.ArrayValue(protocol.Int(0), protocol.Null(), protocol.Null(), protocol.NullArray())
		}
		consumers := make([]protocol.Value, 0, len(sum.Consumers))
		for name, n := range sum.Consumers {
			consumers = append(consumers, protocol.ArrayValue(
				protocol.BulkString(name),
				protocol.BulkString(strconv.FormatInt(n, 10)),
			))
		}
		return protocol.ArrayValue(
			protocol.Int(sum.Count),
			protocol.BulkString(sum.MinID.String()),
			protocol.BulkString(sum.MaxID.String()),
			protocol.ArrayValue(consumers...),
		)
	}
	if inv.argc() < 5 {
		return syntaxError()
	}
	start, err := keyspace.ParseRangeStart(inv.argStr(2))
	if err != nil {
		return errReply(err)
	}
	end, err := keyspace.ParseRangeEnd(inv.argStr(3))
	if err != nil {
		return errReply(err)
	}
	count, err := parseInt(inv.arg(4))
	if err != nil {
		return errReply(err)
	}
	consumer := ""
	if inv.argc() == 6 {
		consumer = inv.argStr(5)
	}
	pending, err := x.store.XPendingRange(inv.sess.db, key, group, consumer, start, end, count)
	if err != nil {
		return errReply(err)
	}
	now := x.nowMs()
	return protocol.ArrayValue(lo.Map(pending, func(pe keyspace.PendingEntry, _ int) protocol.Value {
		return protocol.ArrayValue(
			protocol.BulkString(pe.ID.String()),
			protocol.BulkString(pe.Consumer),
			protocol.Int(now-pe.DeliveryTime),
			protocol.Int(pe.DeliveryCount),
		)
	})...)
}

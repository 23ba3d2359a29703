package persist

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

var aofBytesWritten = metrics.NewCounter("halcyon_append_log_bytes_total")

// AppendLog persists the canonical record stream to disk. It implements
// repl.Sink, so attaching it to the propagator is all the wiring the
// append log needs: the bytes on disk are exactly the replication stream.
type AppendLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenAppendLog opens (or creates) the log for appending
func OpenAppendLog(path string) (*AppendLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &AppendLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Feed appends stream bytes to the log
func (l *AppendLog) Feed(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	l.w.Write(data)
	aofBytesWritten.Add(len(data))
}

// Sync flushes buffered records and forces them to stable storage
func (l *AppendLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Sync()
}

// Size returns the current log size in bytes
func (l *AppendLog) Size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return 0, err
	}
	st, err := l.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Close flushes and closes the log
func (l *AppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	l.w = nil
	return l.f.Close()
}

// ReplayAppendLog feeds every complete record in the log through apply.
// A truncated final record, the normal aftermath of a crash mid-append,
// stops replay cleanly instead of failing it.
func ReplayAppendLog(path string, apply repl.ApplyFunc) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	a := repl.NewApplier("", 0, apply)
	if err := a.Ingest(data); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

// RewriteAppendLog replaces the log with the minimal canonical record
// sequence reconstructing the store's current content. The new log is
// assembled in a temp file and renamed into place.
func RewriteAppendLog(path string, store *keyspace.Store) error {
	var buf bytes.Buffer
	for db := 0; db < store.NumDatabases(); db++ {
		snap := store.SnapshotDB(db)
		if len(snap) == 0 {
			continue
		}
		appendRecord(&buf, repl.SelectRecord(db))
		for _, ks := range snap {
			if err := appendKeyRecords(&buf, ks); err != nil {
				return err
			}
		}
	}
	return atomicWrite(path, buf.Bytes())
}

func appendRecord(buf *bytes.Buffer, rec protocol.Command) {
	buf.Write(protocol.EncodeCommand(rec.Argv()))
}

func appendKeyRecords(buf *bytes.Buffer, ks keyspace.KeySnapshot) error {
	m := ks.Value
	switch m.Type {
	case keyspace.TypeString:
		// the SET form carries the expiry, no separate record needed
		appendRecord(buf, repl.SetRecord(ks.Key, m.Str, ks.ExpireAt, false))
		return nil
	case keyspace.TypeHash:
		args := [][]byte{[]byte(ks.Key)}
		for _, fv := range m.Hash {
			args = append(args, []byte(fv.Field), fv.Value)
		}
		appendRecord(buf, protocol.NewCommandBytes("HSET", args...))
	case keyspace.TypeList:
		args := [][]byte{[]byte(ks.Key)}
		args = append(args, m.List...)
		appendRecord(buf, protocol.NewCommandBytes("RPUSH", args...))
	case keyspace.TypeSet:
		appendRecord(buf, protocol.NewCommand("SADD", append([]string{ks.Key}, m.Set...)...))
	case keyspace.TypeZSet:
		args := []string{ks.Key}
		for _, sm := range m.ZSet {
			args = append(args, strconv.FormatFloat(sm.Score, 'f', -1, 64), sm.Member)
		}
		appendRecord(buf, protocol.NewCommand("ZADD", args...))
	case keyspace.TypeStream:
		appendStreamRecords(buf, ks.Key, m.Stream)
	default:
		return ErrCorrupt
	}
	if ks.ExpireAt != 0 {
		appendRecord(buf, repl.PExpireAtRecord(ks.Key, ks.ExpireAt))
	}
	return nil
}

func appendStreamRecords(buf *bytes.Buffer, key string, snap *keyspace.StreamSnapshot) {
	for _, ent := range snap.Entries {
		appendRecord(buf, repl.XAddRecord(key, ent.ID, ent.Fields))
	}
	// pin the high-water id even when the newest entries were deleted
	appendRecord(buf, protocol.NewCommand("XSETID", key, snap.LastID.String()))
	for _, g := range snap.Groups {
		appendRecord(buf, protocol.NewCommand(
			"XGROUP", "CREATE", key, g.Name, g.LastDelivered.String()))
		for _, pe := range g.Pending {
			appendRecord(buf, repl.XClaimRecord(
				key, g.Name, pe.Consumer, pe.ID, pe.DeliveryTime, pe.DeliveryCount))
		}
	}
}

package repl

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"github.com/halcyonkv/halcyon/protocol"
)

// Sink consumes the encoded replication stream in order. Replica feeds and
// the append-only log are both sinks.
type Sink interface {
	Feed(data []byte)
}

var (
	propagatedRecords = metrics.NewCounter("halcyon_propagated_records_total")
	propagatedBytes   = metrics.NewCounter("halcyon_propagated_bytes_total")
)

// Propagator turns batches of canonical write effects into the ordered
// replication stream
type Propagator struct {
	mu      sync.Mutex
	replID  string
	offset  int64
	lastDB  int
	backlog *Backlog
	sinks   []Sink
}

// PropagatorOption configures a Propagator
type PropagatorOption func(*Propagator)

// WithBacklogSize sets the partial-resync window in bytes
func WithBacklogSize(n int) PropagatorOption {
	return func(p *Propagator) {
		p.backlog = NewBacklog(n)
	}
}

// WithReplID pins the replication id, used when a promoted replica takes
// over its former primary's stream
func WithReplID(id string) PropagatorOption {
	return func(p *Propagator) {
		if id != "" {
			p.replID = id
		}
	}
}

// NewPropagator creates a Propagator with a fresh replication id
func NewPropagator(opts ...PropagatorOption) *Propagator {
	p := &Propagator{
		replID:  newReplID(),
		lastDB:  -1,
		backlog: NewBacklog(1 << 20),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newReplID() string {
	a, b := uuid.New(), uuid.New()
	return fmt.Sprintf("%x%x", a[:], b[:4])
}

// ReplID returns the stream's replication id
func (p *Propagator) ReplID() string {
	return p.replID
}

// Offset returns the current end offset of the stream
func (p *Propagator) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// AttachSink subscribes a consumer to all future stream bytes
func (p *Propagator) AttachSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// DetachSink unsubscribes a consumer
func (p *Propagator) DetachSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.sinks {
		if cur == s {
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			return
		}
	}
}

// NumSinks reports how many consumers are attached; the executor's
// min-replicas write fence reads this
func (p *Propagator) NumSinks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sinks)
}

// Feed appends one execution's canonical records to the stream. A SELECT
// marker precedes the batch when the database differs from the last
// propagated one, and batches of two or more records are framed in
// MULTI/EXEC so replicas apply them atomically. The returned offset is
// the stream position after the batch.
func (p *Propagator) Feed(db int, records ...protocol.Command) int64 {
	if len(records) == 0 {
		return p.Offset()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]protocol.Command, 0, len(records)+3)
	if db != p.lastDB {
		out = append(out, SelectRecord(db))
		p.lastDB = db
	}
	if len(records) >= 2 {
		out = append(out, protocol.NewCommand("MULTI"))
		out = append(out, records...)
		out = append(out, protocol.NewCommand("EXEC"))
	} else {
		out = append(out, records...)
	}

	for _, rec := range out {
		argv := rec.Argv()
		encoded := protocol.EncodeCommand(argv)
		if len(encoded) != protocol.EncodedCommandSize(argv) {
			// encoder and size computation must never disagree
			panic("repl: encoded record size mismatch")
		}
		p.backlog.Append(p.offset, encoded)
		p.offset += int64(len(encoded))
		propagatedRecords.Inc()
		propagatedBytes.Add(len(encoded))
		for _, s := range p.sinks {
			s.Feed(encoded)
		}
	}
	return p.offset
}

// SyncDecision is the answer to a resynchronization request
type SyncDecision struct {
	Partial bool
	ReplID  string
	Offset  int64  // stream position the replica continues from
	Catchup []byte // backlog bytes for a partial resync
}

// DecideSync answers a replica's resync request: a partial continuation
// when the replication id matches and the offset is still in the backlog
// window, a full snapshot sync otherwise.
func (p *Propagator) DecideSync(replID string, offset int64) SyncDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if replID == p.replID && p.backlog.Contains(offset) {
		catchup, err := p.backlog.ReadFrom(offset)
		if err == nil {
			return SyncDecision{Partial: true, ReplID: p.replID, Offset: p.offset, Catchup: catchup}
		}
	}
	return SyncDecision{Partial: false, ReplID: p.replID, Offset: p.offset}
}

// Window exposes the backlog's retained offset range
func (p *Propagator) Window() (first, end int64) {
	return p.backlog.Window()
}

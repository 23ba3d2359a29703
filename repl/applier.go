package repl

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/halcyonkv/halcyon/protocol"
)

// ApplyFunc executes one canonical record against the local keyspace
type ApplyFunc func(db int, cmd protocol.Command) error

// Applier is the replica-side consumer of the replication stream. It
// tracks the applied offset byte for byte, resolves SELECT markers into
// a current database and buffers MULTI/EXEC frames so a framed batch
// lands atomically.
type Applier struct {
	mu      sync.Mutex
	replID  string
	offset  int64
	db      int
	inMulti bool
	queue   []appliedRecord
	apply   ApplyFunc
}

type appliedRecord struct {
	db  int
	cmd protocol.Command
}

// NewApplier creates an Applier continuing the given stream position
func NewApplier(replID string, offset int64, apply ApplyFunc) *Applier {
	return &Applier{replID: replID, offset: offset, apply: apply}
}

// ReplID returns the stream id this applier follows
func (a *Applier) ReplID() string {
	return a.replID
}

// Offset returns the number of stream bytes fully applied
func (a *Applier) Offset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// Reset repositions the applier after a full resync
func (a *Applier) Reset(replID string, offset int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replID = replID
	a.offset = offset
	a.db = 0
	a.inMulti = false
	a.queue = nil
}

// Ingest consumes stream bytes, applying every complete record. The
// offset only advances past a record once it has been applied, so a
// partial resync resumes exactly where application stopped.
func (a *Applier) Ingest(data []byte) error {
	r := protocol.NewReader(bytes.NewReader(data))
	for {
		cmd, err := r.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := a.Apply(*cmd); err != nil {
			return err
		}
	}
}

// Apply executes one record and advances the offset by its exact encoded
// size
func (a *Applier) Apply(cmd protocol.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := int64(protocol.EncodedCommandSize(cmd.Argv()))

	switch cmd.Name {
	case "SELECT":
		if len(cmd.Args) != 1 {
			return errors.New("malformed SELECT in replication stream")
		}
		db, err := strconv.Atoi(string(cmd.Args[0]))
		if err != nil {
			return err
		}
		a.db = db
		a.offset += size
		return nil
	case "MULTI":
		a.inMulti = true
		a.queue = a.queue[:0]
		a.offset += size
		return nil
	case "EXEC":
		batch := a.queue
		a.queue = nil
		a.inMulti = false
		for _, rec := range batch {
			if err := a.apply(rec.db, rec.cmd); err != nil {
				return err
			}
		}
		a.offset += size
		return nil
	case "PING":
		// liveness marker, advances the offset only
		a.offset += size
		return nil
	}

	if a.inMulti {
		a.queue = append(a.queue, appliedRecord{db: a.db, cmd: cmd})
		a.offset += size
		return nil
	}
	if err := a.apply(a.db, cmd); err != nil {
		return err
	}
	a.offset += size
	return nil
}

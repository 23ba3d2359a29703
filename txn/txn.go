// Package txn implements the per-session transaction state machine:
// MULTI queueing, WATCH-based optimistic concurrency and the EXEC
// admission rules.
//
// A session's transaction moves between three states. Inactive sessions
// execute commands directly. MULTI switches to Queueing, where commands
// are validated and buffered instead of executed; any validation failure
// while queueing poisons the transaction (Dirty), and EXEC on a poisoned
// transaction aborts without running anything. Watches pair a key with
// the version it had at WATCH time; EXEC compares versions again and
// refuses the batch when any watched key changed, expired or reappeared.
package txn

import (
	"errors"

	"github.com/halcyonkv/halcyon/protocol"
)

// State is the transaction phase of a session
type State int

const (
	// Inactive means commands execute immediately
	Inactive State = iota
	// Queueing means commands buffer until EXEC or DISCARD
	Queueing
	// Dirty means a queueing error poisoned the transaction
	Dirty
)

var (
	// ErrNestedMulti rejects MULTI inside MULTI
	ErrNestedMulti = errors.New("MULTI calls can not be nested")

	// ErrExecWithoutMulti rejects EXEC with no open transaction
	ErrExecWithoutMulti = errors.New("EXEC without MULTI")

	// ErrDiscardWithoutMulti rejects DISCARD with no open transaction
	ErrDiscardWithoutMulti = errors.New("DISCARD without MULTI")

	// ErrWatchInMulti rejects WATCH while queueing
	ErrWatchInMulti = errors.New("WATCH inside MULTI is not allowed")

	// ErrExecAborted reports EXEC against a poisoned transaction
	ErrExecAborted = errors.New("EXECABORT Transaction discarded because of previous errors.")
)

// Watch pins one key to the version observed at WATCH time. Version 0
// means the key was absent; a key that appears, changes or disappears
// afterwards fails the comparison either way.
type Watch struct {
	DB      int
	Key     string
	Version uint64
}

// VersionFunc reports the current watch version of a key, 0 when absent
type VersionFunc func(db int, key string) uint64

// Txn is the transaction context of a single session
type Txn struct {
	state   State
	queue   []protocol.Command
	watches []Watch
}

// New returns an inactive transaction context
func New() *Txn {
	return &Txn{}
}

// State returns the current phase
func (t *Txn) State() State {
	return t.state
}

// Open reports whether a MULTI block is in progress (queueing or dirty)
func (t *Txn) Open() bool {
	return t.state != Inactive
}

// Begin starts a MULTI block
func (t *Txn) Begin() error {
	if t.state != Inactive {
		return ErrNestedMulti
	}
	t.state = Queueing
	return nil
}

// Enqueue buffers a validated command for EXEC
func (t *Txn) Enqueue(cmd protocol.Command) {
	t.queue = append(t.queue, cmd)
}

// Poison marks the transaction dirty after a queueing-time error. The
// command that failed is not queued; EXEC will abort the whole batch.
func (t *Txn) Poison() {
	if t.state == Queueing {
		t.state = Dirty
	}
}

// Queued returns the buffered commands in queueing order
func (t *Txn) Queued() []protocol.Command {
	return t.queue
}

// Watch records the current version of a key. Watches survive EXEC
// admission checks but never a completed EXEC, DISCARD or RESET.
func (t *Txn) Watch(db int, key string, version uint64) error {
	if t.state != Inactive {
		return ErrWatchInMulti
	}
	t.watches = append(t.watches, Watch{DB: db, Key: key, Version: version})
	return nil
}

// Unwatch drops every recorded watch
func (t *Txn) Unwatch() {
	t.watches = nil
}

// Watches returns the recorded watches
func (t *Txn) Watches() []Watch {
	return t.watches
}

// WatchesIntact re-reads every watched key and reports whether all of
// them still carry the version recorded at WATCH time
func (t *Txn) WatchesIntact(current VersionFunc) bool {
	for _, w := range t.watches {
		if current(w.DB, w.Key) != w.Version {
			return false
		}
	}
	return true
}

// Admit decides whether EXEC may run the batch. It returns the queued
// commands on success; ErrExecWithoutMulti or ErrExecAborted otherwise.
// A watch conflict is not an error: ok=false with a nil error means EXEC
// must answer with a null batch. Every outcome closes the transaction.
func (t *Txn) Admit(current VersionFunc) (cmds []protocol.Command, ok bool, err error) {
	switch t.state {
	case Inactive:
		return nil, false, ErrExecWithoutMulti
	case Dirty:
		t.Close()
		return nil, false, ErrExecAborted
	}
	if !t.WatchesIntact(current) {
		t.Close()
		return nil, false, nil
	}
	cmds = t.queue
	t.Close()
	return cmds, true, nil
}

// Discard abandons an open transaction
func (t *Txn) Discard() error {
	if t.state == Inactive {
		return ErrDiscardWithoutMulti
	}
	t.Close()
	return nil
}

// Close resets the transaction to inactive, dropping the queue and all
// watches
func (t *Txn) Close() {
	t.state = Inactive
	t.queue = nil
	t.watches = nil
}

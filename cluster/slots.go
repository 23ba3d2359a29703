package cluster

import (
	"errors"
	"fmt"
	"sync"
)

// Redirect errors carry the answer the client needs verbatim

// MovedError permanently redirects a slot to another node
type MovedError struct {
	Slot uint16
	Addr string
}

func (e *MovedError) Error() string {
	return fmt.Sprintf("MOVED %d %s", e.Slot, e.Addr)
}

// AskError redirects one request to the node importing the slot
type AskError struct {
	Slot uint16
	Addr string
}

func (e *AskError) Error() string {
	return fmt.Sprintf("ASK %d %s", e.Slot, e.Addr)
}

// ErrCrossSlot rejects multi-key operations spanning hash slots
var ErrCrossSlot = errors.New("CROSSSLOT Keys in request don't hash to the same slot")

// ErrSlotUnbound reports an operation on a slot no node owns
var ErrSlotUnbound = errors.New("CLUSTERDOWN Hash slot not served")

type slotState struct {
	owner     string // node id, "" when unbound
	migrating string // destination node id during handoff
	importing string // source node id during handoff
}

// SlotTable is one node's view of slot ownership and in-flight handoffs
type SlotTable struct {
	mu    sync.RWMutex
	self  string
	slots [SlotCount]slotState
	addrs map[string]string // node id -> client address
}

// NewSlotTable creates a table owned from the perspective of node self
func NewSlotTable(self string) *SlotTable {
	return &SlotTable{self: self, addrs: make(map[string]string)}
}

// Self returns the local node id
func (t *SlotTable) Self() string {
	return t.self
}

// SetNodeAddr records the client-facing address of a node, the address
// redirections quote
func (t *SlotTable) SetNodeAddr(nodeID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[nodeID] = addr
}

// Assign binds a slot to a node, clearing any handoff state. This is the
// SETSLOT NODE transition that completes a migration.
func (t *SlotTable) Assign(slot uint16, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slot] = slotState{owner: nodeID}
}

// AssignRange binds an inclusive slot range to a node
func (t *SlotTable) AssignRange(from, to uint16, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := int(from); s <= int(to); s++ {
		t.slots[s] = slotState{owner: nodeID}
	}
}

// SetMigrating marks a locally owned slot as draining toward dst
func (t *SlotTable) SetMigrating(slot uint16, dst string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[slot].owner != t.self {
		return fmt.Errorf("slot %d is not owned by this node", slot)
	}
	t.slots[slot].migrating = dst
	return nil
}

// SetImporting marks a slot as arriving from src
func (t *SlotTable) SetImporting(slot uint16, src string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slot].importing = src
}

// ClearHandoff drops any migrating/importing state on a slot
func (t *SlotTable) ClearHandoff(slot uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slot].migrating = ""
	t.slots[slot].importing = ""
}

// Owner returns the node owning a slot
func (t *SlotTable) Owner(slot uint16) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[slot].owner
}

// Migrating returns the handoff destination of a slot, "" when none
func (t *SlotTable) Migrating(slot uint16) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[slot].migrating
}

// OwnedSlots returns every slot bound to the local node
func (t *SlotTable) OwnedSlots() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint16, 0)
	for s := 0; s < SlotCount; s++ {
		if t.slots[s].owner == t.self {
			out = append(out, uint16(s))
		}
	}
	return out
}

func (t *SlotTable) addr(nodeID string) string {
	if a, ok := t.addrs[nodeID]; ok {
		return a
	}
	return nodeID
}

// Route decides whether the local node may serve an operation on a key in
// the given slot. keyPresent reports whether the key currently exists
// locally; asking whether the session sent ASKING for this request.
//
// Routing follows the handoff protocol: a migrating owner serves keys it
// still holds and ASK-redirects the ones already moved; an importing node
// serves only ASKING requests and MOVED-redirects the rest back to the
// owner of record.
func (t *SlotTable) Route(slot uint16, keyPresent, asking bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.slots[slot]
	if st.owner == "" {
		return ErrSlotUnbound
	}

	if st.owner == t.self {
		if st.migrating != "" && !keyPresent {
			return &AskError{Slot: slot, Addr: t.addr(st.migrating)}
		}
		return nil
	}

	if st.importing != "" && asking {
		return nil
	}
	return &MovedError{Slot: slot, Addr: t.addr(st.owner)}
}

package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Node is one cluster member as seen by the membership layer
type Node struct {
	ID     string
	Addr   string
	SeenAt time.Time
}

// NewNodeID mints a cluster-unique node identifier
func NewNodeID() string {
	return uuid.NewString()
}

// Transport exchanges membership views with peers. The concrete carrier
// is pluggable; tests use an in-process fan-out.
type Transport interface {
	// Exchange announces self to the peer at addr and returns the
	// peer's current view of the cluster
	Exchange(ctx context.Context, addr string, self Node) ([]Node, error)
}

// Membership tracks the known members of the cluster
type Membership struct {
	self  Node
	peers *xsync.MapOf[string, Node]
}

// NewMembership creates a membership view for the local node
func NewMembership(self Node) *Membership {
	return &Membership{
		self:  self,
		peers: xsync.NewMapOf[string, Node](),
	}
}

// Self returns the local node
func (m *Membership) Self() Node {
	return m.self
}

// Merge folds a received view into the local one. Newer sightings win;
// the local node is never stored as its own peer.
func (m *Membership) Merge(nodes []Node) {
	for _, n := range nodes {
		if n.ID == m.self.ID || n.ID == "" {
			continue
		}
		m.peers.Compute(n.ID, func(cur Node, loaded bool) (Node, bool) {
			if loaded && cur.SeenAt.After(n.SeenAt) {
				return cur, false
			}
			return n, false
		})
	}
}

// Meet contacts a peer, merges its view and returns the full local view.
// The peer learns about us from the announcement, so a single MEET wires
// both directions.
func (m *Membership) Meet(ctx context.Context, t Transport, addr string) error {
	self := m.self
	self.SeenAt = time.Now()
	view, err := t.Exchange(ctx, addr, self)
	if err != nil {
		return err
	}
	m.Merge(view)
	return nil
}

// Peers returns the known remote members ordered by id
func (m *Membership) Peers() []Node {
	out := make([]Node, 0, m.peers.Size())
	m.peers.Range(func(_ string, n Node) bool {
		out = append(out, n)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// View returns every known member, local node included
func (m *Membership) View() []Node {
	return append([]Node{m.self}, m.Peers()...)
}

// Forget drops a member from the view
func (m *Membership) Forget(nodeID string) {
	m.peers.Delete(nodeID)
}

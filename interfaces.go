package halcyon

import (
	"github.com/halcyonkv/halcyon/engine"
)

// Field represents a structured log field
type Field = engine.Field

// Logger interface for custom logging implementations. The engine and its
// components share this type; supply one with WithLogger.
type Logger = engine.Logger

// Session is one client's executor-side state: selected database, open
// transaction, ASKING admission.
type Session = engine.Session

// Role identifies a node's replication role
type Role = engine.Role

// Replication roles
const (
	RolePrimary = engine.RolePrimary
	RoleReplica = engine.RoleReplica
)

// ServerStats is a point-in-time view of the server's state
type ServerStats struct {
	Role              string
	ReplicationID     string
	ReplicationOffset int64
	ConnectedSinks    int
	Databases         int
	Keys              int64
}

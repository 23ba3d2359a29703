package engine

import "github.com/halcyonkv/halcyon/txn"

// Session carries the per-connection state the executor consults:
// selected database, open transaction, and the one-shot ASKING flag.
// Sessions are not safe for concurrent use; one connection, one session.
type Session struct {
	db     int
	tx     *txn.Txn
	asking bool
}

// NewSession creates a session on database 0
func NewSession() *Session {
	return &Session{tx: txn.New()}
}

// DB returns the selected database index
func (s *Session) DB() int {
	return s.db
}

// InMulti reports whether a transaction is open
func (s *Session) InMulti() bool {
	return s.tx.Open()
}

// Close releases any transaction state the session still holds
func (s *Session) Close() {
	s.tx.Close()
	s.asking = false
}

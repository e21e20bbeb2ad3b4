// Package core holds the data types shared by every memory-subsystem
// component: scopes, messages, roles, and memory fragments. Nothing in
// this package talks to the network, a file, or a database — it is the
// vocabulary the rest of the module is built from.
package core

import "fmt"

// Scope is the triple that partitions all stored memory. Two scopes
// that differ in any field never share fragments, in either direction.
type Scope struct {
	UserID    string
	SessionID string
	RoleID    string
}

// Key returns the deterministic collection name for this scope. It is
// a plain concatenation, not a hash, so operators can read collection
// names directly off disk under DATA_DIR/vectordb.
func (s Scope) Key() string {
	return fmt.Sprintf("scope_%s_%s_%s", s.UserID, s.SessionID, s.RoleID)
}

func (s Scope) String() string {
	return s.Key()
}

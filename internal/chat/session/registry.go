// Package session tracks the live binding of authenticated identities
// to their connections. The Registry is the single source of truth for
// who is online.
package session

import (
	"sync"
	"time"

	"github.com/parlorchat/parlor/internal/protocol"
)

// Conn is the connection handle the registry routes envelopes to. It is
// satisfied by the transport package's connection types; tests supply
// in-memory fakes.
type Conn interface {
	// Send writes one envelope to the peer.
	Send(env protocol.Envelope) error
	// Close tears down the underlying connection.
	Close() error
}

// Status is a session's presence state.
type Status string

// Presence states.
const (
	StatusOnline Status = "ONLINE"
	StatusAway   Status = "AWAY"
)

// Session is the live binding of one identity to one open connection.
type Session struct {
	// Identity is the authenticated username, the registry key.
	Identity string
	// Conn is the connection handle used for relays to this identity.
	Conn Conn
	// Status is the presence state shown to other users.
	Status Status
	// LoggedInAt records when the session was registered.
	LoggedInAt time.Time
}

// Registry is the concurrent mapping from identity to active session.
// All methods are safe for concurrent use. Mutations hold the lock only
// for the map operation itself, never across handler logic or I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts or replaces the session for identity.
//
// Postcondition: Returns the displaced session if one existed, or nil.
// A displaced connection is not closed here; the registry simply stops
// routing to it, and closing is the caller's responsibility.
func (r *Registry) Register(identity string, conn Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[identity]
	r.sessions[identity] = &Session{
		Identity:   identity,
		Conn:       conn,
		Status:     StatusOnline,
		LoggedInAt: time.Now(),
	}
	return prev
}

// Lookup returns the current connection for identity.
//
// Postcondition: Returns (conn, true) if the identity is online, or
// (nil, false) if absent.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[identity]
	if !ok {
		return nil, false
	}
	return sess.Conn, true
}

// Get returns a snapshot of the session state for identity. A copy is
// returned so callers never observe Status mid-update.
func (r *Registry) Get(identity string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[identity]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Remove deletes the session entry for identity. Idempotent.
//
// Postcondition: Returns true if an entry was removed. If conn is
// non-nil, the entry is only removed when it still routes to conn, so
// a stale handler cannot evict the session of a later login.
func (r *Registry) Remove(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[identity]
	if !ok {
		return false
	}
	if conn != nil && sess.Conn != conn {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// SetStatus updates the presence state for identity.
//
// Postcondition: Returns false if the identity is not online.
func (r *Registry) SetStatus(identity string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[identity]
	if !ok {
		return false
	}
	sess.Status = status
	return true
}

// ForEachOnline calls visitor for every online identity. It iterates a
// snapshot taken under the lock, so the visitor may itself mutate the
// registry (or block on I/O) without deadlocking.
func (r *Registry) ForEachOnline(visitor func(identity string, conn Conn)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	for _, sess := range snapshot {
		visitor(sess.Identity, sess.Conn)
	}
}

// Online reports whether identity has a live session.
func (r *Registry) Online(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[identity]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

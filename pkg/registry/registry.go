// Package registry provides authoritative bookkeeping of live connections
// and their topic subscriptions. It performs no I/O of its own; the broker
// layers message handling and delivery on top.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Authenticator validates connection credentials.
// Implementations must not retain the credentials map.
type Authenticator interface {
	// Authenticate returns the user id for the credentials, or ok=false
	// if they are rejected.
	Authenticate(credentials map[string]any) (userID string, ok bool)
}

// TokenAuthenticator authenticates against a static token → user id table.
// Used by the demo deployment; production replaces it behind the same
// interface.
type TokenAuthenticator map[string]string

// Authenticate implements Authenticator.
func (a TokenAuthenticator) Authenticate(credentials map[string]any) (string, bool) {
	token, _ := credentials["token"].(string)
	if token == "" {
		return "", false
	}
	user, ok := a[token]
	return user, ok
}

// Connection is a snapshot of one registered connection's state.
type Connection struct {
	ID            string
	Authenticated bool
	UserID        string
	Topics        []string
	LastSeen      time.Time
}

type connState struct {
	id            string
	authenticated bool
	userID        string
	topics        map[string]struct{}
	lastSeen      time.Time
}

// Registry tracks live connections. Safe for concurrent use.
// Constructed once at process start and passed by handle; there is no
// package-level instance.
type Registry struct {
	mu    sync.RWMutex
	auth  Authenticator
	conns map[string]*connState
}

// New creates a registry using the given authenticator.
// A nil authenticator rejects every credential set.
func New(auth Authenticator) *Registry {
	return &Registry{
		auth:  auth,
		conns: make(map[string]*connState),
	}
}

// Register admits a new connection and returns its fresh identifier.
// The connection starts unauthenticated with no subscriptions.
func (r *Registry) Register() string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connState{
		id:       id,
		topics:   make(map[string]struct{}),
		lastSeen: time.Now(),
	}
	return id
}

// Remove deletes the connection's state. Removing an unknown or already
// removed id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Subscribe adds a topic to the connection's subscription set.
// No-op if the connection is unknown (it may have raced a disconnect).
func (r *Registry) Subscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.topics[topic] = struct{}{}
	}
}

// Unsubscribe removes a topic from the connection's subscription set.
// No-op if the connection is unknown.
func (r *Registry) Unsubscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		delete(c.topics, topic)
	}
}

// SubscribersOf returns the ids of connections currently subscribed to the
// topic. The result reflects all prior mutations.
func (r *Registry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, c := range r.conns {
		if _, ok := c.topics[topic]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Authenticate validates credentials for a connection. On success the
// connection is marked authenticated with the resolved user id; on failure
// state is left untouched and ok=false is returned.
func (r *Registry) Authenticate(id string, credentials map[string]any) (string, bool) {
	if r.auth == nil {
		return "", false
	}
	user, ok := r.auth.Authenticate(credentials)
	if !ok {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.conns[id]
	if !found {
		return "", false
	}
	c.authenticated = true
	c.userID = user
	return user, true
}

// Heartbeat records liveness for a connection. Returns false for unknown ids.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.lastSeen = time.Now()
	return true
}

// Stale returns ids of connections whose last heartbeat is older than the
// timeout. The janitor uses this for idle eviction.
func (r *Registry) Stale(timeout time.Duration) []string {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.conns {
		if c.lastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns a snapshot of one connection's state.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return snapshot(c), true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func snapshot(c *connState) Connection {
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return Connection{
		ID:            c.id,
		Authenticated: c.authenticated,
		UserID:        c.userID,
		Topics:        topics,
		LastSeen:      c.lastSeen,
	}
}

// Package registry is the authoritative map of live connections.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
)

// Connection is one live transport session and its transient state.
// Mutated only through Registry operations.
type Connection struct {
	ID           core.ConnID
	Identity     *domain.Identity // nil until authenticated
	Status       domain.PresenceStatus
	Voice        domain.VoiceState
	VoiceChannel string // channel id, empty when not in a voice room
	Sink         core.Sink
}

// UID returns the bound identity's uid, empty when unauthenticated.
func (c *Connection) UID() domain.UID {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.UID
}

// Registry owns the connection map. A single mutex serializes mutation;
// reads hand out snapshot copies so no caller ever observes a
// partially-updated entry.
type Registry struct {
	mu     sync.RWMutex
	byConn map[core.ConnID]*Connection
	byUID  map[domain.UID]core.ConnID

	// onChange is invoked (outside the lock) after every mutating call;
	// the orchestrator installs the presence broadcast here.
	onChange func()
}

func New() *Registry {
	return &Registry{
		byConn: make(map[core.ConnID]*Connection),
		byUID:  make(map[domain.UID]core.ConnID),
	}
}

// SetOnChange installs the hook fired after each mutation. Must be called
// during wiring, before any connection registers.
func (r *Registry) SetOnChange(fn func()) {
	r.onChange = fn
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Register binds an authenticated connection. It fails if the conn id is
// already registered or the uid already has a live connection; callers
// evict the prior connection first (forced-logout semantics).
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	if _, exists := r.byConn[conn.ID]; exists {
		r.mu.Unlock()
		return &domain.ValidationError{Field: "conn", Reason: "already registered"}
	}
	uid := conn.UID()
	if _, exists := r.byUID[uid]; exists {
		r.mu.Unlock()
		return &domain.ValidationError{Field: "uid", Reason: "already connected"}
	}
	if conn.Status == "" {
		conn.Status = domain.StatusOnline
	}
	r.byConn[conn.ID] = conn
	r.byUID[uid] = conn.ID
	r.mu.Unlock()

	log.Info().Str("module", "registry").Str("conn", string(conn.ID)).Str("uid", string(uid)).Msg("connection registered")
	r.changed()
	return nil
}

// Unregister removes a connection. Idempotent: unknown ids are a no-op
// and report false. Room cascade is the orchestrator's job and runs
// before this call.
func (r *Registry) Unregister(id core.ConnID) (Connection, bool) {
	r.mu.Lock()
	conn, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return Connection{}, false
	}
	delete(r.byConn, id)
	delete(r.byUID, conn.UID())
	snap := *conn
	r.mu.Unlock()

	log.Info().Str("module", "registry").Str("conn", string(id)).Msg("connection unregistered")
	r.changed()
	return snap, true
}

// FindByConn returns a snapshot copy of the connection.
func (r *Registry) FindByConn(id core.ConnID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byConn[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// FindByUID resolves a uid to its live connection snapshot, if any.
func (r *Registry) FindByUID(uid domain.UID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUID[uid]
	if !ok {
		return Connection{}, false
	}
	conn, ok := r.byConn[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// SinkOf resolves the outbound side of a connection.
func (r *Registry) SinkOf(id core.ConnID) (core.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byConn[id]
	if !ok || conn.Sink == nil {
		return nil, false
	}
	return conn.Sink, true
}

// UpdateStatus sets the presence status. Unknown ids report NotFoundError
// to the caller context; nothing is thrown into the transport layer.
func (r *Registry) UpdateStatus(id core.ConnID, status domain.PresenceStatus) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	return r.mutate(id, func(c *Connection) {
		c.Status = status
	})
}

// SetMuted / SetDeafened / SetSpeaking flip the transient voice flags.
func (r *Registry) SetMuted(id core.ConnID, on bool) error {
	return r.mutate(id, func(c *Connection) { c.Voice.Muted = on })
}

func (r *Registry) SetDeafened(id core.ConnID, on bool) error {
	return r.mutate(id, func(c *Connection) { c.Voice.Deafened = on })
}

func (r *Registry) SetSpeaking(id core.ConnID, on bool) error {
	return r.mutate(id, func(c *Connection) { c.Voice.Speaking = on })
}

// SetVoiceChannel records which voice room the connection occupies.
// Empty clears it. A connection is in at most one voice room at a time,
// which this single field enforces by construction.
func (r *Registry) SetVoiceChannel(id core.ConnID, channelID string) error {
	return r.mutate(id, func(c *Connection) {
		c.VoiceChannel = channelID
		if channelID == "" {
			c.Voice.Speaking = false
		}
	})
}

// UpdateIdentity applies fn to the cached identity (profile update, role
// change, ban toggle write-through happens at the store first).
func (r *Registry) UpdateIdentity(id core.ConnID, fn func(*domain.Identity)) error {
	return r.mutate(id, func(c *Connection) {
		if c.Identity != nil {
			ident := *c.Identity
			fn(&ident)
			c.Identity = &ident
		}
	})
}

func (r *Registry) mutate(id core.ConnID, fn func(*Connection)) error {
	r.mu.Lock()
	conn, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return &domain.NotFoundError{Kind: "connection", Key: string(id)}
	}
	fn(conn)
	r.mu.Unlock()
	r.changed()
	return nil
}

// Snapshot returns copies of all live connections taken under one lock
// acquisition, so every outbound roster reflects a single atomic state.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, *c)
	}
	return out
}

// Count reports live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

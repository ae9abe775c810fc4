// Package rooms computes fan-out sets for broadcast, voice and DM targets.
package rooms

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
)

// Router tracks explicit membership for Broadcast and Voice rooms. DM
// membership is never tracked: it is computed per message from the uid
// pair. Delivery order per member is FIFO because each connection drains
// a single send queue; the set itself carries no ordering guarantee.
type Router struct {
	mu      sync.RWMutex
	members map[domain.RoomKey]map[core.ConnID]struct{}

	reg *registry.Registry
}

func NewRouter(reg *registry.Registry) *Router {
	return &Router{
		members: make(map[domain.RoomKey]map[core.ConnID]struct{}),
		reg:     reg,
	}
}

// Join adds a connection to an explicit-membership room. DM keys are
// rejected: there is nothing to join.
func (r *Router) Join(id core.ConnID, key domain.RoomKey) error {
	if key.Kind() == domain.RoomDM {
		return &domain.ValidationError{Field: "room", Reason: "dm rooms have no explicit membership"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[key]
	if !ok {
		set = make(map[core.ConnID]struct{})
		r.members[key] = set
	}
	set[id] = struct{}{}
	log.Debug().Str("module", "rooms").Str("conn", string(id)).Str("room", key.String()).Msg("joined")
	return nil
}

// Leave removes a connection from a room. Leaving a room the connection
// is not a member of is a no-op.
func (r *Router) Leave(id core.ConnID, key domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[key]; ok {
		delete(set, id)
		if len(set) == 0 && key.Kind() != domain.RoomBroadcast {
			delete(r.members, key)
		}
	}
}

// LeaveAll removes the connection from every room it occupies and
// returns the voice rooms it left, so the caller can emit user-left
// notifications. Runs synchronously on disconnect, before any further
// broadcast is computed.
func (r *Router) LeaveAll(id core.ConnID) []domain.RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var voice []domain.RoomKey
	for key, set := range r.members {
		if _, ok := set[id]; !ok {
			continue
		}
		delete(set, id)
		if key.Kind() == domain.RoomVoice {
			voice = append(voice, key)
		}
		if len(set) == 0 && key.Kind() != domain.RoomBroadcast {
			delete(r.members, key)
		}
	}
	return voice
}

// IsMember reports explicit membership.
func (r *Router) IsMember(id core.ConnID, key domain.RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[key]
	if !ok {
		return false
	}
	_, in := set[id]
	return in
}

// Fanout computes the delivery set for a room key. For Broadcast and
// Voice it is the current explicit membership; for DM it resolves each
// participant uid to its live connection, so the sender's own connection
// is always part of the set while an offline peer simply drops out.
func (r *Router) Fanout(key domain.RoomKey) []core.ConnID {
	if key.Kind() == domain.RoomDM {
		a, b := key.Participants()
		out := make([]core.ConnID, 0, 2)
		if conn, ok := r.reg.FindByUID(a); ok {
			out = append(out, conn.ID)
		}
		if b != a {
			if conn, ok := r.reg.FindByUID(b); ok {
				out = append(out, conn.ID)
			}
		}
		return out
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.members[key]
	out := make([]core.ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MemberCount reports explicit membership size.
func (r *Router) MemberCount(key domain.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[key])
}

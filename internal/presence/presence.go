// Package presence merges the persisted roster with live connections.
package presence

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/store"
)

// RosterEntry is one broadcastable row of the user list. Live status
// fields are zero-valued for offline identities.
type RosterEntry struct {
	UID          domain.UID            `json:"uid"`
	Nickname     string                `json:"nickname"`
	AvatarURL    string                `json:"avatarUrl"`
	Role         domain.Role           `json:"role"`
	Banned       bool                  `json:"banned"`
	IsOnline     bool                  `json:"isOnline"`
	Status       domain.PresenceStatus `json:"status,omitempty"`
	Voice        domain.VoiceState     `json:"voice"`
	VoiceChannel string                `json:"voiceChannel,omitempty"`
}

// Aggregator computes rosters. It never suppresses or debounces: each
// trigger yields exactly one broadcast, driven by the orchestrator.
type Aggregator struct {
	identities store.IdentityStore
	reg        *registry.Registry
}

func NewAggregator(identities store.IdentityStore, reg *registry.Registry) *Aggregator {
	return &Aggregator{identities: identities, reg: reg}
}

// ComputeRoster left-joins all persisted identities with the live
// connection snapshot. Sort: online first, then nickname ascending,
// uid as the deterministic tie-break. A store failure degrades to the
// live-connections-only view rather than failing the broadcast.
func (a *Aggregator) ComputeRoster(ctx context.Context) []RosterEntry {
	// One atomic registry snapshot; never a partially-updated view.
	live := a.reg.Snapshot()
	byUID := make(map[domain.UID]registry.Connection, len(live))
	for _, conn := range live {
		byUID[conn.UID()] = conn
	}

	idents, err := a.identities.ListIdentities(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "presence").Msg("roster store read failed, degrading to live view")
		idents = nil
		for _, conn := range live {
			if conn.Identity != nil {
				idents = append(idents, *conn.Identity)
			}
		}
	}

	out := make([]RosterEntry, 0, len(idents))
	for _, ident := range idents {
		entry := RosterEntry{
			UID:       ident.UID,
			Nickname:  ident.Nickname,
			AvatarURL: ident.AvatarURL,
			Role:      ident.Role,
			Banned:    ident.Banned,
		}
		if conn, ok := byUID[ident.UID]; ok {
			entry.IsOnline = true
			entry.Status = conn.Status
			entry.Voice = conn.Voice
			entry.VoiceChannel = conn.VoiceChannel
			// The live cache may carry a fresher nickname/avatar than the
			// listing we just read.
			if conn.Identity != nil {
				entry.Nickname = conn.Identity.Nickname
				entry.AvatarURL = conn.Identity.AvatarURL
				entry.Role = conn.Identity.Role
				entry.Banned = conn.Identity.Banned
			}
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsOnline != out[j].IsOnline {
			return out[i].IsOnline
		}
		ni, nj := strings.ToLower(out[i].Nickname), strings.ToLower(out[j].Nickname)
		if ni != nj {
			return ni < nj
		}
		return out[i].UID < out[j].UID
	})
	return out
}

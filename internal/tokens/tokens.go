// Package tokens keeps the ephemeral single-use auto-login token ledger.
package tokens

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/domain"
)

// Store maps opaque token strings to uids. Tokens live in memory only;
// a process restart invalidates all of them, which forces a normal login.
type Store struct {
	mu     sync.Mutex
	byTok  map[string]domain.UID
	byUID  map[domain.UID]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		byTok: make(map[string]domain.UID),
		byUID: make(map[domain.UID]map[string]struct{}),
	}
}

// Issue creates a fresh token bound to uid.
func (s *Store) Issue(uid domain.UID) string {
	tok := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTok[tok] = uid
	set, ok := s.byUID[uid]
	if !ok {
		set = make(map[string]struct{})
		s.byUID[uid] = set
	}
	set[tok] = struct{}{}
	log.Debug().Str("module", "tokens").Str("uid", string(uid)).Msg("token issued")
	return tok
}

// Consume atomically validates and deletes a token, then issues a
// replacement bound to the same uid. A token validates at most once: no
// other Consume can observe it after this critical section begins.
// The second return is false on a miss, which is not an error condition.
func (s *Store) Consume(tok string) (domain.UID, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.byTok[tok]
	if !ok {
		return "", "", false
	}
	delete(s.byTok, tok)
	if set, ok := s.byUID[uid]; ok {
		delete(set, tok)
	}

	next := uuid.NewString()
	s.byTok[next] = uid
	set, ok := s.byUID[uid]
	if !ok {
		set = make(map[string]struct{})
		s.byUID[uid] = set
	}
	set[next] = struct{}{}
	log.Debug().Str("module", "tokens").Str("uid", string(uid)).Msg("token consumed and rotated")
	return uid, next, true
}

// RevokeAll invalidates every token bound to uid (logout path).
func (s *Store) RevokeAll(uid domain.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.byUID[uid] {
		delete(s.byTok, tok)
	}
	delete(s.byUID, uid)
	log.Debug().Str("module", "tokens").Str("uid", string(uid)).Msg("tokens revoked")
}

// Count reports live tokens; used by tests and metrics.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTok)
}

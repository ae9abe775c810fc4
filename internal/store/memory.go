package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurachat/aurad/internal/domain"
)

// Memory is the in-memory Store used by tests and throwaway servers.
// One mutex serializes everything, which also gives UpdateReactions the
// same read-modify-write atomicity the SQLite transaction provides.
type Memory struct {
	mu            sync.Mutex
	identities    map[domain.UID]domain.Identity
	messages      map[string]domain.Message
	order         []string // message ids in append order
	channels      map[string]domain.Channel
	conversations map[string]domain.ConversationSummary
	now           func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		identities:    make(map[domain.UID]domain.Identity),
		messages:      make(map[string]domain.Message),
		channels:      make(map[string]domain.Channel),
		conversations: make(map[string]domain.ConversationSummary),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateIdentity(_ context.Context, ident *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identities {
		if existing.Email == ident.Email {
			return &domain.AuthError{Code: domain.CodeEmailInUse}
		}
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = m.now()
	}
	m.identities[ident.UID] = *ident
	return nil
}

func (m *Memory) GetIdentity(_ context.Context, uid domain.UID) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident, ok := m.identities[uid]; ok {
		out := ident
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) GetIdentityByEmail(_ context.Context, email string) (*domain.Identity, error) {
	email = domain.NormalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Email == email {
			out := ident
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListIdentities(_ context.Context) ([]domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountIdentities(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities), nil
}

func (m *Memory) UpdateIdentity(_ context.Context, ident *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[ident.UID]; !ok {
		return &domain.NotFoundError{Kind: "identity", Key: string(ident.UID)}
	}
	m.identities[ident.UID] = *ident
	return nil
}

func (m *Memory) SetIdentityRole(_ context.Context, uid domain.UID, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[uid]
	if !ok {
		return &domain.NotFoundError{Kind: "identity", Key: string(uid)}
	}
	ident.Role = role
	m.identities[uid] = ident
	return nil
}

func (m *Memory) SetIdentityBanned(_ context.Context, uid domain.UID, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[uid]
	if !ok {
		return &domain.NotFoundError{Kind: "identity", Key: string(uid)}
	}
	ident.Banned = banned
	m.identities[uid] = ident
	return nil
}

func (m *Memory) DeleteIdentity(_ context.Context, uid domain.UID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, uid)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.now()
	m.messages[msg.ID] = *msg
	m.order = append(m.order, msg.ID)
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		out := msg
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) UpdateMessageContent(_ context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return &domain.NotFoundError{Kind: "message", Key: id}
	}
	msg.Content = content
	msg.Edited = true
	m.messages[id] = msg
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *Memory) MessagesByRoom(_ context.Context, roomKey string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, id := range m.order {
		if msg, ok := m.messages[id]; ok && msg.Room == roomKey {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) UpdateReactions(_ context.Context, id string, fn func(map[string][]domain.UID)) (map[string][]domain.UID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "message", Key: id}
	}
	reactions := make(map[string][]domain.UID, len(msg.Reactions))
	for emoji, uids := range msg.Reactions {
		reactions[emoji] = append([]domain.UID(nil), uids...)
	}
	fn(reactions)
	if len(reactions) == 0 {
		msg.Reactions = nil
	} else {
		msg.Reactions = reactions
	}
	m.messages[id] = msg
	return reactions, nil
}

func (m *Memory) CreateChannel(_ context.Context, ch *domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = m.now()
	}
	m.channels[ch.ID] = *ch
	return nil
}

func (m *Memory) DeleteChannel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	return nil
}

func (m *Memory) GetChannel(_ context.Context, id string) (*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[id]; ok {
		out := ch
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) ListChannels(_ context.Context) ([]domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpsertConversation(_ context.Context, sum domain.ConversationSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[sum.Key] = sum
	return nil
}

func (m *Memory) ConversationsOf(_ context.Context, uid domain.UID) ([]domain.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationSummary
	for _, sum := range m.conversations {
		if sum.Participants[0] == uid || sum.Participants[1] == uid {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

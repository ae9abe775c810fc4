// Package store defines the document-store collaborator the coordinator
// persists through, plus its SQLite and in-memory implementations.
package store

import (
	"context"

	"github.com/aurachat/aurad/internal/domain"
)

// Store is the full persistence surface. Get-style calls return
// (nil, nil) on a miss; callers decide whether a miss is an error.
type Store interface {
	IdentityStore
	MessageStore
	ChannelStore
	ConversationStore
	Close() error
}

type IdentityStore interface {
	CreateIdentity(ctx context.Context, ident *domain.Identity) error
	GetIdentity(ctx context.Context, uid domain.UID) (*domain.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error)
	ListIdentities(ctx context.Context) ([]domain.Identity, error)
	CountIdentities(ctx context.Context) (int, error)
	UpdateIdentity(ctx context.Context, ident *domain.Identity) error
	SetIdentityRole(ctx context.Context, uid domain.UID, role domain.Role) error
	SetIdentityBanned(ctx context.Context, uid domain.UID, banned bool) error
	DeleteIdentity(ctx context.Context, uid domain.UID) error
}

type MessageStore interface {
	// AppendMessage assigns the message id and server timestamp.
	AppendMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string) error
	// MessagesByRoom returns up to limit messages for a room, oldest first.
	MessagesByRoom(ctx context.Context, roomKey string, limit int) ([]domain.Message, error)
	// UpdateReactions runs fn against the latest persisted reaction map
	// inside a transaction and writes the result back. Concurrent updates
	// to the same message serialize on the store, never on a cached copy.
	UpdateReactions(ctx context.Context, id string, fn func(map[string][]domain.UID)) (map[string][]domain.UID, error)
}

type ChannelStore interface {
	CreateChannel(ctx context.Context, ch *domain.Channel) error
	DeleteChannel(ctx context.Context, id string) error
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	ListChannels(ctx context.Context) ([]domain.Channel, error)
}

type ConversationStore interface {
	UpsertConversation(ctx context.Context, sum domain.ConversationSummary) error
	ConversationsOf(ctx context.Context, uid domain.UID) ([]domain.ConversationSummary, error)
}

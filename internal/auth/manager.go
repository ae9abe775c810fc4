// Package auth orchestrates registration, login, session resume and
// logout. Credential checks and identity storage belong to external
// collaborators; this package only coordinates them.
package auth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/authprovider"
	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/store"
	"github.com/aurachat/aurad/internal/tokens"
)

// Manager is the AuthSessionManager.
type Manager struct {
	provider authprovider.Provider
	store    store.Store
	reg      *registry.Registry
	tokens   *tokens.Store

	// regMu serializes the count-and-create pair in Register so two
	// concurrent first registrations cannot both claim the founder role.
	regMu sync.Mutex

	// EvictFn runs the full disconnect of a prior connection for the same
	// uid before a new one registers (forced-logout). The orchestrator
	// installs it so room cascade and the kicked notice happen there.
	EvictFn func(old registry.Connection)
}

func NewManager(provider authprovider.Provider, st store.Store, reg *registry.Registry, tok *tokens.Store) *Manager {
	return &Manager{provider: provider, store: st, reg: reg, tokens: tok}
}

// Register creates a new identity. The first identity ever created gets
// the founder role; the count comes from the store, not local state, so
// the bootstrap survives process restarts.
func (m *Manager) Register(ctx context.Context, nickname, email, password string) (*domain.Identity, error) {
	if err := domain.ValidateNickname(nickname); err != nil {
		return nil, &domain.ValidationError{Field: "nickname", Reason: err.Error()}
	}
	if err := domain.ValidateEmail(email); err != nil {
		return nil, &domain.ValidationError{Field: "email", Reason: err.Error()}
	}

	uid, err := m.provider.CreateIdentity(ctx, email, password, nickname)
	if err != nil {
		return nil, err
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	count, err := m.store.CountIdentities(ctx)
	if err != nil {
		m.compensate(ctx, uid)
		return nil, &domain.CollaboratorError{Op: "count identities", Err: err}
	}
	role := domain.RoleMember
	if count == 0 {
		role = domain.RoleFounder
	}

	ident := &domain.Identity{
		UID:       uid,
		Nickname:  nickname,
		AvatarURL: domain.DefaultAvatarURLs[rand.IntN(len(domain.DefaultAvatarURLs))],
		Email:     domain.NormalizeEmail(email),
		Role:      role,
	}
	if err := m.store.CreateIdentity(ctx, ident); err != nil {
		m.compensate(ctx, uid)
		return nil, fmt.Errorf("auth: persist identity: %w", err)
	}

	log.Info().Str("module", "auth").Str("uid", string(uid)).Str("role", role.String()).Msg("registered")
	return ident, nil
}

// compensate removes the credentials a failed registration left behind
// so the email is not permanently stuck without an identity record.
func (m *Manager) compensate(ctx context.Context, uid domain.UID) {
	if err := m.provider.DeleteIdentity(ctx, uid); err != nil {
		log.Error().Err(err).Str("module", "auth").Str("uid", string(uid)).Msg("orphan credentials left behind")
	}
}

// Login verifies credentials, rejects banned identities before any
// Connection exists, evicts a prior same-uid connection, registers the
// new one and optionally issues an auto-login token.
func (m *Manager) Login(ctx context.Context, connID core.ConnID, sink core.Sink, email, password string, rememberMe bool) (*domain.Identity, string, error) {
	uid, err := m.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	return m.finishLogin(ctx, connID, sink, uid, rememberMe)
}

// Resume consumes an auto-login token. A miss is not an error: the
// caller falls through to requiring a normal login. A hit atomically
// rotates the token and runs the login success path with rememberMe.
func (m *Manager) Resume(ctx context.Context, connID core.ConnID, sink core.Sink, token string) (*domain.Identity, string, bool, error) {
	uid, next, ok := m.tokens.Consume(token)
	if !ok {
		return nil, "", false, nil
	}
	ident, _, err := m.finishLogin(ctx, connID, sink, uid, false)
	if err != nil {
		// Token already rotated; revoke the replacement so a banned or
		// deleted identity cannot keep resuming.
		m.tokens.RevokeAll(uid)
		return nil, "", true, err
	}
	return ident, next, true, nil
}

func (m *Manager) finishLogin(ctx context.Context, connID core.ConnID, sink core.Sink, uid domain.UID, issueToken bool) (*domain.Identity, string, error) {
	ident, err := m.store.GetIdentity(ctx, uid)
	if err != nil {
		return nil, "", &domain.CollaboratorError{Op: "load identity", Err: err}
	}
	if ident == nil {
		// Credentials exist but the identity record is gone; keep the
		// generic wording.
		return nil, "", &domain.AuthError{Code: domain.CodeInvalidCredentials}
	}
	if ident.Banned {
		return nil, "", &domain.AuthError{Code: domain.CodeAccessDenied}
	}

	// Forced-logout semantics: at most one live connection per uid.
	if old, ok := m.reg.FindByUID(uid); ok {
		if m.EvictFn != nil {
			m.EvictFn(old)
		} else {
			m.reg.Unregister(old.ID)
		}
		log.Info().Str("module", "auth").Str("uid", string(uid)).Msg("evicted prior connection")
	}

	conn := &registry.Connection{
		ID:       connID,
		Identity: ident,
		Status:   domain.StatusOnline,
		Sink:     sink,
	}
	if err := m.reg.Register(conn); err != nil {
		return nil, "", fmt.Errorf("auth: register connection: %w", err)
	}

	var token string
	if issueToken {
		token = m.tokens.Issue(uid)
	}
	log.Info().Str("module", "auth").Str("uid", string(uid)).Str("conn", string(connID)).Msg("login success")
	return ident, token, nil
}

// Logout invalidates every auto-login token bound to the connection's
// uid. The caller then runs the normal disconnect path.
func (m *Manager) Logout(connID core.ConnID) {
	conn, ok := m.reg.FindByConn(connID)
	if !ok || conn.Identity == nil {
		return
	}
	m.tokens.RevokeAll(conn.Identity.UID)
	log.Info().Str("module", "auth").Str("uid", string(conn.Identity.UID)).Msg("logout, tokens revoked")
}

// UpdateProfile writes nickname/avatar changes through the provider and
// store, then refreshes the live cache.
func (m *Manager) UpdateProfile(ctx context.Context, connID core.ConnID, nickname, avatarURL string) (*domain.Identity, error) {
	conn, ok := m.reg.FindByConn(connID)
	if !ok || conn.Identity == nil {
		return nil, &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	if err := domain.ValidateNickname(nickname); err != nil {
		return nil, &domain.ValidationError{Field: "nickname", Reason: err.Error()}
	}

	ident := *conn.Identity
	ident.Nickname = nickname
	if avatarURL != "" {
		ident.AvatarURL = avatarURL
	}

	if err := m.store.UpdateIdentity(ctx, &ident); err != nil {
		return nil, &domain.CollaboratorError{Op: "update identity", Err: err}
	}
	if err := m.provider.UpdateIdentity(ctx, ident.UID, ident.Nickname, ident.AvatarURL); err != nil {
		return nil, err
	}

	_ = m.reg.UpdateIdentity(connID, func(cached *domain.Identity) {
		cached.Nickname = ident.Nickname
		cached.AvatarURL = ident.AvatarURL
	})
	return &ident, nil
}

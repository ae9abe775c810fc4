package authprovider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aurachat/aurad/internal/domain"
)

// Memory is the in-memory Provider used by tests.
type Memory struct {
	mu    sync.Mutex
	users map[string]memCred // email -> cred
}

type memCred struct {
	uid  domain.UID
	hash []byte
}

var _ Provider = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{users: make(map[string]memCred)}
}

func (m *Memory) CreateIdentity(_ context.Context, email, password, _ string) (domain.UID, error) {
	email = domain.NormalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[email]; exists {
		return "", &domain.AuthError{Code: domain.CodeEmailInUse}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	uid := domain.UID(uuid.NewString())
	m.users[email] = memCred{uid: uid, hash: hash}
	return uid, nil
}

func (m *Memory) VerifyCredentials(_ context.Context, email, password string) (domain.UID, error) {
	email = domain.NormalizeEmail(email)
	m.mu.Lock()
	cred, ok := m.users[email]
	m.mu.Unlock()
	if !ok {
		return "", &domain.AuthError{Code: domain.CodeInvalidCredentials}
	}
	if bcrypt.CompareHashAndPassword(cred.hash, []byte(password)) != nil {
		return "", &domain.AuthError{Code: domain.CodeInvalidCredentials}
	}
	return cred.uid, nil
}

func (m *Memory) UpdateIdentity(_ context.Context, _ domain.UID, _, _ string) error {
	return nil
}

func (m *Memory) DeleteIdentity(_ context.Context, uid domain.UID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, cred := range m.users {
		if cred.uid == uid {
			delete(m.users, email)
			break
		}
	}
	return nil
}

// Package domain contains the entities the coordinator works with.
// No transport or persistence logic lives here.
package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxNicknameLen = 32
	MaxEmailLen    = 254
)

var (
	ErrNicknameEmpty   = errors.New("nickname empty")
	ErrNicknameTooLong = errors.New("nickname too long")
	ErrNicknameInvalid = errors.New("nickname contains control characters")
	ErrEmailInvalid    = errors.New("email invalid")
)

// UID identifies a persisted identity.
type UID string

// Identity is a registered user's account record. The store owns it; the
// coordinator caches it on the Connection after login and writes changes
// through, never inventing identity data.
type Identity struct {
	UID       UID       `json:"uid"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	Banned    bool      `json:"banned"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultAvatarURLs is the pool a fresh registration draws from.
var DefaultAvatarURLs = []string{
	"https://i.pravatar.cc/150?img=1",
	"https://i.pravatar.cc/150?img=2",
	"https://i.pravatar.cc/150?img=3",
	"https://i.pravatar.cc/150?img=4",
	"https://i.pravatar.cc/150?img=5",
}

// ValidateNickname checks length and rejects control characters.
func ValidateNickname(name string) error {
	if len(name) == 0 {
		return ErrNicknameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNicknameLen {
		return ErrNicknameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrNicknameInvalid
		}
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail does a shallow shape check; real verification belongs to
// the auth provider.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if len(email) == 0 || len(email) > MaxEmailLen {
		return ErrEmailInvalid
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ErrEmailInvalid
	}
	return nil
}

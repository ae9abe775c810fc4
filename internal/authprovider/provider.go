// Package authprovider abstracts the external credential service.
// The coordinator never stores or checks passwords itself.
package authprovider

import (
	"context"

	"github.com/aurachat/aurad/internal/domain"
)

// Provider is the credential collaborator. Verification failures use
// generic wording: the error never says which factor was wrong.
type Provider interface {
	// CreateIdentity registers credentials and returns the new uid.
	// A duplicate email fails with AuthError(email-in-use).
	CreateIdentity(ctx context.Context, email, password, displayName string) (domain.UID, error)
	// VerifyCredentials returns the uid on success or
	// AuthError(invalid-credentials) on any failure.
	VerifyCredentials(ctx context.Context, email, password string) (domain.UID, error)
	// UpdateIdentity pushes display name and photo changes through.
	UpdateIdentity(ctx context.Context, uid domain.UID, displayName, photoURL string) error
	// DeleteIdentity removes credentials again, compensating a
	// registration that failed after the credentials were created.
	// Unknown uids are a no-op.
	DeleteIdentity(ctx context.Context, uid domain.UID) error
}

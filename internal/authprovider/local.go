package authprovider

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aurachat/aurad/internal/domain"
)

// Local keeps bcrypt hashes in a credentials table, sharing the server's
// SQLite file. It stands in for a hosted identity service.
type Local struct {
	db *sql.DB
}

var _ Provider = (*Local)(nil)

func NewLocal(db *sql.DB) (*Local, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS credentials (
		uid          TEXT PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		pass_hash    TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		photo_url    TEXT NOT NULL DEFAULT ''
	);`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("authprovider: migrate: %w", err)
	}
	return &Local{db: db}, nil
}

func (l *Local) CreateIdentity(ctx context.Context, email, password, displayName string) (domain.UID, error) {
	email = domain.NormalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authprovider: hash: %w", err)
	}

	uid := domain.UID(uuid.NewString())
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO credentials (uid, email, pass_hash, display_name) VALUES (?, ?, ?, ?)`,
		string(uid), email, string(hash), displayName)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", &domain.AuthError{Code: domain.CodeEmailInUse}
		}
		return "", &domain.CollaboratorError{Op: "create identity", Err: err}
	}
	return uid, nil
}

func (l *Local) VerifyCredentials(ctx context.Context, email, password string) (domain.UID, error) {
	email = domain.NormalizeEmail(email)

	var (
		uid  string
		hash string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT uid, pass_hash FROM credentials WHERE email = ?`, email).Scan(&uid, &hash)
	if err == sql.ErrNoRows {
		return "", &domain.AuthError{Code: domain.CodeInvalidCredentials}
	}
	if err != nil {
		return "", &domain.CollaboratorError{Op: "verify credentials", Err: err}
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", &domain.AuthError{Code: domain.CodeInvalidCredentials}
	}
	return domain.UID(uid), nil
}

func (l *Local) DeleteIdentity(ctx context.Context, uid domain.UID) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM credentials WHERE uid = ?`, string(uid))
	if err != nil {
		return &domain.CollaboratorError{Op: "delete identity", Err: err}
	}
	return nil
}

func (l *Local) UpdateIdentity(ctx context.Context, uid domain.UID, displayName, photoURL string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE credentials SET display_name = ?, photo_url = ? WHERE uid = ?`,
		displayName, photoURL, string(uid))
	if err != nil {
		return &domain.CollaboratorError{Op: "update identity", Err: err}
	}
	return nil
}

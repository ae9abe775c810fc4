package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aurachat/aurad/internal/domain"
)

// SQLite persists everything in a single database file. WAL mode keeps
// concurrent reads cheap; a busy timeout covers writer contention.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so sibling collaborators (the local
// auth provider's credentials table) can share the same file.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS identities (
		uid        TEXT PRIMARY KEY,
		nickname   TEXT NOT NULL CHECK(length(nickname) > 0),
		avatar_url TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL UNIQUE,
		role       TEXT NOT NULL DEFAULT 'member',
		banned     INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		room        TEXT NOT NULL,
		sender_uid  TEXT NOT NULL,
		sender_nick TEXT NOT NULL,
		sender_ava  TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		file_json   TEXT,
		mentions    TEXT,
		reactions   TEXT,
		reply_to    TEXT NOT NULL DEFAULT '',
		edited      INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room, created_at);

	CREATE TABLE IF NOT EXISTS channels (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL CHECK(length(name) > 0),
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		key          TEXT PRIMARY KEY,
		uid_a        TEXT NOT NULL,
		uid_b        TEXT NOT NULL,
		last_preview TEXT NOT NULL DEFAULT '',
		last_sender  TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(uid_a);
	CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(uid_b);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- identities ---

func (s *SQLite) CreateIdentity(ctx context.Context, ident *domain.Identity) error {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (uid, nickname, avatar_url, email, role, banned, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ident.UID), ident.Nickname, ident.AvatarURL, ident.Email,
		ident.Role.String(), boolInt(ident.Banned), encodeTime(ident.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create identity: %w", err)
	}
	return nil
}

func (s *SQLite) GetIdentity(ctx context.Context, uid domain.UID) (*domain.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uid, nickname, avatar_url, email, role, banned, created_at
		 FROM identities WHERE uid = ?`, string(uid))
	return scanIdentity(row)
}

func (s *SQLite) GetIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uid, nickname, avatar_url, email, role, banned, created_at
		 FROM identities WHERE email = ?`, domain.NormalizeEmail(email))
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		ident   domain.Identity
		uid     string
		role    string
		banned  int
		created string
	)
	err := row.Scan(&uid, &ident.Nickname, &ident.AvatarURL, &ident.Email, &role, &banned, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan identity: %w", err)
	}
	ident.UID = domain.UID(uid)
	ident.Role = domain.ParseRole(role)
	ident.Banned = banned != 0
	ident.CreatedAt = decodeTime(created)
	return &ident, nil
}

func (s *SQLite) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, nickname, avatar_url, email, role, banned, created_at
		 FROM identities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Identity
	for rows.Next() {
		var (
			ident   domain.Identity
			uid     string
			role    string
			banned  int
			created string
		)
		if err := rows.Scan(&uid, &ident.Nickname, &ident.AvatarURL, &ident.Email, &role, &banned, &created); err != nil {
			return nil, fmt.Errorf("store: scan identity: %w", err)
		}
		ident.UID = domain.UID(uid)
		ident.Role = domain.ParseRole(role)
		ident.Banned = banned != 0
		ident.CreatedAt = decodeTime(created)
		out = append(out, ident)
	}
	return out, rows.Err()
}

func (s *SQLite) CountIdentities(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count identities: %w", err)
	}
	return n, nil
}

func (s *SQLite) UpdateIdentity(ctx context.Context, ident *domain.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identities SET nickname = ?, avatar_url = ?, email = ?, role = ?, banned = ?
		 WHERE uid = ?`,
		ident.Nickname, ident.AvatarURL, ident.Email, ident.Role.String(),
		boolInt(ident.Banned), string(ident.UID))
	if err != nil {
		return fmt.Errorf("store: update identity: %w", err)
	}
	return nil
}

func (s *SQLite) SetIdentityRole(ctx context.Context, uid domain.UID, role domain.Role) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identities SET role = ? WHERE uid = ?`, role.String(), string(uid))
	if err != nil {
		return fmt.Errorf("store: set role: %w", err)
	}
	return nil
}

func (s *SQLite) SetIdentityBanned(ctx context.Context, uid domain.UID, banned bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identities SET banned = ? WHERE uid = ?`, boolInt(banned), string(uid))
	if err != nil {
		return fmt.Errorf("store: set banned: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteIdentity(ctx context.Context, uid domain.UID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE uid = ?`, string(uid))
	if err != nil {
		return fmt.Errorf("store: delete identity: %w", err)
	}
	return nil
}

// --- messages ---

func (s *SQLite) AppendMessage(ctx context.Context, msg *domain.Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	fileJSON, err := marshalNullable(msg.File)
	if err != nil {
		return fmt.Errorf("store: encode file ref: %w", err)
	}
	mentionsJSON, err := marshalNullable(msg.Mentions)
	if err != nil {
		return fmt.Errorf("store: encode mentions: %w", err)
	}
	reactionsJSON, err := marshalNullable(msg.Reactions)
	if err != nil {
		return fmt.Errorf("store: encode reactions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room, sender_uid, sender_nick, sender_ava, content,
		                       file_json, mentions, reactions, reply_to, edited, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Room, string(msg.SenderUID), msg.SenderNickname, msg.SenderAvatarURL,
		msg.Content, fileJSON, mentionsJSON, reactionsJSON, msg.ReplyTo,
		boolInt(msg.Edited), encodeTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

func (s *SQLite) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessage+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	msg, err := scanMessage(rows)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

const selectMessage = `SELECT id, room, sender_uid, sender_nick, sender_ava, content,
	file_json, mentions, reactions, reply_to, edited, created_at FROM messages`

func scanMessage(rows *sql.Rows) (*domain.Message, error) {
	var (
		msg       domain.Message
		sender    string
		file      sql.NullString
		mentions  sql.NullString
		reactions sql.NullString
		edited    int
		created   string
	)
	err := rows.Scan(&msg.ID, &msg.Room, &sender, &msg.SenderNickname, &msg.SenderAvatarURL,
		&msg.Content, &file, &mentions, &reactions, &msg.ReplyTo, &edited, &created)
	if err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	msg.SenderUID = domain.UID(sender)
	msg.Edited = edited != 0
	msg.CreatedAt = decodeTime(created)
	if file.Valid && file.String != "" {
		if err := json.Unmarshal([]byte(file.String), &msg.File); err != nil {
			return nil, fmt.Errorf("store: decode file ref: %w", err)
		}
	}
	if mentions.Valid && mentions.String != "" {
		if err := json.Unmarshal([]byte(mentions.String), &msg.Mentions); err != nil {
			return nil, fmt.Errorf("store: decode mentions: %w", err)
		}
	}
	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &msg.Reactions); err != nil {
			return nil, fmt.Errorf("store: decode reactions: %w", err)
		}
	}
	return &msg, nil
}

func (s *SQLite) UpdateMessageContent(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1 WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("store: edit message: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	return nil
}

func (s *SQLite) MessagesByRoom(ctx context.Context, roomKey string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Newest N, returned oldest first.
	rows, err := s.db.QueryContext(ctx, selectMessage+`
		 WHERE room = ? ORDER BY created_at DESC LIMIT ?`, roomKey, limit)
	if err != nil {
		return nil, fmt.Errorf("store: messages by room: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLite) UpdateReactions(ctx context.Context, id string, fn func(map[string][]domain.UID)) (map[string][]domain.UID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin reactions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT reactions FROM messages WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "message", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: read reactions: %w", err)
	}

	reactions := make(map[string][]domain.UID)
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &reactions); err != nil {
			return nil, fmt.Errorf("store: decode reactions: %w", err)
		}
	}

	fn(reactions)

	encoded, err := marshalNullable(reactions)
	if err != nil {
		return nil, fmt.Errorf("store: encode reactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions = ? WHERE id = ?`, encoded, id); err != nil {
		return nil, fmt.Errorf("store: write reactions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit reactions: %w", err)
	}
	return reactions, nil
}

// --- channels ---

func (s *SQLite) CreateChannel(ctx context.Context, ch *domain.Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
		ch.ID, ch.Name, string(ch.CreatedBy), encodeTime(ch.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete channel: %w", err)
	}
	return nil
}

func (s *SQLite) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	var (
		ch        domain.Channel
		createdBy string
		created   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.Name, &createdBy, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	ch.CreatedBy = domain.UID(createdBy)
	ch.CreatedAt = decodeTime(created)
	return &ch, nil
}

func (s *SQLite) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_by, created_at FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Channel
	for rows.Next() {
		var (
			ch        domain.Channel
			createdBy string
			created   string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &createdBy, &created); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		ch.CreatedBy = domain.UID(createdBy)
		ch.CreatedAt = decodeTime(created)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// --- conversations ---

func (s *SQLite) UpsertConversation(ctx context.Context, sum domain.ConversationSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (key, uid_a, uid_b, last_preview, last_sender, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			last_preview = excluded.last_preview,
			last_sender  = excluded.last_sender,
			updated_at   = excluded.updated_at`,
		sum.Key, string(sum.Participants[0]), string(sum.Participants[1]),
		sum.LastPreview, string(sum.LastSenderUID), encodeTime(sum.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert conversation: %w", err)
	}
	return nil
}

func (s *SQLite) ConversationsOf(ctx context.Context, uid domain.UID) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, uid_a, uid_b, last_preview, last_sender, updated_at
		 FROM conversations WHERE uid_a = ? OR uid_b = ? ORDER BY updated_at DESC`,
		string(uid), string(uid))
	if err != nil {
		return nil, fmt.Errorf("store: conversations of: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ConversationSummary
	for rows.Next() {
		var (
			sum     domain.ConversationSummary
			a, b    string
			sender  string
			updated string
		)
		if err := rows.Scan(&sum.Key, &a, &b, &sum.LastPreview, &sender, &updated); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		sum.Participants = [2]domain.UID{domain.UID(a), domain.UID(b)}
		sum.LastSenderUID = domain.UID(sender)
		sum.UpdatedAt = decodeTime(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalNullable encodes v as JSON, returning NULL for empty values so
// the reaction map never persists empty-array entries at the top level.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *domain.FileRef:
		if t == nil {
			return nil, nil
		}
	case []domain.Mention:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string][]domain.UID:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

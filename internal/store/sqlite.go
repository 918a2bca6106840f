package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/email-gateway/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertUser inserts or updates a directory entry, keyed on the
// lowercased email address. If the user has no ID, a new UUID is
// generated.
func (s *SQLiteStore) UpsertUser(
	ctx context.Context, u model.User,
) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET name = excluded.name`,
		u.ID, u.Email, u.Name, u.CreatedAt.UTC(),
	)
	if err != nil {
		return model.User{}, fmt.Errorf("upserting user %s: %w", u.Email, err)
	}

	// The conflict path keeps the original row id; re-read so the
	// caller always sees the stored identity.
	stored, err := s.GetUserByEmail(ctx, u.Email)
	if err != nil {
		return model.User{}, err
	}
	return *stored, nil
}

// GetUserByEmail retrieves a user by email address, matched
// case-insensitively and exactly. Returns nil when no user matches.
func (s *SQLiteStore) GetUserByEmail(
	ctx context.Context, email string,
) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u model.User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, email, name, created_at FROM users WHERE email = ?",
		email,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", email, err)
	}

	return &u, nil
}

// GetUsers retrieves all directory entries ordered by email.
func (s *SQLiteStore) GetUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users,
		"SELECT id, email, name, created_at FROM users ORDER BY email",
	)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return users, nil
}

// CreateConversation inserts a new conversation owned by the given user.
func (s *SQLiteStore) CreateConversation(
	ctx context.Context, ownerUserID, subject string,
) (model.Conversation, error) {
	now := time.Now()
	conv := model.Conversation{
		ID:          uuid.New().String(),
		OwnerUserID: ownerUserID,
		Subject:     subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_user_id, subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerUserID, conv.Subject,
		conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
	)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID. Returns nil when no
// conversation matches.
func (s *SQLiteStore) GetConversation(
	ctx context.Context, id string,
) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.GetContext(ctx, &conv, `
		SELECT id, owner_user_id, subject, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}

	return &conv, nil
}

// DeleteConversation removes a conversation row by ID. Used only to
// discard a conversation that lost a thread-record insert race before
// anything referenced it.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// AppendMessage inserts a message row and bumps the conversation's
// updated_at timestamp.
func (s *SQLiteStore) AppendMessage(
	ctx context.Context, m model.Message,
) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, message_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Direction),
		m.MessageID, m.Body, m.CreatedAt.UTC(),
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("appending message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		m.CreatedAt.UTC(), m.ConversationID,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("touching conversation %s: %w", m.ConversationID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("committing message: %w", err)
	}

	return m, nil
}

// GetMessages retrieves all messages in a conversation, oldest first.
func (s *SQLiteStore) GetMessages(
	ctx context.Context, conversationID string,
) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT id, conversation_id, direction, message_id, body, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at, id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", conversationID, err)
	}
	return messages, nil
}

// InsertThreadRecord records a Message-ID as belonging to a
// conversation. The unique index on message_id arbitrates concurrent
// duplicate deliveries: the loser's insert becomes a no-op and the
// method reports false.
func (s *SQLiteStore) InsertThreadRecord(
	ctx context.Context, conversationID, messageID string,
) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_threads (conversation_id, message_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		conversationID, messageID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting thread record %s: %w", messageID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking thread record insert: %w", err)
	}

	return rows > 0, nil
}

// GetThreadRecord retrieves the thread record for a Message-ID.
// Returns nil when the Message-ID has never been seen.
func (s *SQLiteStore) GetThreadRecord(
	ctx context.Context, messageID string,
) (*model.ConversationThreadRecord, error) {
	var rec model.ConversationThreadRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT conversation_id, message_id, created_at
		FROM conversation_threads WHERE message_id = ?`, messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread record %s: %w", messageID, err)
	}

	return &rec, nil
}

// CreateNotification inserts a new notification record.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context, n model.Notification,
) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, conversation_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.ConversationID, n.Message,
		boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// GetUnreadNotifications retrieves all notifications that have not been
// read, ordered by creation time descending.
func (s *SQLiteStore) GetUnreadNotifications(
	ctx context.Context,
) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, conversation_id, message, read, created_at FROM notifications WHERE read = 0 ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(
	ctx context.Context, id string,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.ConversationID, &n.Message, &readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Read = readInt != 0
	n.CreatedAt = createdAt

	return n, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

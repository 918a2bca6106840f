package store

import (
	"context"

	"github.com/nhle/email-gateway/internal/model"
)

// Store defines the persistence interface for the gateway: the user
// directory, conversations with their messages, the append-only
// Message-ID thread records, and operator notifications.
type Store interface {
	// === User directory ===

	UpsertUser(ctx context.Context, u model.User) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUsers(ctx context.Context) ([]model.User, error)

	// === Conversations ===

	CreateConversation(
		ctx context.Context, ownerUserID, subject string,
	) (model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// DeleteConversation removes a conversation row. Only a
	// just-created conversation that lost a thread-record insert race
	// is ever deleted; conversations with recorded turns stay.
	DeleteConversation(ctx context.Context, id string) error

	// === Messages ===

	AppendMessage(ctx context.Context, m model.Message) (model.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// === Thread records (append-only, never mutated or deleted) ===

	// InsertThreadRecord records a Message-ID as belonging to a
	// conversation. It reports false without error when the
	// Message-ID is already recorded; the unique index makes the
	// duplicate check atomic even across concurrent inserts.
	InsertThreadRecord(
		ctx context.Context, conversationID, messageID string,
	) (bool, error)
	GetThreadRecord(
		ctx context.Context, messageID string,
	) (*model.ConversationThreadRecord, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	Close() error
}

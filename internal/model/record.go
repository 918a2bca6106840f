package model

import "time"

// User is an entry in the user directory. Only users listed here may
// open or continue conversations by email; resolution against this
// directory is the gateway's security boundary.
type User struct {
	// ID is the unique identifier for this user.
	ID string `json:"id" db:"id"`

	// Email is the address the user sends from, stored lowercased.
	Email string `json:"email" db:"email"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// CreatedAt is when the user was added to the directory.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Conversation is one email thread owned by a resolved user.
type Conversation struct {
	// ID is the unique identifier for this conversation.
	ID string `json:"id" db:"id"`

	// OwnerUserID is the user who opened the thread.
	OwnerUserID string `json:"owner_user_id" db:"owner_user_id"`

	// Subject is the subject of the first email in the thread.
	Subject string `json:"subject" db:"subject"`

	// CreatedAt is when the conversation was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the conversation last received a message.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one turn in a conversation, inbound or outbound.
type Message struct {
	// ID is the unique identifier for this message row.
	ID string `json:"id" db:"id"`

	// ConversationID links the message to its conversation.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// Direction marks the message as inbound or outbound.
	Direction Direction `json:"direction" db:"direction"`

	// MessageID is the email Message-ID this turn corresponds to.
	MessageID string `json:"message_id" db:"message_id"`

	// Body is the message text (plain text for inbound, the agent's
	// Markdown for outbound).
	Body string `json:"body" db:"body"`

	// CreatedAt is when the message was recorded.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ConversationThreadRecord maps one email Message-ID to the
// conversation it belongs to. A record is written for every inbound and
// outbound message that participates in a thread, so future replies
// from either side resolve back to the conversation. Records are
// append-only: never mutated, never deleted.
type ConversationThreadRecord struct {
	// ConversationID is the conversation the Message-ID belongs to.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// MessageID is the email Message-ID, including angle brackets.
	MessageID string `json:"message_id" db:"message_id"`

	// CreatedAt is when the mapping was recorded.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Notification is an operator-visible alert, used among other things to
// surface send failures that happen after an auto-reply has fired.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// ConversationID links the notification to a conversation, when
	// one is involved.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether an operator has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Package thread maintains the Message-ID to conversation mapping and
// resolves inbound email to conversations via the reply-header chain.
package thread

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/store"
)

// Resolution is the outcome of resolving an inbound email to a
// conversation.
type Resolution struct {
	// ConversationID is the conversation the email belongs to.
	ConversationID string

	// CreatedNew reports whether a new conversation was created.
	CreatedNew bool

	// Duplicate reports that the exact Message-ID was already
	// recorded: the event is a webhook replay and the caller must not
	// append a new conversation turn.
	Duplicate bool
}

// Tracker resolves inbound email to conversations and records the
// Message-ID mappings for both directions of the thread.
type Tracker struct {
	store store.Store
	log   *logrus.Logger
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(s store.Store, log *logrus.Logger) *Tracker {
	return &Tracker{store: s, log: log}
}

// ResolveOrCreate maps an inbound email to its conversation.
//
// The exact Message-ID is checked first: a hit means a replayed
// delivery and resolves to the recorded conversation with no new
// writes. Otherwise the thread candidates (In-Reply-To, then the
// References chain newest-first) are probed in order and the first
// recorded candidate wins; this favors continuing the immediate parent
// thread over a distant ancestor when a forwarded email carries
// references into several conversations. With no candidate hit, a new
// conversation owned by the resolved user is created. In every
// non-duplicate case the inbound Message-ID is recorded before
// returning.
func (t *Tracker) ResolveOrCreate(
	ctx context.Context, inbound *model.InboundEmail, ownerUserID string,
) (Resolution, error) {
	if inbound.MessageID == "" {
		return Resolution{}, fmt.Errorf("inbound email has no message id")
	}

	// Replay check. The same webhook delivered twice must not
	// duplicate the conversation turn.
	existing, err := t.store.GetThreadRecord(ctx, inbound.MessageID)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		return Resolution{
			ConversationID: existing.ConversationID,
			Duplicate:      true,
		}, nil
	}

	for _, candidate := range inbound.ThreadCandidates() {
		rec, err := t.store.GetThreadRecord(ctx, candidate)
		if err != nil {
			return Resolution{}, err
		}
		if rec == nil {
			continue
		}

		return t.record(ctx, rec.ConversationID, inbound.MessageID, false)
	}

	conv, err := t.store.CreateConversation(ctx, ownerUserID, inbound.Subject)
	if err != nil {
		return Resolution{}, fmt.Errorf("creating conversation: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"message_id":      inbound.MessageID,
	}).Info("new conversation created")

	return t.record(ctx, conv.ID, inbound.MessageID, true)
}

// RecordOutbound registers the Message-ID the gateway assigned to its
// own outgoing email, so a future reply-to-the-reply threads back to
// the conversation.
func (t *Tracker) RecordOutbound(
	ctx context.Context, conversationID, messageID string,
) error {
	inserted, err := t.store.InsertThreadRecord(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("outbound message id %s already recorded", messageID)
	}
	return nil
}

// record writes the thread record for a resolved inbound message. If a
// concurrent delivery of the same Message-ID won the insert race, the
// winner's record is re-read so both deliveries resolve identically,
// and a conversation created for the losing delivery is discarded
// before anything references it.
func (t *Tracker) record(
	ctx context.Context, conversationID, messageID string, createdNew bool,
) (Resolution, error) {
	inserted, err := t.store.InsertThreadRecord(ctx, conversationID, messageID)
	if err != nil {
		return Resolution{}, err
	}
	if inserted {
		return Resolution{
			ConversationID: conversationID,
			CreatedNew:     createdNew,
		}, nil
	}

	if createdNew {
		if err := t.store.DeleteConversation(ctx, conversationID); err != nil {
			t.log.WithError(err).WithField("conversation_id", conversationID).
				Warn("discarding conversation after lost insert race failed")
		}
	}

	winner, err := t.store.GetThreadRecord(ctx, messageID)
	if err != nil {
		return Resolution{}, err
	}
	if winner == nil {
		return Resolution{}, fmt.Errorf(
			"thread record for %s vanished after conflicting insert", messageID,
		)
	}

	return Resolution{
		ConversationID: winner.ConversationID,
		Duplicate:      true,
	}, nil
}

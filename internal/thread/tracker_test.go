package thread_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/store"
	"github.com/nhle/email-gateway/internal/thread"
	"github.com/nhle/email-gateway/tests/testutil"
)

func newTracker(t *testing.T) (*thread.Tracker, *model.User, context.Context) {
	t.Helper()

	ctx := context.Background()
	s := testutil.NewTestStore(t)

	user, err := s.UpsertUser(ctx, model.User{
		Email: "alice@example.com",
		Name:  "Alice",
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return thread.NewTracker(s, log), &user, ctx
}

func TestResolveOrCreateNewConversation(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<first@x>",
		From:      "alice@example.com",
		Subject:   "hello",
	}, user.ID)
	require.NoError(t, err)

	assert.True(t, res.CreatedNew)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.ConversationID)
}

func TestResolveOrCreateReplyByInReplyTo(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	first, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<first@x>",
	}, user.ID)
	require.NoError(t, err)

	reply, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<second@x>",
		InReplyTo: "<first@x>",
	}, user.ID)
	require.NoError(t, err)

	assert.False(t, reply.CreatedNew)
	assert.False(t, reply.Duplicate)
	assert.Equal(t, first.ConversationID, reply.ConversationID)
}

func TestResolveOrCreateDuplicateReplay(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	inbound := &model.InboundEmail{MessageID: "<once@x>"}

	first, err := tracker.ResolveOrCreate(ctx, inbound, user.ID)
	require.NoError(t, err)
	require.True(t, first.CreatedNew)

	replay, err := tracker.ResolveOrCreate(ctx, inbound, user.ID)
	require.NoError(t, err)

	assert.True(t, replay.Duplicate)
	assert.False(t, replay.CreatedNew)
	assert.Equal(t, first.ConversationID, replay.ConversationID)
}

func TestResolveOrCreateReferencesNewestWins(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	// Two existing conversations; the incoming email references both,
	// with convB's id appearing last (newest).
	convA, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<a@x>",
	}, user.ID)
	require.NoError(t, err)
	convB, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<b@x>",
	}, user.ID)
	require.NoError(t, err)
	require.NotEqual(t, convA.ConversationID, convB.ConversationID)

	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID:  "<c@x>",
		References: []string{"<a@x>", "<b@x>"},
	}, user.ID)
	require.NoError(t, err)

	assert.Equal(t, convB.ConversationID, res.ConversationID)
	assert.False(t, res.CreatedNew)
}

func TestResolveOrCreateInReplyToBeatsReferences(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	convA, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<a@x>",
	}, user.ID)
	require.NoError(t, err)
	_, err = tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<b@x>",
	}, user.ID)
	require.NoError(t, err)

	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID:  "<c@x>",
		InReplyTo:  "<a@x>",
		References: []string{"<b@x>"},
	}, user.ID)
	require.NoError(t, err)

	assert.Equal(t, convA.ConversationID, res.ConversationID)
}

func TestResolveOrCreateUnknownParentStartsFresh(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<reply@x>",
		InReplyTo: "<never-seen@x>",
	}, user.ID)
	require.NoError(t, err)

	assert.True(t, res.CreatedNew)
}

func TestResolveOrCreateRejectsEmptyMessageID(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	_, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{}, user.ID)
	assert.Error(t, err)
}

func TestRecordOutboundThreadsFutureReplies(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	first, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<first@x>",
	}, user.ID)
	require.NoError(t, err)

	// The gateway replied with its own Message-ID.
	require.NoError(t,
		tracker.RecordOutbound(ctx, first.ConversationID, "<reply-1@gateway>"))

	// A user reply references only the gateway's outbound id.
	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<second@x>",
		InReplyTo: "<reply-1@gateway>",
	}, user.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, res.ConversationID)
	assert.False(t, res.CreatedNew)
}

func TestRecordOutboundDuplicateErrors(t *testing.T) {
	tracker, user, ctx := newTracker(t)

	first, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<first@x>",
	}, user.ID)
	require.NoError(t, err)

	require.NoError(t,
		tracker.RecordOutbound(ctx, first.ConversationID, "<reply-1@gateway>"))
	assert.Error(t,
		tracker.RecordOutbound(ctx, first.ConversationID, "<reply-1@gateway>"))
}

// racingStore injects a rival thread record between the tracker's
// replay check and its own insert, reproducing a second concurrent
// delivery of the same Message-ID winning the race.
type racingStore struct {
	store.Store
	rivalConvID string
	rivalMsgID  string
	created     []string
	once        sync.Once
}

func (s *racingStore) CreateConversation(
	ctx context.Context, ownerUserID, subject string,
) (model.Conversation, error) {
	conv, err := s.Store.CreateConversation(ctx, ownerUserID, subject)
	if err == nil {
		s.created = append(s.created, conv.ID)
	}
	s.once.Do(func() {
		_, _ = s.Store.InsertThreadRecord(ctx, s.rivalConvID, s.rivalMsgID)
	})
	return conv, err
}

func TestResolveOrCreateLostRaceDiscardsConversation(t *testing.T) {
	ctx := context.Background()
	base := testutil.NewTestStore(t)

	user, err := base.UpsertUser(ctx, model.User{Email: "alice@example.com"})
	require.NoError(t, err)

	rival, err := base.CreateConversation(ctx, user.ID, "raced subject")
	require.NoError(t, err)

	racing := &racingStore{
		Store:       base,
		rivalConvID: rival.ID,
		rivalMsgID:  "<raced@x>",
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	tracker := thread.NewTracker(racing, log)

	res, err := tracker.ResolveOrCreate(ctx, &model.InboundEmail{
		MessageID: "<raced@x>",
		Subject:   "raced subject",
	}, user.ID)
	require.NoError(t, err)

	// Both deliveries resolve to the winner's conversation.
	assert.True(t, res.Duplicate)
	assert.Equal(t, rival.ID, res.ConversationID)

	// The conversation created for the losing delivery is gone.
	require.Len(t, racing.created, 1)
	orphan, err := base.GetConversation(ctx, racing.created[0])
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

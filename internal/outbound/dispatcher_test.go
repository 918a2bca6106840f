package outbound

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/policy"
	"github.com/nhle/email-gateway/internal/render"
)

// scriptedSender returns its errors in order, then succeeds.
type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) Send(_ context.Context, _ *Message) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestDispatcher(sender Sender) (*Dispatcher, *[]time.Duration) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	d := NewDispatcher(sender, log)

	var waits []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}
	return d, &waits
}

func testMessage() *Message {
	c := NewComposer("agent@gateway.example.com", "", "", "", render.Basic{})
	return c.ComposeReply(
		&model.InboundEmail{MessageID: "<in@x>", From: "alice@example.com", Subject: "hi"},
		policy.Decision{To: []string{"alice@example.com"}},
		"body",
	)
}

func TestDispatchSucceedsFirstTry(t *testing.T) {
	sender := &scriptedSender{}
	d, waits := newTestDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), testMessage()))
	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, *waits)
}

func TestDispatchFatalErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		name string
		kind SendErrorKind
	}{
		{name: "unauthorized", kind: SendUnauthorized},
		{name: "sender not verified", kind: SendSenderNotVerified},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &scriptedSender{errs: []error{&SendError{Kind: tc.kind}}}
			d, waits := newTestDispatcher(sender)

			err := d.Dispatch(context.Background(), testMessage())
			require.Error(t, err)

			se, ok := AsSendError(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, se.Kind)
			assert.Equal(t, 1, sender.calls)
			assert.Empty(t, *waits)
		})
	}
}

func TestDispatchUnclassifiedErrorIsNotRetried(t *testing.T) {
	sender := &scriptedSender{errs: []error{errors.New("bad request")}}
	d, _ := newTestDispatcher(sender)

	err := d.Dispatch(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, 1, sender.calls)
}

func TestDispatchRetriesTransientWithBackoff(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&SendError{Kind: SendTransientNetwork},
		&SendError{Kind: SendTransientNetwork},
	}}
	d, waits := newTestDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), testMessage()))
	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *waits)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&SendError{Kind: SendTransientNetwork},
		&SendError{Kind: SendTransientNetwork},
		&SendError{Kind: SendTransientNetwork},
	}}
	d, waits := newTestDispatcher(sender)

	err := d.Dispatch(context.Background(), testMessage())
	require.Error(t, err)

	se, ok := AsSendError(err)
	require.True(t, ok)
	assert.Equal(t, SendTransientNetwork, se.Kind)
	assert.Equal(t, 3, sender.calls)
	assert.Len(t, *waits, 2)
}

func TestDispatchHonorsRetryAfter(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&SendError{Kind: SendRateLimited, RetryAfter: 7 * time.Second},
	}}
	d, waits := newTestDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), testMessage()))
	assert.Equal(t, 2, sender.calls)
	assert.Equal(t, []time.Duration{7 * time.Second}, *waits)
}

func TestDispatchRateLimitWithoutHintUsesBackoff(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&SendError{Kind: SendRateLimited},
	}}
	d, waits := newTestDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), testMessage()))
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *waits)
}

// TestDispatchBoundsEachAttempt verifies every attempt reaches the
// sender with a per-attempt deadline, the signal senders such as the
// SMTP adapter use to cut off a stalled exchange.
func TestDispatchBoundsEachAttempt(t *testing.T) {
	var deadlines []bool
	sender := senderFunc(func(ctx context.Context, _ *Message) error {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		if len(deadlines) == 1 {
			return &SendError{Kind: SendTransientNetwork}
		}
		return nil
	})
	d, _ := newTestDispatcher(sender)

	require.NoError(t, d.Dispatch(context.Background(), testMessage()))
	assert.Equal(t, []bool{true, true}, deadlines)
}

type senderFunc func(ctx context.Context, msg *Message) error

func (f senderFunc) Send(ctx context.Context, msg *Message) error { return f(ctx, msg) }

func TestDispatchStopsOnContextCancel(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&SendError{Kind: SendTransientNetwork},
	}}
	log := logrus.New()
	log.SetOutput(io.Discard)

	d := NewDispatcher(sender, log)
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	err := d.Dispatch(context.Background(), testMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sender.calls)
}

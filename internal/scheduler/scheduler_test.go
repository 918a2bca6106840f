package scheduler_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/scheduler"
	"github.com/nhle/email-gateway/tests/testutil"
)

type firedReply struct {
	conversationID string
	messageID      string
}

// recorder collects fire callbacks.
type recorder struct {
	mu    sync.Mutex
	fired []firedReply
}

func (r *recorder) fire(conversationID string, inbound *model.InboundEmail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, firedReply{conversationID, inbound.MessageID})
}

func (r *recorder) all() []firedReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]firedReply(nil), r.fired...)
}

func newScheduler(delay time.Duration) (*scheduler.Scheduler, *testutil.FakeClock, *recorder) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	rec := &recorder{}

	log := logrus.New()
	log.SetOutput(io.Discard)

	return scheduler.New(delay, clock, rec.fire, log), clock, rec
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	fireAt := s.Schedule("conv-1", &model.InboundEmail{MessageID: "<a@x>"})
	assert.Equal(t, clock.Now().Add(30*time.Second), fireAt)
	assert.True(t, s.Pending("conv-1"))

	clock.Advance(29 * time.Second)
	assert.Empty(t, rec.all())
	assert.True(t, s.Pending("conv-1"))

	clock.Advance(time.Second)
	assert.Equal(t, []firedReply{{"conv-1", "<a@x>"}}, rec.all())
	assert.False(t, s.Pending("conv-1"))
}

func TestScheduleDebouncesBurst(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	s.Schedule("conv-1", &model.InboundEmail{MessageID: "<a@x>"})
	clock.Advance(20 * time.Second)

	// Second email inside the window resets the delay and replaces
	// the pending inbound.
	s.Schedule("conv-1", &model.InboundEmail{MessageID: "<b@x>"})

	// The original deadline passes without a fire.
	clock.Advance(10 * time.Second)
	assert.Empty(t, rec.all())

	// The reset deadline fires once, with the latest email.
	clock.Advance(20 * time.Second)
	assert.Equal(t, []firedReply{{"conv-1", "<b@x>"}}, rec.all())
}

func TestScheduleIndependentConversations(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	s.Schedule("conv-1", &model.InboundEmail{MessageID: "<a@x>"})
	clock.Advance(10 * time.Second)
	s.Schedule("conv-2", &model.InboundEmail{MessageID: "<b@x>"})

	clock.Advance(20 * time.Second)
	assert.Equal(t, []firedReply{{"conv-1", "<a@x>"}}, rec.all())
	assert.True(t, s.Pending("conv-2"))

	clock.Advance(10 * time.Second)
	assert.Equal(t, []firedReply{
		{"conv-1", "<a@x>"},
		{"conv-2", "<b@x>"},
	}, rec.all())
}

func TestScheduleImmediate(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	s.ScheduleImmediate("conv-1", &model.InboundEmail{MessageID: "<a@x>"})
	clock.Advance(0)

	assert.Equal(t, []firedReply{{"conv-1", "<a@x>"}}, rec.all())
}

func TestCancel(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	s.Schedule("conv-1", &model.InboundEmail{MessageID: "<a@x>"})

	assert.True(t, s.Cancel("conv-1"))
	assert.False(t, s.Pending("conv-1"))
	assert.False(t, s.Cancel("conv-1"))

	clock.Advance(time.Minute)
	assert.Empty(t, rec.all())
}

func TestStopCancelsEverything(t *testing.T) {
	s, clock, rec := newScheduler(30 * time.Second)

	s.Schedule("conv-1", &model.InboundEmail{MessageID: "<a@x>"})
	s.Schedule("conv-2", &model.InboundEmail{MessageID: "<b@x>"})

	s.Stop()

	clock.Advance(time.Minute)
	assert.Empty(t, rec.all())
	assert.False(t, s.Pending("conv-1"))
	assert.False(t, s.Pending("conv-2"))
}

// Package scheduler implements the debounced, cancellable auto-reply
// delay. Each conversation is Idle or holds exactly one pending task;
// a new inbound email while a task is pending cancels it and arms a
// fresh one, so a user sending several quick follow-up emails gets one
// reply composed after the burst settles.
package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/model"
)

// FireFunc is invoked when a pending task's delay elapses without
// cancellation. It receives the conversation and the inbound email
// that armed the task (the most recent one of a debounced burst).
// Implementations compose and dispatch the reply; the scheduler itself
// never retries a fired task.
type FireFunc func(conversationID string, inbound *model.InboundEmail)

// task is one pending auto-reply.
type task struct {
	conversationID string
	inbound        *model.InboundEmail
	scheduledAt    time.Time
	cancelled      bool
	timer          Timer
}

// Scheduler owns the per-conversation pending tasks.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*task

	delay time.Duration
	clock Clock
	fire  FireFunc
	log   *logrus.Logger
}

// New creates a scheduler that fires delay after the most recent
// Schedule call for a conversation.
func New(delay time.Duration, clock Clock, fire FireFunc, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[string]*task),
		delay:   delay,
		clock:   clock,
		fire:    fire,
		log:     log,
	}
}

// Schedule arms (or re-arms) the auto-reply for a conversation and
// returns the time it will fire. A pending task is cancelled before
// the replacement is created; both happen under the same lock, so two
// timers can never be live for one conversation.
func (s *Scheduler) Schedule(
	conversationID string, inbound *model.InboundEmail,
) time.Time {
	return s.schedule(conversationID, inbound, s.delay)
}

// ScheduleImmediate arms the auto-reply with no delay. The simulate
// entry point uses this so test traffic traverses the same state
// machine as production webhooks.
func (s *Scheduler) ScheduleImmediate(
	conversationID string, inbound *model.InboundEmail,
) time.Time {
	return s.schedule(conversationID, inbound, 0)
}

func (s *Scheduler) schedule(
	conversationID string, inbound *model.InboundEmail, delay time.Duration,
) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[conversationID]; ok {
		prev.cancelled = true
		prev.timer.Stop()
		delete(s.pending, conversationID)

		s.log.WithField("conversation_id", conversationID).
			Debug("pending auto-reply debounced")
	}

	t := &task{
		conversationID: conversationID,
		inbound:        inbound,
		scheduledAt:    s.clock.Now().Add(delay),
	}
	s.pending[conversationID] = t
	t.timer = s.clock.AfterFunc(delay, func() { s.fireTask(t) })

	return t.scheduledAt
}

// Cancel removes the pending task for a conversation, if any, and
// reports whether one was cancelled.
func (s *Scheduler) Cancel(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[conversationID]
	if !ok {
		return false
	}

	t.cancelled = true
	t.timer.Stop()
	delete(s.pending, conversationID)
	return true
}

// Pending reports whether a task is pending for the conversation.
func (s *Scheduler) Pending(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[conversationID]
	return ok
}

// Stop cancels every pending task. Used at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.pending {
		t.cancelled = true
		t.timer.Stop()
		delete(s.pending, id)
	}
}

// fireTask runs when a timer elapses. A task that lost a debounce race
// may still reach here if its timer fired before Stop took effect; the
// cancelled flag is checked under the lock so it never reaches the
// fire callback.
func (s *Scheduler) fireTask(t *task) {
	s.mu.Lock()
	if t.cancelled || s.pending[t.conversationID] != t {
		s.mu.Unlock()
		return
	}
	delete(s.pending, t.conversationID)
	s.mu.Unlock()

	// The callback runs network and model calls; keep it off the lock.
	s.fire(t.conversationID, t.inbound)
}

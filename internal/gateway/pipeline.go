// Package gateway wires the inbound email pipeline: normalize,
// resolve identity, thread, apply CC policy, and schedule the
// auto-reply. The webhook handler and the admin simulate endpoint
// share the same pipeline.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/agent"
	"github.com/nhle/email-gateway/internal/identity"
	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/outbound"
	"github.com/nhle/email-gateway/internal/policy"
	"github.com/nhle/email-gateway/internal/provider"
	"github.com/nhle/email-gateway/internal/render"
	"github.com/nhle/email-gateway/internal/scheduler"
	"github.com/nhle/email-gateway/internal/store"
	"github.com/nhle/email-gateway/internal/thread"
)

// fireTimeout bounds one auto-reply composition and delivery.
const fireTimeout = 2 * time.Minute

// Config holds the pipeline's behavior settings.
type Config struct {
	// AutoReply enables scheduling a reply after an inbound email.
	AutoReply bool

	// AutoReplyDelay is the debounce delay before composing.
	AutoReplyDelay time.Duration

	// CCMode controls outbound recipient computation.
	CCMode model.CCMode
}

// Trace reports what happened at each pipeline stage for one inbound
// event. The simulate endpoint returns it to the caller.
type Trace struct {
	// IdentityResolved reports whether the sender matched a known
	// user. When false every other field is zero: an unresolved
	// sender has no side effects.
	IdentityResolved bool `json:"identity_resolved"`

	// ConversationID is the conversation the email resolved to.
	ConversationID string `json:"conversation_id,omitempty"`

	// CreatedNew reports whether a new conversation was created.
	CreatedNew bool `json:"created_new"`

	// Duplicate reports a replayed delivery of an already-recorded
	// Message-ID.
	Duplicate bool `json:"duplicate"`

	// AutoReplyScheduled reports whether an auto-reply task was
	// armed (or re-armed) for the conversation.
	AutoReplyScheduled bool `json:"auto_reply_scheduled"`
}

// Pipeline is the inbound orchestrator.
type Pipeline struct {
	cfg        Config
	store      store.Store
	resolver   *identity.Resolver
	tracker    *thread.Tracker
	sched      *scheduler.Scheduler
	composer   *outbound.Composer
	dispatcher *outbound.Dispatcher
	agent      agent.Composer
	locks      *conversationLocks
	log        *logrus.Logger
}

// New creates the pipeline and its auto-reply scheduler.
func New(
	cfg Config,
	s store.Store,
	composer *outbound.Composer,
	dispatcher *outbound.Dispatcher,
	agentComposer agent.Composer,
	clock scheduler.Clock,
	log *logrus.Logger,
) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		store:      s,
		resolver:   identity.NewResolver(s),
		tracker:    thread.NewTracker(s, log),
		composer:   composer,
		dispatcher: dispatcher,
		agent:      agentComposer,
		locks:      newConversationLocks(),
		log:        log,
	}
	p.sched = scheduler.New(cfg.AutoReplyDelay, clock, p.fireAutoReply, log)
	return p
}

// Scheduler exposes the auto-reply scheduler, mainly for shutdown.
func (p *Pipeline) Scheduler() *scheduler.Scheduler { return p.sched }

// HandleWebhook processes one provider webhook delivery. Parse and
// identity failures are terminal and local: they are logged and
// swallowed, because the webhook endpoint answers 2xx either way. A
// returned error means a genuine internal failure the provider should
// retry.
func (p *Pipeline) HandleWebhook(
	ctx context.Context, providerID model.Provider, payload []byte,
) error {
	inbound, err := provider.Normalize(providerID, payload)
	if err != nil {
		if provider.IsParseError(err) {
			p.log.WithError(err).WithField("provider", string(providerID)).
				Warn("dropping unparsable inbound event")
			return nil
		}
		return err
	}

	_, err = p.process(ctx, inbound, false)
	return err
}

// HandleInbound processes an already-normalized inbound email. The
// IMAP intake poller uses this entry point; it shares the webhook
// path's pipeline body.
func (p *Pipeline) HandleInbound(
	ctx context.Context, inbound *model.InboundEmail,
) (*Trace, error) {
	return p.process(ctx, inbound, false)
}

// SimulateInbound runs a fabricated email through the same pipeline as
// production webhooks, with an immediate auto-reply fire instead of
// the configured delay, and returns the stage-by-stage trace.
func (p *Pipeline) SimulateInbound(
	ctx context.Context, from, subject, body string,
) (*Trace, error) {
	inbound := &model.InboundEmail{
		MessageID:  fmt.Sprintf("<%s@simulated.local>", uuid.New().String()),
		From:       from,
		Subject:    subject,
		BodyText:   body,
		ReceivedAt: time.Now(),
		ProviderID: model.ProviderResend,
	}

	return p.process(ctx, inbound, true)
}

// CheckIdentity runs the identity resolver directly, for the admin
// troubleshooting endpoint. It shares the resolution logic of the
// inbound path.
func (p *Pipeline) CheckIdentity(
	ctx context.Context, email string,
) (identity.ResolvedIdentity, error) {
	return p.resolver.Resolve(ctx, email)
}

// TestSend exercises the composer and dispatcher directly, bypassing
// threading. Returns the generated Message-ID.
func (p *Pipeline) TestSend(
	ctx context.Context, to []string, subject, body string,
) (string, error) {
	msg := p.composer.ComposeDirect(to, subject, body)
	if err := p.dispatcher.Dispatch(ctx, msg); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// process is the shared pipeline body: identity, threading, persist,
// CC policy, schedule.
func (p *Pipeline) process(
	ctx context.Context, inbound *model.InboundEmail, immediate bool,
) (*Trace, error) {
	ident, err := p.resolver.Resolve(ctx, inbound.From)
	if err != nil {
		return nil, err
	}
	if !ident.Resolved {
		// Fail closed: an unknown sender must never create or inject
		// into a conversation. The audit log line is the only side
		// effect.
		p.log.WithFields(logrus.Fields{
			"from":       inbound.From,
			"message_id": inbound.MessageID,
		}).Warn("inbound email from unresolved sender dropped")
		return &Trace{}, nil
	}

	res, err := p.tracker.ResolveOrCreate(ctx, inbound, ident.UserID)
	if err != nil {
		return nil, err
	}

	trace := &Trace{
		IdentityResolved: true,
		ConversationID:   res.ConversationID,
		CreatedNew:       res.CreatedNew,
		Duplicate:        res.Duplicate,
	}

	// A replayed Message-ID resolves to its conversation but adds no
	// turn and arms no task.
	if res.Duplicate {
		return trace, nil
	}

	unlock := p.locks.acquire(res.ConversationID)
	defer unlock()

	body := inbound.BodyText
	if body == "" && inbound.BodyHTML != "" {
		body = render.StripTags(inbound.BodyHTML)
	}

	if _, err := p.store.AppendMessage(ctx, model.Message{
		ConversationID: res.ConversationID,
		Direction:      model.DirectionInbound,
		MessageID:      inbound.MessageID,
		Body:           body,
	}); err != nil {
		return nil, err
	}

	decision := policy.Decide(p.cfg.CCMode, inbound, p.composer.FromAddress())
	if decision.SuppressSend {
		p.log.WithField("conversation_id", res.ConversationID).
			Debug("silent mode, reply suppressed")
		return trace, nil
	}

	if p.cfg.AutoReply {
		if immediate {
			p.sched.ScheduleImmediate(res.ConversationID, inbound)
		} else {
			p.sched.Schedule(res.ConversationID, inbound)
		}
		trace.AutoReplyScheduled = true
	}

	return trace, nil
}

// fireAutoReply runs when a pending task's delay elapses: compose via
// the agent, compute recipients, dispatch, and record the outbound
// Message-ID as a thread record. Failures here are terminal for this
// reply; they are logged and surfaced as operator notifications, and
// the next inbound email creates a fresh task.
func (p *Pipeline) fireAutoReply(conversationID string, inbound *model.InboundEmail) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	log := p.log.WithField("conversation_id", conversationID)

	replyMarkdown, err := p.agent.Compose(ctx, conversationID)
	if err != nil {
		log.WithError(err).Error("agent reply composition failed")
		p.notify(ctx, conversationID, fmt.Sprintf(
			"auto-reply composition failed: %v", err,
		))
		return
	}

	decision := policy.Decide(p.cfg.CCMode, inbound, p.composer.FromAddress())
	msg := p.composer.ComposeReply(inbound, decision, replyMarkdown)

	if err := p.dispatcher.Dispatch(ctx, msg); err != nil {
		// The inbound message is already threaded, so the
		// conversation shows a turn whose email reply never went
		// out. The operator notification is how that divergence is
		// surfaced.
		log.WithError(err).Error("auto-reply send failed")
		p.notify(ctx, conversationID, fmt.Sprintf(
			"auto-reply send failed: %v", err,
		))
		return
	}

	if err := p.tracker.RecordOutbound(ctx, conversationID, msg.MessageID); err != nil {
		log.WithError(err).Error("recording outbound thread record failed")
	}

	if _, err := p.store.AppendMessage(ctx, model.Message{
		ConversationID: conversationID,
		Direction:      model.DirectionOutbound,
		MessageID:      msg.MessageID,
		Body:           replyMarkdown,
	}); err != nil {
		log.WithError(err).Error("appending outbound message failed")
	}

	log.WithField("message_id", msg.MessageID).Info("auto-reply sent")
}

// notify records an operator-visible notification, logging if even
// that fails.
func (p *Pipeline) notify(ctx context.Context, conversationID, message string) {
	err := p.store.CreateNotification(ctx, model.Notification{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		p.log.WithError(err).Error("creating notification failed")
	}
}

package imap

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/gateway"
)

// fetchTimeout is the maximum time allowed for a single mailbox pass.
const fetchTimeout = 30 * time.Second

// fetchBatchSize caps how many unseen messages one pass picks up.
const fetchBatchSize = 50

// Poller periodically fetches unseen messages from the mailbox and
// feeds them through the inbound pipeline. A message is marked seen
// only after the pipeline handled it, so a failed pass retries it on
// the next tick.
type Poller struct {
	client   *Client
	pipeline *gateway.Pipeline
	log      *logrus.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a poller that checks the mailbox every interval.
// Intervals below 30 seconds are clamped to avoid hammering the server.
func NewPoller(client *Client, pipeline *gateway.Pipeline, log *logrus.Logger, interval time.Duration) *Poller {
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	return &Poller{
		client:   client,
		pipeline: pipeline,
		log:      log,
		interval: interval,
	}
}

// Start launches the polling goroutine. It is a no-op if the poller is
// already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(p.stopCh, p.doneCh)
}

// Stop halts the polling goroutine and waits for the current pass to
// finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// run is the polling loop. An initial pass happens immediately, then
// one per tick.
func (p *Poller) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pass()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.pass()
		}
	}
}

// pass fetches unseen messages and hands each to the pipeline.
func (p *Poller) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	fetched, err := p.client.FetchUnseen(ctx, fetchBatchSize)
	if err != nil {
		p.log.WithError(err).Warn("imap fetch failed")
		return
	}

	for _, msg := range fetched {
		if _, err := p.pipeline.HandleInbound(ctx, msg.Email); err != nil {
			// Leave unseen so the next pass retries it.
			p.log.WithError(err).WithField("message_id", msg.Email.MessageID).
				Warn("imap message pipeline failed")
			continue
		}
		if err := p.client.MarkSeen(ctx, msg.UID); err != nil {
			p.log.WithError(err).WithField("uid", msg.UID).
				Warn("failed to mark message seen")
		}
	}
}

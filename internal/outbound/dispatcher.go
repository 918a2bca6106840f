package outbound

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// requestTimeout bounds one provider call. Distinct from the
	// auto-reply delay: a provider timeout is a transient network
	// error, not a scheduler event.
	requestTimeout = 10 * time.Second

	maxAttempts = 3
	baseBackoff = 500 * time.Millisecond
)

// Dispatcher delivers composed messages through a sender adapter,
// retrying transient failures with bounded exponential backoff and
// honoring provider Retry-After hints.
type Dispatcher struct {
	sender Sender
	log    *logrus.Logger

	// sleep is replaced in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher over the given sender adapter.
func NewDispatcher(sender Sender, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Dispatch sends the message. On success it returns nil; the caller
// is responsible for recording the outbound Message-ID as a thread
// record. Fatal failures (bad credentials, unverified sender) return
// immediately; transient and rate-limit failures are retried up to
// maxAttempts in total.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := d.sender.Send(callCtx, msg)
		cancel()

		if err == nil {
			if attempt > 1 {
				d.log.WithFields(logrus.Fields{
					"message_id": msg.MessageID,
					"attempt":    attempt,
				}).Info("send succeeded after retry")
			}
			return nil
		}
		lastErr = err

		se, ok := AsSendError(err)
		if !ok || !se.Retryable() {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := backoff(attempt)
		if se.Kind == SendRateLimited && se.RetryAfter > 0 {
			wait = se.RetryAfter
		}

		d.log.WithFields(logrus.Fields{
			"message_id": msg.MessageID,
			"attempt":    attempt,
			"wait":       wait.String(),
			"kind":       string(se.Kind),
		}).Warn("send failed, retrying")

		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}

// backoff returns the exponential wait before the next attempt.
func backoff(attempt int) time.Duration {
	return baseBackoff << (attempt - 1)
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package outbound

import (
	"errors"
	"fmt"
	"time"
)

// SendErrorKind classifies a delivery failure.
type SendErrorKind string

const (
	// SendUnauthorized means the provider rejected the credentials.
	// Fatal; surfaced to the operator, never retried.
	SendUnauthorized SendErrorKind = "unauthorized"

	// SendSenderNotVerified means the from-address is not verified
	// with the provider. Fatal; surfaced, never retried.
	SendSenderNotVerified SendErrorKind = "sender_not_verified"

	// SendTransientNetwork covers network failures and provider
	// timeouts. Retried with bounded exponential backoff.
	SendTransientNetwork SendErrorKind = "transient_network"

	// SendRateLimited means the provider throttled the request.
	// Retried after the provider-supplied Retry-After when present,
	// otherwise with backoff.
	SendRateLimited SendErrorKind = "rate_limited"
)

// SendError is a classified delivery failure from a sender adapter.
type SendError struct {
	Kind SendErrorKind

	// RetryAfter is the provider-requested wait before retrying, when
	// the provider supplied one (rate limiting only).
	RetryAfter time.Duration

	Err error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("send error (%s)", e.Kind)
}

func (e *SendError) Unwrap() error { return e.Err }

// Retryable reports whether the failure kind permits another attempt.
func (e *SendError) Retryable() bool {
	return e.Kind == SendTransientNetwork || e.Kind == SendRateLimited
}

// AsSendError extracts a SendError from err's chain.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

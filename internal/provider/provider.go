// Package provider normalizes provider-specific webhook payloads into
// the canonical InboundEmail value. Nothing outside this package
// branches on provider payload shape.
package provider

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/nhle/email-gateway/internal/model"
)

// ParseErrorKind classifies why a webhook payload could not be
// normalized.
type ParseErrorKind string

const (
	// ParseMalformedEnvelope means the payload's JSON envelope (or the
	// SES double-encoded inner document) could not be decoded.
	ParseMalformedEnvelope ParseErrorKind = "malformed_envelope"

	// ParseMissingMessageID means the email carried no Message-ID
	// header. Such an event cannot be deduplicated or threaded safely
	// and is rejected before identity resolution.
	ParseMissingMessageID ParseErrorKind = "missing_message_id"
)

// ParseError is a terminal normalization failure. The event is logged
// and dropped; the webhook endpoint still answers 2xx so the provider
// does not retry an unparsable payload forever.
type ParseError struct {
	Kind     ParseErrorKind
	Provider model.Provider
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error (%s, %s): %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("parse error (%s, %s)", e.Provider, e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or any error in its chain) is a
// ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Normalize converts a raw webhook payload from the given provider into
// an InboundEmail. Failures are returned as *ParseError.
func Normalize(providerID model.Provider, payload []byte) (*model.InboundEmail, error) {
	switch providerID {
	case model.ProviderResend:
		return normalizeResend(payload)
	case model.ProviderSES:
		return normalizeSES(payload)
	default:
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: providerID,
			Err:      fmt.Errorf("unknown provider %q", providerID),
		}
	}
}

// bareAddress reduces a header address like "Alice <alice@co.com>" to
// the lowercased bare address form used throughout the pipeline.
func bareAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.Trim(s, "<>"))
}

// bareAddresses maps bareAddress over a list, dropping empties.
func bareAddresses(in []string) []string {
	var out []string
	for _, s := range in {
		if a := bareAddress(s); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// splitReferences splits a raw References header value into its
// Message-ID tokens. Tokens are whitespace-separated and kept in
// header order (oldest first); surrounding whitespace is trimmed and
// empty tokens dropped.
func splitReferences(raw string) []string {
	var refs []string
	for _, tok := range strings.Fields(raw) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			refs = append(refs, tok)
		}
	}
	return refs
}

// normalizeMessageID trims a Message-ID header value. The angle
// brackets are kept: IDs are compared byte-for-byte across the whole
// system, so both sides must store the same form.
func normalizeMessageID(raw string) string {
	return strings.TrimSpace(raw)
}

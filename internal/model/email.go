package model

import (
	"strings"
	"time"
)

// Provider identifies the inbound email provider that delivered a webhook.
type Provider string

const (
	ProviderResend Provider = "resend"
	ProviderSES    Provider = "ses"

	// ProviderIMAP marks email ingested by the IMAP intake poller
	// rather than a webhook. It is not a valid webhook path value.
	ProviderIMAP Provider = "imap"
)

// IsValid reports whether p is a recognized webhook provider
// identifier.
func (p Provider) IsValid() bool {
	return p == ProviderResend || p == ProviderSES
}

// Direction marks whether a conversation message came in from email or
// went out as an agent reply.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// InboundEmail is the canonical representation of one inbound email,
// regardless of which provider delivered it. It is produced by the
// provider normalizers and consumed by the rest of the pipeline; nothing
// past the normalizer boundary touches raw provider payloads or raw
// header strings.
type InboundEmail struct {
	// MessageID is the RFC 5322 Message-ID of the email, including
	// angle brackets. It is the dedup key for webhook replays and is
	// always non-empty; the normalizers reject events without one.
	MessageID string `json:"message_id"`

	// InReplyTo is the Message-ID of the immediate parent, or empty
	// for a fresh email.
	InReplyTo string `json:"in_reply_to"`

	// References is the ancestor Message-ID chain, oldest first.
	References []string `json:"references"`

	// From is the sender address, lowercased to bare address form.
	From string `json:"from"`

	// To holds the envelope recipient addresses.
	To []string `json:"to"`

	// Cc holds the carbon-copy addresses from the inbound email.
	Cc []string `json:"cc"`

	// Subject is the decoded subject line.
	Subject string `json:"subject"`

	// BodyText is the text/plain body, if any.
	BodyText string `json:"body_text"`

	// BodyHTML is the text/html body, if any.
	BodyHTML string `json:"body_html"`

	// ReceivedAt is when the provider received the email.
	ReceivedAt time.Time `json:"received_at"`

	// ProviderID identifies which provider delivered the event.
	ProviderID Provider `json:"provider_id"`
}

// ThreadCandidates returns the Message-ID candidates used to look up an
// existing conversation, probed in order: In-Reply-To first, then the
// References chain walked newest to oldest. Empty entries and
// duplicates are removed. An empty result means the email starts a new
// thread.
func (e *InboundEmail) ThreadCandidates() []string {
	seen := make(map[string]bool, len(e.References)+1)
	candidates := make([]string, 0, len(e.References)+1)

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		candidates = append(candidates, id)
	}

	add(e.InReplyTo)
	for i := len(e.References) - 1; i >= 0; i-- {
		add(e.References[i])
	}

	return candidates
}

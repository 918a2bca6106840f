package provider

import (
	"encoding/json"
	"time"

	"github.com/nhle/email-gateway/internal/model"
)

// resendEvent is the Resend inbound webhook envelope. Fields the
// gateway does not consume are omitted.
type resendEvent struct {
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
	Data      resendData `json:"data"`
}

type resendData struct {
	MessageID  string          `json:"message_id"`
	InReplyTo  string          `json:"in_reply_to"`
	References json.RawMessage `json:"references"`
	From       string          `json:"from"`
	To         []string        `json:"to"`
	Cc         []string        `json:"cc"`
	Subject    string          `json:"subject"`
	Text       string          `json:"text"`
	HTML       string          `json:"html"`
}

// normalizeResend parses a Resend inbound webhook. Resend delivers the
// email fields directly as JSON; only the References field needs
// normalization, since it may arrive as either a JSON array or a
// single whitespace-separated header string.
func normalizeResend(payload []byte) (*model.InboundEmail, error) {
	var ev resendEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: model.ProviderResend,
			Err:      err,
		}
	}

	messageID := normalizeMessageID(ev.Data.MessageID)
	if messageID == "" {
		return nil, &ParseError{
			Kind:     ParseMissingMessageID,
			Provider: model.ProviderResend,
		}
	}

	receivedAt := ev.CreatedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return &model.InboundEmail{
		MessageID:  messageID,
		InReplyTo:  normalizeMessageID(ev.Data.InReplyTo),
		References: decodeReferences(ev.Data.References),
		From:       bareAddress(ev.Data.From),
		To:         bareAddresses(ev.Data.To),
		Cc:         bareAddresses(ev.Data.Cc),
		Subject:    ev.Data.Subject,
		BodyText:   ev.Data.Text,
		BodyHTML:   ev.Data.HTML,
		ReceivedAt: receivedAt,
		ProviderID: model.ProviderResend,
	}, nil
}

// decodeReferences accepts either a JSON string ("<a> <b>") or a JSON
// array of Message-IDs and returns the ordered token list.
func decodeReferences(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return splitReferences(asString)
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		var refs []string
		for _, r := range asList {
			if id := normalizeMessageID(r); id != "" {
				refs = append(refs, id)
			}
		}
		return refs
	}

	return nil
}

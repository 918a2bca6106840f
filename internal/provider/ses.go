package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/email-gateway/internal/model"
)

// snsEnvelope is the outer SNS notification wrapper. SES delivers the
// receipt double-encoded: the Message field is itself a JSON document.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// sesMessage is the inner SES receipt document. Content holds the raw
// MIME of the received email, optionally base64-encoded.
type sesMessage struct {
	Mail struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"mail"`
	Content string `json:"content"`
}

// normalizeSES parses an SES-over-SNS inbound webhook: SNS envelope,
// then the inner receipt JSON, then the raw MIME headers and body.
func normalizeSES(payload []byte) (*model.InboundEmail, error) {
	var env snsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: model.ProviderSES,
			Err:      fmt.Errorf("decoding SNS envelope: %w", err),
		}
	}

	var msg sesMessage
	if err := json.Unmarshal([]byte(env.Message), &msg); err != nil {
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: model.ProviderSES,
			Err:      fmt.Errorf("decoding SES message: %w", err),
		}
	}
	if msg.Content == "" {
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: model.ProviderSES,
			Err:      fmt.Errorf("SES message has no content"),
		}
	}

	raw := []byte(msg.Content)
	// Raw MIME contains colons and CRLFs, which are outside the base64
	// alphabet, so a successful decode means the content was encoded.
	if decoded, err := base64.StdEncoding.DecodeString(msg.Content); err == nil {
		raw = decoded
	}

	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, &ParseError{
			Kind:     ParseMalformedEnvelope,
			Provider: model.ProviderSES,
			Err:      fmt.Errorf("parsing MIME: %w", err),
		}
	}
	defer mr.Close()

	header := mr.Header

	messageID := normalizeMessageID(header.Get("Message-Id"))
	if messageID == "" {
		return nil, &ParseError{
			Kind:     ParseMissingMessageID,
			Provider: model.ProviderSES,
		}
	}

	email := &model.InboundEmail{
		MessageID:  messageID,
		InReplyTo:  normalizeMessageID(header.Get("In-Reply-To")),
		References: splitReferences(header.Get("References")),
		From:       bareAddress(header.Get("From")),
		ReceivedAt: msg.Mail.Timestamp,
		ProviderID: model.ProviderSES,
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now()
	}

	if toList, err := header.AddressList("To"); err == nil {
		for _, addr := range toList {
			email.To = append(email.To, strings.ToLower(addr.Address))
		}
	}
	if ccList, err := header.AddressList("Cc"); err == nil {
		for _, addr := range ccList {
			email.Cc = append(email.Cc, strings.ToLower(addr.Address))
		}
	}
	if subject, err := header.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = header.Get("Subject")
	}

	email.BodyText, email.BodyHTML = extractBodies(mr)

	return email, nil
}

// extractBodies walks the MIME parts and returns the text/plain and
// text/html bodies, if present.
func extractBodies(mr *mail.Reader) (textBody, htmlBody string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}

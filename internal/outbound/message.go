package outbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/policy"
	"github.com/nhle/email-gateway/internal/render"
)

// Message is a fully composed outgoing email, ready for a sender
// adapter.
type Message struct {
	From     string
	FromName string
	To       []string
	Cc       []string
	Subject  string

	// MessageID is the freshly generated Message-ID of this email,
	// including angle brackets. It must be recorded as a thread
	// record after a successful send.
	MessageID string

	// InReplyTo and References make the email a correct RFC 5322
	// child of the inbound message it answers. Both are empty for
	// direct (non-reply) sends.
	InReplyTo  string
	References []string

	HTMLBody string
	TextBody string
}

// Sender delivers a composed message to one email provider. Failures
// are reported as *SendError where the adapter can classify them.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Composer builds outgoing messages. Provider credentials and sender
// identity are injected at construction so tests run with fakes.
type Composer struct {
	fromAddress     string
	fromName        string
	messageIDDomain string
	signatureHTML   string
	renderer        render.Renderer
}

// NewComposer creates a composer for the given sender identity. When
// messageIDDomain is empty, the domain of fromAddress is used.
func NewComposer(
	fromAddress, fromName, messageIDDomain, signatureHTML string,
	renderer render.Renderer,
) *Composer {
	if messageIDDomain == "" {
		if _, domain, ok := strings.Cut(fromAddress, "@"); ok {
			messageIDDomain = domain
		} else {
			messageIDDomain = "localhost"
		}
	}

	return &Composer{
		fromAddress:     fromAddress,
		fromName:        fromName,
		messageIDDomain: messageIDDomain,
		signatureHTML:   signatureHTML,
		renderer:        renderer,
	}
}

// FromAddress returns the gateway's own sending address.
func (c *Composer) FromAddress() string { return c.fromAddress }

// ComposeReply builds the reply to an inbound email: recipients from
// the CC policy decision, a fresh Message-ID, and In-Reply-To and
// References linking the email into the inbound thread.
func (c *Composer) ComposeReply(
	inbound *model.InboundEmail,
	decision policy.Decision,
	bodyMarkdown string,
) *Message {
	refs := make([]string, 0, len(inbound.References)+1)
	refs = append(refs, inbound.References...)
	refs = append(refs, inbound.MessageID)

	return &Message{
		From:       c.fromAddress,
		FromName:   c.fromName,
		To:         decision.To,
		Cc:         decision.Cc,
		Subject:    replySubject(inbound.Subject),
		MessageID:  c.newMessageID(),
		InReplyTo:  inbound.MessageID,
		References: refs,
		HTMLBody:   c.renderer.Render(bodyMarkdown, c.signatureHTML),
		TextBody:   bodyMarkdown,
	}
}

// ComposeDirect builds a standalone email with no threading headers.
// The admin test-send endpoint uses this.
func (c *Composer) ComposeDirect(
	to []string, subject, bodyMarkdown string,
) *Message {
	return &Message{
		From:      c.fromAddress,
		FromName:  c.fromName,
		To:        to,
		Subject:   subject,
		MessageID: c.newMessageID(),
		HTMLBody:  c.renderer.Render(bodyMarkdown, c.signatureHTML),
		TextBody:  bodyMarkdown,
	}
}

// newMessageID generates a globally unique Message-ID for an outgoing
// email.
func (c *Composer) newMessageID() string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), c.messageIDDomain)
}

// replySubject prefixes "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

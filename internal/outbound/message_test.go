package outbound

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/policy"
	"github.com/nhle/email-gateway/internal/render"
)

var messageIDPattern = regexp.MustCompile(`^<[0-9a-f-]{36}@gateway\.example\.com>$`)

func newTestComposer() *Composer {
	return NewComposer(
		"agent@gateway.example.com", "Gateway Agent", "", "<p>-- sig</p>",
		render.Basic{},
	)
}

func TestComposeReply(t *testing.T) {
	c := newTestComposer()

	inbound := &model.InboundEmail{
		MessageID:  "<inbound@mail.example.com>",
		References: []string{"<root@mail.example.com>"},
		From:       "alice@example.com",
		Cc:         []string{"bob@example.com"},
		Subject:    "Quarterly numbers",
	}
	decision := policy.Decide(model.CCModeRespondAll, inbound, c.FromAddress())

	msg := c.ComposeReply(inbound, decision, "Here are the numbers.")

	assert.Equal(t, "agent@gateway.example.com", msg.From)
	assert.Equal(t, "Gateway Agent", msg.FromName)
	assert.Equal(t, []string{"alice@example.com"}, msg.To)
	assert.Equal(t, []string{"bob@example.com"}, msg.Cc)
	assert.Equal(t, "Re: Quarterly numbers", msg.Subject)

	// Threading headers make the reply a child of the inbound email.
	assert.Equal(t, "<inbound@mail.example.com>", msg.InReplyTo)
	assert.Equal(t,
		[]string{"<root@mail.example.com>", "<inbound@mail.example.com>"},
		msg.References,
	)

	// Fresh Message-ID on the configured domain, never the inbound id.
	require.Regexp(t, messageIDPattern, msg.MessageID)
	assert.NotEqual(t, inbound.MessageID, msg.MessageID)

	assert.Equal(t, "Here are the numbers.", msg.TextBody)
	assert.Contains(t, msg.HTMLBody, "Here are the numbers.")
	assert.Contains(t, msg.HTMLBody, "<p>-- sig</p>")
}

func TestComposeReplyKeepsExistingRePrefix(t *testing.T) {
	c := newTestComposer()

	inbound := &model.InboundEmail{
		MessageID: "<inbound@x>",
		From:      "alice@example.com",
		Subject:   "RE: Quarterly numbers",
	}
	msg := c.ComposeReply(inbound, policy.Decision{To: []string{inbound.From}}, "body")

	assert.Equal(t, "RE: Quarterly numbers", msg.Subject)
}

func TestComposeReplyGeneratesUniqueMessageIDs(t *testing.T) {
	c := newTestComposer()
	inbound := &model.InboundEmail{MessageID: "<inbound@x>", Subject: "hi"}

	a := c.ComposeReply(inbound, policy.Decision{}, "one")
	b := c.ComposeReply(inbound, policy.Decision{}, "two")

	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestComposeDirect(t *testing.T) {
	c := newTestComposer()

	msg := c.ComposeDirect([]string{"ops@example.com"}, "Test email", "ping")

	assert.Equal(t, []string{"ops@example.com"}, msg.To)
	assert.Equal(t, "Test email", msg.Subject)
	assert.Empty(t, msg.InReplyTo)
	assert.Empty(t, msg.References)
	require.Regexp(t, messageIDPattern, msg.MessageID)
}

func TestNewComposerDerivesDomainFromAddress(t *testing.T) {
	c := NewComposer("agent@gateway.example.com", "", "", "", render.Basic{})
	assert.Equal(t, "gateway.example.com", c.messageIDDomain)

	c = NewComposer("agent@gateway.example.com", "", "ids.example.net", "", render.Basic{})
	assert.Equal(t, "ids.example.net", c.messageIDDomain)
}

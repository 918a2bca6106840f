package outbound

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSMTPSendHonorsContextDeadline delivers into a relay that accepts
// the connection but never sends its greeting. The context deadline
// must cut the exchange short with a retryable network error instead
// of blocking until some unrelated transport timeout.
func TestSMTPSendHonorsContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		connCh <- conn
	}()
	t.Cleanup(func() {
		select {
		case conn := <-connCh:
			conn.Close()
		default:
		}
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	sender := NewSMTPSender(host, port, "agent", "secret", false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sender.Send(ctx, testMessage())
	elapsed := time.Since(start)

	require.Error(t, err)
	sendErr, ok := AsSendError(err)
	require.True(t, ok)
	assert.Equal(t, SendTransientNetwork, sendErr.Kind)
	assert.True(t, sendErr.Retryable())
	assert.Less(t, elapsed, 2*time.Second)
}

// TestSMTPSendCancelledContext covers cancellation without a deadline:
// closing the connection must unblock the greeting read.
func TestSMTPSendCancelledContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	sender := NewSMTPSender(host, port, "agent", "secret", false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = sender.Send(ctx, testMessage())
	elapsed := time.Since(start)

	require.Error(t, err)
	sendErr, ok := AsSendError(err)
	require.True(t, ok)
	assert.Equal(t, SendTransientNetwork, sendErr.Kind)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestFormatMIME(t *testing.T) {
	msg := &Message{
		From:       "agent@gateway.example.com",
		FromName:   "Gateway Agent",
		To:         []string{"alice@example.com"},
		Cc:         []string{"bob@example.com", "carol@example.com"},
		Subject:    "Re: hi",
		MessageID:  "<reply-1@gateway.example.com>",
		InReplyTo:  "<in@x>",
		References: []string{"<root@x>", "<in@x>"},
		TextBody:   "plain reply",
		HTMLBody:   "<p>html reply</p>",
	}

	wire := formatMIME(msg)

	assert.Contains(t, wire, "From: Gateway Agent <agent@gateway.example.com>\r\n")
	assert.Contains(t, wire, "To: alice@example.com\r\n")
	assert.Contains(t, wire, "Cc: bob@example.com, carol@example.com\r\n")
	assert.Contains(t, wire, "Subject: Re: hi\r\n")
	assert.Contains(t, wire, "Message-ID: <reply-1@gateway.example.com>\r\n")
	assert.Contains(t, wire, "In-Reply-To: <in@x>\r\n")
	assert.Contains(t, wire, "References: <root@x> <in@x>\r\n")
	assert.Contains(t, wire, "Content-Type: multipart/alternative")
	assert.Contains(t, wire, "plain reply")
	assert.Contains(t, wire, "<p>html reply</p>")

	// Text part first so clients prefer the HTML alternative.
	assert.Less(t,
		strings.Index(wire, "plain reply"),
		strings.Index(wire, "<p>html reply</p>"),
	)
}

func TestFormatMIMESinglePart(t *testing.T) {
	msg := &Message{
		From:      "agent@gateway.example.com",
		To:        []string{"alice@example.com"},
		Subject:   "hello",
		MessageID: "<m@gateway.example.com>",
		TextBody:  "text only",
	}

	wire := formatMIME(msg)

	assert.NotContains(t, wire, "multipart")
	assert.NotContains(t, wire, "Cc:")
	assert.NotContains(t, wire, "In-Reply-To:")
	assert.Contains(t, wire, "Content-Type: text/plain; charset=UTF-8\r\n\r\ntext only")
}

package outbound

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSender delivers messages through an SMTP relay, using implicit
// TLS or STARTTLS depending on configuration.
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewSMTPSender creates an SMTP sender adapter.
func NewSMTPSender(host, port, username, password string, useTLS bool) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      useTLS,
	}
}

// Send implements Sender. The context bounds the whole exchange: its
// deadline becomes the connection deadline and cancellation closes the
// connection, so a stalled relay surfaces as a retryable network error
// instead of a hung goroutine.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	body := formatMIME(msg)
	addr := s.host + ":" + s.port
	recipients := append(append([]string{}, msg.To...), msg.Cc...)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("dial to %s: %w", addr, err),
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("creating SMTP client: %w", err),
		}
	}
	defer client.Close()

	if !s.tls {
		tlsConfig := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return &SendError{
				Kind: SendTransientNetwork,
				Err:  fmt.Errorf("SMTP STARTTLS: %w", err),
			}
		}
	}

	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	if err := client.Auth(auth); err != nil {
		return &SendError{
			Kind: SendUnauthorized,
			Err:  fmt.Errorf("SMTP auth: %w", err),
		}
	}

	return sendViaClient(client, msg.From, recipients, body)
}

// dial opens the transport connection, implicit TLS or plain TCP for a
// later STARTTLS upgrade, honoring the context for the connect phase.
func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.tls {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config:    &tls.Config{ServerName: s.host},
		}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// sendViaClient sends a message using an already-authenticated SMTP
// client.
func sendViaClient(client *smtp.Client, from string, to []string, body string) error {
	if err := client.Mail(from); err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("SMTP MAIL FROM: %w", err),
		}
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return &SendError{
				Kind: SendTransientNetwork,
				Err:  fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err),
			}
		}
	}

	writer, err := client.Data()
	if err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("SMTP DATA: %w", err),
		}
	}

	if _, err := writer.Write([]byte(body)); err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("writing email body: %w", err),
		}
	}

	if err := writer.Close(); err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("closing email body: %w", err),
		}
	}

	return client.Quit()
}

// formatMIME serializes a Message into RFC 5322 wire form. When both
// bodies are present a multipart/alternative container is written,
// text part first so clients prefer the HTML.
func formatMIME(msg *Message) string {
	var sb strings.Builder

	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		sb.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString(fmt.Sprintf("Message-ID: %s\r\n", msg.MessageID))
	if msg.InReplyTo != "" {
		sb.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
	}
	if len(msg.References) > 0 {
		sb.WriteString(fmt.Sprintf("References: %s\r\n", strings.Join(msg.References, " ")))
	}
	sb.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		boundary := "gw-" + strings.TrimSuffix(strings.TrimPrefix(msg.MessageID, "<"), ">")
		boundary = strings.ReplaceAll(boundary, "@", "-")

		sb.WriteString(fmt.Sprintf(
			"Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary,
		))
		sb.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.TextBody)
		sb.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.HTMLBody)
		sb.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))

	case msg.HTMLBody != "":
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.HTMLBody)

	default:
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.TextBody)
	}

	return sb.String()
}

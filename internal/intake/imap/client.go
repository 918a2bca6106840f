// Package imap ingests email by polling an IMAP mailbox, as an
// alternative intake to the provider webhooks. Fetched messages are
// normalized into the same canonical form and fed through the same
// inbound pipeline.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/email-gateway/internal/model"
)

// Client wraps go-imap v2 for connecting to and querying an IMAP
// server.
type Client struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewClient creates a new IMAP client configuration.
func NewClient(host, port, username, password string, useTLS bool) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      useTLS,
	}
}

// connect establishes a connection to the IMAP server, authenticates,
// and selects INBOX. The caller is responsible for calling Logout on
// the returned client.
func (c *Client) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", c.username, err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	return client, nil
}

// FetchedMessage pairs a normalized inbound email with the IMAP UID it
// came from, so the poller can mark it seen after a successful
// pipeline pass.
type FetchedMessage struct {
	UID   uint32
	Email *model.InboundEmail
}

// FetchUnseen retrieves the full content of unseen messages, up to
// limit, parsed into the canonical inbound form. Messages whose MIME
// cannot be parsed or that lack a Message-ID are skipped.
func (c *Client) FetchUnseen(ctx context.Context, limit int) ([]FetchedMessage, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var fetched []FetchedMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		email, err := parseRawMessage(raw)
		if err != nil {
			continue
		}

		fetched = append(fetched, FetchedMessage{
			UID:   uint32(buf.UID),
			Email: email,
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return fetched, fmt.Errorf("fetching messages: %w", err)
	}

	return fetched, nil
}

// MarkSeen flags a message as read after the pipeline has handled it.
func (c *Client) MarkSeen(ctx context.Context, uid uint32) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	return storeCmd.Close()
}

// parseRawMessage parses a raw RFC 5322 message into the canonical
// inbound form, extracting the threading headers and bodies.
func parseRawMessage(raw []byte) (*model.InboundEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing MIME: %w", err)
	}
	defer mr.Close()

	header := mr.Header

	messageID := strings.TrimSpace(header.Get("Message-Id"))
	if messageID == "" {
		return nil, fmt.Errorf("message has no Message-ID")
	}

	email := &model.InboundEmail{
		MessageID:  messageID,
		InReplyTo:  strings.TrimSpace(header.Get("In-Reply-To")),
		References: strings.Fields(header.Get("References")),
		ProviderID: model.ProviderIMAP,
		ReceivedAt: time.Now(),
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		email.ReceivedAt = date
	}

	if fromList, err := header.AddressList("From"); err == nil && len(fromList) > 0 {
		email.From = strings.ToLower(fromList[0].Address)
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
	}

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
			email.BodyText = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			email.BodyHTML = string(body)
		}
	}

	return email, nil
}

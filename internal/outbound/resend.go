package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const resendAPIURL = "https://api.resend.com/emails"

// ResendSender delivers messages through the Resend HTTP API.
type ResendSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewResendSender creates a Resend sender adapter with the given API
// key.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{
		apiKey:  apiKey,
		baseURL: resendAPIURL,
		client:  &http.Client{},
	}
}

// resendRequest is the Resend send-email request body.
type resendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Cc      []string          `json:"cc,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Send implements Sender.
func (s *ResendSender) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	headers := map[string]string{
		"Message-ID": msg.MessageID,
	}
	if msg.InReplyTo != "" {
		headers["In-Reply-To"] = msg.InReplyTo
	}
	if len(msg.References) > 0 {
		headers["References"] = strings.Join(msg.References, " ")
	}

	body, err := json.Marshal(resendRequest{
		From:    from,
		To:      msg.To,
		Cc:      msg.Cc,
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.baseURL, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendError{
			Kind: SendTransientNetwork,
			Err:  fmt.Errorf("calling Resend API: %w", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := fmt.Errorf("Resend API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &SendError{Kind: SendUnauthorized, Err: apiErr}

	case resp.StatusCode == http.StatusForbidden:
		return &SendError{Kind: SendSenderNotVerified, Err: apiErr}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &SendError{
			Kind:       SendRateLimited,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        apiErr,
		}

	case resp.StatusCode >= 500:
		return &SendError{Kind: SendTransientNetwork, Err: apiErr}

	default:
		// Remaining 4xx responses are request-shaped problems a retry
		// cannot fix.
		return apiErr
	}
}

// parseRetryAfter reads a Retry-After header value in seconds. Zero
// means no usable hint.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

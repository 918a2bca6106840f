// Package agent produces the reply text for a conversation. The chat
// runtime is an external collaborator consumed through the Composer
// interface; the shipped implementation talks to the Claude Messages
// API using the stored conversation history.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/store"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

// Composer produces the agent's reply for a conversation. The returned
// text is Markdown; recipient selection is not the composer's concern
// and any addresses it mentions are ignored.
type Composer interface {
	Compose(ctx context.Context, conversationID string) (string, error)
}

// ClaudeComposer composes replies via the Claude Messages API, feeding
// it the conversation's message history.
type ClaudeComposer struct {
	apiKey         string
	store          store.Store
	model          string
	maxTokens      int
	ccInstructions string
	client         *http.Client
}

// NewClaudeComposer creates a composer with the given configuration.
// ccInstructions is the operator's free-text guidance from the
// cc_instructions setting; it is passed through verbatim.
func NewClaudeComposer(
	apiKey string,
	s store.Store,
	modelName string,
	maxTokens int,
	ccInstructions string,
) *ClaudeComposer {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &ClaudeComposer{
		apiKey:         apiKey,
		store:          s,
		model:          modelName,
		maxTokens:      maxTokens,
		ccInstructions: ccInstructions,
		client:         &http.Client{},
	}
}

// Compose builds the reply for a conversation from its stored history.
func (c *ClaudeComposer) Compose(
	ctx context.Context, conversationID string,
) (string, error) {
	messages, err := c.store.GetMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("conversation %s has no messages", conversationID)
	}

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.buildSystemPrompt(),
		Messages:  buildAPIMessages(messages),
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("empty reply for conversation %s", conversationID)
	}

	return strings.Join(parts, ""), nil
}

// buildSystemPrompt constructs the system prompt, folding in the
// operator's cc_instructions when present.
func (c *ClaudeComposer) buildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are replying to an email conversation on behalf ")
	sb.WriteString("of its owner. Write the reply body only, in Markdown. ")
	sb.WriteString("Do not include a subject line, greeting headers, or ")
	sb.WriteString("email addresses; recipients are handled elsewhere. ")
	sb.WriteString("Keep replies concise and directly responsive to the ")
	sb.WriteString("most recent message.")

	if c.ccInstructions != "" {
		sb.WriteString("\n\nAdditional instructions from the operator:\n")
		sb.WriteString(c.ccInstructions)
	}

	return sb.String()
}

// buildAPIMessages converts stored conversation turns into the Claude
// API message format. Inbound email is the user role, prior agent
// replies the assistant role.
func buildAPIMessages(messages []model.Message) []apiMessage {
	var out []apiMessage
	for _, m := range messages {
		role := "user"
		if m.Direction == model.DirectionOutbound {
			role = "assistant"
		}

		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}

		out = append(out, apiMessage{
			Role:    role,
			Content: []apiContentBlock{{Type: "text", Text: body}},
		})
	}
	return out
}

// apiRequest is the Claude Messages API request body.
type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// apiResponse is the Claude Messages API response body.
type apiResponse struct {
	Content []apiContentBlock `json:"content"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

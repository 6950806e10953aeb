// Package llm wraps the chat-completion collaborator. Callers treat it as
// an opaque function: messages in, text out, or an error.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// ErrRateLimited is returned when the provider refuses the call for quota
// reasons. Callers fall back to canned or locally computed responses.
var ErrRateLimited = errors.New("llm rate limited")

// Turn is one prior exchange in a conversation.
type Turn struct {
	FromUser bool
	Text     string
}

// Chatter is the conversational interface the webhook and web chat use.
type Chatter interface {
	Chat(ctx context.Context, today time.Time, history []Turn, input string) (string, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client calls the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	logger *logrus.Logger
}

// DefaultModel balances speed and cost for short chat turns.
const DefaultModel = "gemini-1.5-flash"

// New creates a Gemini-backed client.
func New(ctx context.Context, apiKey, model string, logger *logrus.Logger) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM client: %w", err)
	}
	return &Client{client: c, model: model, logger: logger}, nil
}

// Chat runs one conversational turn with the allowance-diary system prompt
// and the session's prior history.
func (c *Client) Chat(ctx context.Context, today time.Time, history []Turn, input string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		var role genai.Role = genai.RoleModel
		if t.FromUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(input, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(today), genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", c.classify(err)
	}

	text := responseText(resp)
	if text == "" {
		return "", errors.New("empty response from LLM")
	}
	return normalizeKinds(text), nil
}

// Complete runs a single one-shot prompt, used for report generation.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", c.classify(err)
	}

	text := responseText(resp)
	if text == "" {
		return "", errors.New("empty response from LLM")
	}
	return text, nil
}

func (c *Client) classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		c.logger.WithError(err).Warn("LLM call rate limited")
		return ErrRateLimited
	}
	return fmt.Errorf("LLM generation failed: %w", err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

// normalizeKinds rewrites English transaction-kind words the model tends
// to emit into the Korean labels the extractor and the UI expect.
func normalizeKinds(s string) string {
	r := strings.NewReplacer(
		"income", "수입",
		"earnings", "수입",
		"revenue", "수입",
		"expenditure", "지출",
		"expense", "지출",
		"spending", "지출",
	)
	return r.Replace(s)
}

// StripCodeFence removes a markdown code fence around a JSON payload.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

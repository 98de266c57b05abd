// Package llm implements the model-backed collaborators: intent
// classification, FAQ and account responders, verification tool routing,
// escalation summarization, and approval interpretation.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultHTTPTimeout = 60 * time.Second
	maxRetries         = 2
)

// Config holds model access settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client wraps one configured chat-completion endpoint. All collaborators in
// this package share it.
type Client struct {
	api   openaigo.Client
	model string
}

// NewClient validates the config and builds the shared client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm config incomplete: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	api := openaigo.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: defaultHTTPTimeout}),
		option.WithMaxRetries(maxRetries),
		option.WithRequestTimeout(defaultHTTPTimeout),
	)
	return &Client{api: api, model: model}, nil
}

// chat issues one completion call and returns the first choice message.
func (c *Client) chat(ctx context.Context, messages []openaigo.ChatCompletionMessageParamUnion, tools []openaigo.ChatCompletionToolUnionParam) (openaigo.ChatCompletionMessage, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.model),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return openaigo.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return openaigo.ChatCompletionMessage{}, fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message, nil
}

// extractJSONFromText strips code fences and surrounding prose so model
// output can be unmarshaled even when it is not pure JSON.
func extractJSONFromText(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "```") {
		rest := strings.TrimSpace(strings.TrimPrefix(raw, "```"))
		if i := strings.Index(rest, "\n"); i >= 0 {
			rest = rest[i+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		raw = strings.TrimSpace(rest)
	}
	if !(strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[")) {
		if i := strings.Index(raw, "{"); i >= 0 {
			if j := strings.LastIndex(raw, "}"); j > i {
				return strings.TrimSpace(raw[i : j+1])
			}
		}
		if i := strings.Index(raw, "["); i >= 0 {
			if j := strings.LastIndex(raw, "]"); j > i {
				return strings.TrimSpace(raw[i : j+1])
			}
		}
	}
	return strings.TrimSpace(raw)
}

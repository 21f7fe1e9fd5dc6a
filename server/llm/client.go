package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Prompt is one single-turn completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// Completer returns free text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// New resolves the provider from the environment and returns a Completer.
// model may be empty to use LLM_MODEL or the provider default.
func New(model string) (Completer, error) {
	cfg, err := resolveAPIConfig(model)
	if err != nil {
		return nil, err
	}
	return newFromConfig(cfg), nil
}

func newFromConfig(cfg apiConfig) Completer {
	if cfg.Kind == providerAnthropic {
		opts := []aoption.RequestOption{aoption.WithAPIKey(cfg.APIKey), aoption.WithMaxRetries(1)}
		if cfg.BaseURL != "" {
			opts = append(opts, aoption.WithBaseURL(cfg.BaseURL))
		}
		return &claudeClient{client: anthropic.NewClient(opts...), model: cfg.Model}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(1),
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", cfg.Organization))
	}
	if len(cfg.ExtraHeaders) > 0 {
		extra := cfg.ExtraHeaders
		opts = append(opts, option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			for k, v := range extra {
				setHeaderPreserveCase(req.Header, k, v)
			}
			return next(req)
		}))
	}
	return &chatClient{client: openai.NewClient(opts...), model: cfg.Model, kind: cfg.Kind}
}

// chatClient speaks the OpenAI chat/completions API (xAI, OpenAI, OpenRouter).
type chatClient struct {
	client openai.Client
	model  string
	kind   providerKind
}

func (c *chatClient) Complete(ctx context.Context, p Prompt) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	msgs = append(msgs, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", c.kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type claudeClient struct {
	client anthropic.Client
	model  string
}

func (c *claudeClient) Complete(ctx context.Context, p Prompt) (string, error) {
	maxTokens := int64(p.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 300
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
	if strings.TrimSpace(p.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// setHeaderPreserveCase writes the header under the exact key given.
// OpenRouter documents HTTP-Referer, which canonicalisation would turn into Http-Referer.
func setHeaderPreserveCase(h http.Header, key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	if http.CanonicalHeaderKey(key) == key {
		h.Set(key, value)
		return
	}
	h.Del(key)
	h[key] = []string{value}
}

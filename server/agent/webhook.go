package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxBody = 64 << 10
)

// ErrCallbackFailed covers every way a webhook can fail: transport errors,
// deadlines, non-2xx replies, bad JSON and missing content.
var ErrCallbackFailed = errors.New("callback failed")

// Responder produces one turn of content for a battle.
type Responder interface {
	Respond(ctx context.Context, req TurnRequest) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req TurnRequest) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, req TurnRequest) (string, error) {
	return f(ctx, req)
}

// Webhook calls agent callback URLs. One attempt per call, no retries.
type Webhook struct {
	HTTP    *http.Client
	Timeout time.Duration
	MaxBody int64
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{HTTP: &http.Client{}, Timeout: timeout, MaxBody: DefaultMaxBody}
}

// Call POSTs req to url and returns the agent's content.
func (w *Webhook) Call(ctx context.Context, url string, req TurnRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrCallbackFailed, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallbackFailed, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallbackFailed, err)
	}
	defer resp.Body.Close()

	maxBody := w.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrCallbackFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http %d: %s", ErrCallbackFailed, resp.StatusCode, truncate(string(body), 200))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrCallbackFailed, err)
	}
	content, ok := ExtractContent(parsed)
	if !ok {
		return "", fmt.Errorf("%w: no roast, content or text in response", ErrCallbackFailed)
	}
	return content, nil
}

// For binds the webhook to one callback URL.
func (w *Webhook) For(url string) Responder {
	return ResponderFunc(func(ctx context.Context, req TurnRequest) (string, error) {
		return w.Call(ctx, url, req)
	})
}

// WithFallback returns a Responder that tries primary and silently switches
// to fallback on any error. The failure is only logged.
func WithFallback(primary, fallback Responder, log *slog.Logger) Responder {
	return ResponderFunc(func(ctx context.Context, req TurnRequest) (string, error) {
		out, err := primary.Respond(ctx, req)
		if err == nil {
			return out, nil
		}
		if log != nil {
			log.Warn("callback failed, using fallback",
				"match_id", req.MatchID, "round", req.Round, "agent", req.YourAgent.Name, "err", err)
		}
		return fallback.Respond(ctx, req)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

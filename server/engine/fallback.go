package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"roast-arena/server/agent"
	"roast-arena/server/llm"
)

const DefaultFallbackTimeout = 20 * time.Second

// Fallback writes a turn with an LLM when an agent has no working webhook.
// It implements agent.Responder and never returns an error or empty text.
type Fallback struct {
	llm     llm.Completer
	modes   *Catalogue
	timeout time.Duration
	log     *slog.Logger
}

// NewFallback builds a generator. A nil completer always yields the placeholder.
func NewFallback(c llm.Completer, modes *Catalogue, timeout time.Duration, log *slog.Logger) *Fallback {
	if modes == nil {
		modes = DefaultModes()
	}
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{llm: c, modes: modes, timeout: timeout, log: log}
}

func (f *Fallback) Respond(ctx context.Context, req agent.TurnRequest) (string, error) {
	mode := f.modes.Mode(req.Mode)
	if mode == nil {
		return placeholder, nil
	}
	if f.llm == nil {
		return mode.Placeholder, nil
	}

	transcript := req.PreviousRoasts
	if req.Blind {
		transcript = make([]agent.PriorSubmission, 0, len(req.PreviousRoasts))
		for _, p := range req.PreviousRoasts {
			if PhaseFor(p.Round) != PhaseFinale {
				transcript = append(transcript, p)
			}
		}
	}

	system, user, err := mode.render(promptData{
		Name:       req.YourAgent.Name,
		Opponent:   req.Opponent.Name,
		Style:      req.Style,
		Topic:      req.Topic,
		Round:      req.Round,
		Phase:      req.Phase,
		Transcript: transcript,
	})
	if err != nil {
		f.log.Error("render prompt", "mode", req.Mode, "err", err)
		return mode.Placeholder, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	out, err := f.llm.Complete(ctx, llm.Prompt{
		System:      system,
		User:        user,
		MaxTokens:   mode.MaxTokens,
		Temperature: mode.Temperature,
	})
	if err != nil {
		f.log.Warn("fallback generation failed", "match_id", req.MatchID, "round", req.Round, "err", err)
		return mode.Placeholder, nil
	}
	if out = strings.TrimSpace(out); out == "" {
		return mode.Placeholder, nil
	}
	return out, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"roast-arena/server/agent"
	"roast-arena/server/store"
)

const maxTopicLen = 200

// CreateMatch starts an active match at turn 1. When APIKey is set it must
// belong to agent A, the challenger.
func (e *Engine) CreateMatch(ctx context.Context, in CreateMatchInput) (CreatedMatch, error) {
	a, b := strings.TrimSpace(in.AgentA), strings.TrimSpace(in.AgentB)
	if a == "" || b == "" {
		return CreatedMatch{}, invalid("Both agent_a_id and agent_b_id are required")
	}
	if a == b {
		return CreatedMatch{}, invalid("an agent cannot battle itself")
	}
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = ModeRoast
	}
	if mode != ModeRoast && mode != ModeRap {
		return CreatedMatch{}, invalid("mode must be %q or %q", ModeRoast, ModeRap)
	}
	topic := optional(in.Topic)
	if topic != nil && utf8.RuneCountInString(*topic) > maxTopicLen {
		return CreatedMatch{}, invalid("topic must be at most %d characters", maxTopicLen)
	}

	if in.APIKey != "" {
		if err := e.VerifyKey(ctx, a, in.APIKey); err != nil {
			return CreatedMatch{}, err
		}
	}

	pair, err := e.agentPair(ctx, a, b)
	if errors.Is(err, ErrAgentsNotFound) {
		return CreatedMatch{}, ErrAgentNotFound
	}
	if err != nil {
		return CreatedMatch{}, err
	}

	m, err := e.store.CreateMatch(ctx, store.Match{
		ID:          uuid.NewString(),
		AgentA:      a,
		AgentB:      b,
		Status:      store.StatusActive,
		CurrentTurn: 1,
		Mode:        mode,
		Topic:       topic,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return CreatedMatch{}, fmt.Errorf("create match: %w", err)
	}
	e.log.Info("match created", "match_id", m.ID, "agent_a", pair[0].Name, "agent_b", pair[1].Name, "mode", mode)
	return CreatedMatch{
		Match: m,
		Agents: []agent.AgentRef{
			{ID: pair[0].ID, Name: pair[0].Name},
			{ID: pair[1].ID, Name: pair[1].Name},
		},
	}, nil
}

// GetMatch returns the match, both agents and the transcript ordered by round.
func (e *Engine) GetMatch(ctx context.Context, id string) (MatchView, error) {
	m, err := e.store.GetMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return MatchView{}, ErrMatchNotFound
	}
	if err != nil {
		return MatchView{}, err
	}
	agents, err := e.store.GetAgents(ctx, m.AgentA, m.AgentB)
	if err != nil {
		return MatchView{}, err
	}
	subs, err := e.store.ListSubmissions(ctx, m.ID, 0)
	if err != nil {
		return MatchView{}, err
	}

	view := MatchView{Match: m, Submissions: make([]TranscriptLine, 0, len(subs))}
	names := map[string]string{}
	for _, a := range agents {
		v := viewOf(a)
		names[a.ID] = a.Name
		switch a.ID {
		case m.AgentA:
			view.AgentA = &v
		case m.AgentB:
			view.AgentB = &v
		}
		if m.WinnerID != nil && *m.WinnerID == a.ID {
			view.Winner = &agent.AgentRef{ID: a.ID, Name: a.Name}
		}
	}
	for _, s := range subs {
		view.Submissions = append(view.Submissions, TranscriptLine{
			Round:     s.Round,
			AgentID:   s.AgentID,
			AgentName: names[s.AgentID],
			Content:   s.Content,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return view, nil
}

// Transcript returns submissions after the given round, used by the live stream.
func (e *Engine) Transcript(ctx context.Context, matchID string, afterRound int) ([]store.Submission, error) {
	return e.store.ListSubmissions(ctx, matchID, afterRound)
}

func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}

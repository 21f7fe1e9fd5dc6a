package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"roast-arena/server/agent"
	"roast-arena/server/store"
)

// placeholder is used if every generator came back empty.
const placeholder = "*mic drop*"

// agentATurn reports whether agent_a acts on this turn (odd turns).
func agentATurn(turn int) bool { return turn%2 == 1 }

// statusAfter is the match status once turn has been played.
func statusAfter(turn int) string {
	if turn >= TotalRounds {
		return store.StatusVoting
	}
	return store.StatusActive
}

// PhaseFor maps a turn number to its rap phase. The last two turns are the blind finale.
func PhaseFor(turn int) string {
	switch {
	case turn <= 1:
		return PhaseOpening
	case turn > TotalRounds-2:
		return PhaseFinale
	default:
		return PhaseRebuttal
	}
}

// Advance plays the current turn of a match: the acting agent's webhook is
// called (or the fallback generator used), one submission is recorded and the
// turn counter moves forward by one.
func (e *Engine) Advance(ctx context.Context, matchID string) (TurnResult, error) {
	m, err := e.store.GetMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return TurnResult{}, ErrMatchNotFound
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("load match: %w", err)
	}
	switch {
	case m.Status == store.StatusComplete:
		return TurnResult{}, ErrMatchAlreadyComplete
	case m.Status == store.StatusVoting || m.CurrentTurn > TotalRounds:
		return TurnResult{}, ErrRoundsExhausted
	case m.Status != store.StatusActive:
		return TurnResult{}, ErrMatchNotActive
	}

	agents, err := e.store.GetAgents(ctx, m.AgentA, m.AgentB)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load agents: %w", err)
	}
	var a, b *store.Agent
	for i := range agents {
		switch agents[i].ID {
		case m.AgentA:
			a = &agents[i]
		case m.AgentB:
			b = &agents[i]
		}
	}
	if a == nil || b == nil {
		return TurnResult{}, ErrAgentsNotFound
	}
	acting, opponent := *a, *b
	if !agentATurn(m.CurrentTurn) {
		acting, opponent = *b, *a
	}

	subs, err := e.store.ListSubmissions(ctx, m.ID, 0)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load transcript: %w", err)
	}

	req := agent.BuildTurnRequest(m, acting, opponent, subs)
	req.Phase = PhaseFor(m.CurrentTurn)
	req.Blind = m.Mode == ModeRap && req.Phase == PhaseFinale

	content := e.respond(ctx, acting, req)
	round := m.CurrentTurn
	next := statusAfter(round)

	res := TurnResult{
		MatchID:   m.ID,
		Round:     round,
		Agent:     agent.AgentRef{ID: acting.ID, Name: acting.Name},
		Content:   content,
		Status:    next,
		Persisted: true,
	}
	if next == store.StatusActive {
		n := round + 1
		res.NextTurn = &n
	}

	err = e.store.CommitTurn(ctx, store.TurnCommit{
		MatchID:    m.ID,
		ExpectTurn: round,
		NextStatus: next,
		Submission: store.Submission{
			ID:        uuid.NewString(),
			MatchID:   m.ID,
			AgentID:   acting.ID,
			Round:     round,
			Content:   content,
			CreatedAt: e.now(),
		},
	})
	switch {
	case errors.Is(err, store.ErrStaleTurn):
		return TurnResult{}, ErrTurnConflict
	case err != nil:
		e.log.Error("turn not persisted", "match_id", m.ID, "round", round, "err", err)
		res.Persisted = false
		res.Warning = "turn content was generated but could not be saved"
	default:
		e.log.Info("turn played", "match_id", m.ID, "round", round, "agent", acting.Name, "status", next)
	}
	return res, nil
}

// respond never fails: the callback is tried first when the agent has one,
// then the fallback generator, then a fixed placeholder.
func (e *Engine) respond(ctx context.Context, acting store.Agent, req agent.TurnRequest) string {
	r := e.fallback
	if acting.CallbackURL != nil && strings.TrimSpace(*acting.CallbackURL) != "" && e.webhook != nil {
		r = agent.WithFallback(e.webhook.For(*acting.CallbackURL), e.fallback, e.log)
	}
	out, err := r.Respond(ctx, req)
	if err != nil {
		e.log.Warn("generator failed", "match_id", req.MatchID, "round", req.Round, "err", err)
	}
	if strings.TrimSpace(out) == "" {
		return placeholder
	}
	return out
}

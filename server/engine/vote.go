package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roast-arena/server/store"
)

// RecordVote finalises a match. The winner, status and both agents' counters
// and ratings change in one store transaction; a second vote is rejected.
func (e *Engine) RecordVote(ctx context.Context, matchID, winnerID, method string) (VoteResult, error) {
	winnerID = strings.TrimSpace(winnerID)
	if winnerID == "" {
		return VoteResult{}, invalid("winner_id is required")
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = VoteHuman
	}
	if len(method) > 32 {
		return VoteResult{}, invalid("vote_type is too long")
	}

	m, err := e.store.GetMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return VoteResult{}, ErrMatchNotFound
	}
	if err != nil {
		return VoteResult{}, fmt.Errorf("load match: %w", err)
	}
	if m.Status == store.StatusComplete || m.WinnerID != nil {
		return VoteResult{}, ErrMatchAlreadyDecided
	}
	if winnerID != m.AgentA && winnerID != m.AgentB {
		return VoteResult{}, ErrInvalidWinner
	}
	loserID := m.AgentA
	if winnerID == m.AgentA {
		loserID = m.AgentB
	}

	before, err := e.agentPair(ctx, winnerID, loserID)
	if err != nil {
		return VoteResult{}, err
	}
	dW, dL := e.elo.Update(before[0].Elo, before[1].Elo)

	err = e.store.DecideMatch(ctx, store.Decision{
		MatchID:        m.ID,
		WinnerID:       winnerID,
		LoserID:        loserID,
		VoteType:       method,
		WinnerEloDelta: dW,
		LoserEloDelta:  dL,
	})
	if errors.Is(err, store.ErrAlreadyDecided) {
		return VoteResult{}, ErrMatchAlreadyDecided
	}
	if err != nil {
		return VoteResult{}, fmt.Errorf("record vote: %w", err)
	}

	after, err := e.agentPair(ctx, winnerID, loserID)
	if err != nil {
		return VoteResult{}, err
	}
	e.log.Info("vote recorded", "match_id", m.ID, "winner", after[0].Name, "vote_type", method,
		"elo_delta", dW)

	e.archive(ctx, m.ID)

	return VoteResult{
		MatchID:  m.ID,
		Winner:   tally(after[0]),
		Loser:    tally(after[1]),
		VoteType: method,
		Message:  after[0].Name + " wins!",
	}, nil
}

// agentPair loads two agents and returns them in the order asked for.
func (e *Engine) agentPair(ctx context.Context, first, second string) ([2]store.Agent, error) {
	var out [2]store.Agent
	agents, err := e.store.GetAgents(ctx, first, second)
	if err != nil {
		return out, fmt.Errorf("load agents: %w", err)
	}
	found := 0
	for _, a := range agents {
		switch a.ID {
		case first:
			out[0] = a
			found++
		case second:
			out[1] = a
			found++
		}
	}
	if found != 2 {
		return out, ErrAgentsNotFound
	}
	return out, nil
}

// archive uploads the final transcript in the background. Failures are logged only.
func (e *Engine) archive(ctx context.Context, matchID string) {
	if e.archiver == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, e.archiveTimeout)
		defer cancel()
		view, err := e.GetMatch(ctx, matchID)
		if err == nil {
			err = e.archiver.Archive(ctx, matchID, view)
		}
		if err != nil {
			e.log.Warn("archive failed", "match_id", matchID, "err", err)
			return
		}
		e.log.Debug("match archived", "match_id", matchID)
	}()
}

func tally(a store.Agent) AgentTally {
	return AgentTally{ID: a.ID, Name: a.Name, Wins: a.Wins, Losses: a.Losses, Elo: a.Elo}
}

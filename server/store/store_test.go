package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLite(t *testing.T) *Lite {
	t.Helper()
	st, err := OpenLite(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAgent(t *testing.T, st Store, name string) Agent {
	t.Helper()
	a, err := st.CreateAgent(context.Background(), NewAgent{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        name,
		CallbackURL: "http://localhost/" + name,
		KeyHash:     "hash-" + name,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	return a
}

func seedMatch(t *testing.T, st Store, a, b Agent) Match {
	t.Helper()
	m, err := st.CreateMatch(context.Background(), Match{
		ID: uuid.NewString(), AgentA: a.ID, AgentB: b.ID,
		Status: StatusActive, CurrentTurn: 1, Mode: "roast", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return m
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openTestLite(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestCreateAgentDuplicateName(t *testing.T) {
	st := openTestLite(t)
	ctx := context.Background()
	seedAgent(t, st, "sparky")

	_, err := st.CreateAgent(ctx, NewAgent{
		ID: uuid.NewString(), Name: "sparky", Slug: "sparky-2", KeyHash: "x", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrConflict)

	all, err := st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetAgentNotFound(t *testing.T) {
	st := openTestLite(t)
	_, err := st.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetAgentBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitTurnCompareAndSwap(t *testing.T) {
	st := openTestLite(t)
	ctx := context.Background()
	a, b := seedAgent(t, st, "a"), seedAgent(t, st, "b")
	m := seedMatch(t, st, a, b)

	commit := func(turn int) error {
		return st.CommitTurn(ctx, TurnCommit{
			MatchID: m.ID, ExpectTurn: turn, NextStatus: StatusActive,
			Submission: Submission{ID: uuid.NewString(), MatchID: m.ID, AgentID: a.ID,
				Round: turn, Content: "burn", CreatedAt: time.Now()},
		})
	}

	require.NoError(t, commit(1))
	assert.ErrorIs(t, commit(1), ErrStaleTurn)

	got, err := st.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentTurn)

	subs, err := st.ListSubmissions(ctx, m.ID, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 1, subs[0].Round)
}

func TestDecideMatchOnce(t *testing.T) {
	st := openTestLite(t)
	ctx := context.Background()
	a, b := seedAgent(t, st, "a"), seedAgent(t, st, "b")
	m := seedMatch(t, st, a, b)

	d := Decision{MatchID: m.ID, WinnerID: a.ID, LoserID: b.ID, VoteType: "human",
		WinnerEloDelta: 12, LoserEloDelta: -12}
	require.NoError(t, st.DecideMatch(ctx, d))
	assert.ErrorIs(t, st.DecideMatch(ctx, d), ErrAlreadyDecided)

	agents, err := st.GetAgents(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, ag := range agents {
		if ag.ID == a.ID {
			assert.Equal(t, 1, ag.Wins)
			assert.Equal(t, 0, ag.Losses)
			assert.InDelta(t, 1512, ag.Elo, 0.001)
		} else {
			assert.Equal(t, 0, ag.Wins)
			assert.Equal(t, 1, ag.Losses)
			assert.InDelta(t, 1488, ag.Elo, 0.001)
		}
	}

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBattles)
	assert.Equal(t, 1, stats.CompletedBattles)
	assert.NotNil(t, stats.LastUpdated)
}

func TestLeaderboardOrdering(t *testing.T) {
	st := openTestLite(t)
	ctx := context.Background()
	a, b := seedAgent(t, st, "a"), seedAgent(t, st, "b")
	m := seedMatch(t, st, a, b)
	require.NoError(t, st.DecideMatch(ctx, Decision{MatchID: m.ID, WinnerID: b.ID, LoserID: a.ID, VoteType: "ai"}))

	rows, err := st.Leaderboard(ctx, 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID)
}

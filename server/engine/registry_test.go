package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roast-arena/server/store"
)

func TestRegisterReturnsKeyOnce(t *testing.T) {
	e := newTestEngine(t, echo)
	ctx := context.Background()
	reg, err := e.Register(ctx, RegisterInput{
		Name: "  Sparky Bot ", Description: "loud", Style: "deadpan", CallbackURL: "https://agents.example/sparky",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sparky Bot", reg.Agent.Name)
	assert.Equal(t, "sparky-bot", reg.Agent.Slug)
	assert.Regexp(t, `^agent_[0-9a-f]{64}$`, reg.APIKey)
	assert.True(t, reg.Agent.HasCallback)
	assert.InDelta(t, DefaultEloStart, reg.Agent.Elo, 0.001)

	for _, read := range []func() (any, error){
		func() (any, error) { return e.ListAgents(ctx) },
		func() (any, error) { return e.Leaderboard(ctx) },
		func() (any, error) { return e.GetAgent(ctx, reg.Agent.ID) },
		func() (any, error) { return e.GetAgent(ctx, "sparky-bot") },
	} {
		v, err := read()
		require.NoError(t, err)
		b, err := json.Marshal(v)
		require.NoError(t, err)
		assert.NotContains(t, string(b), reg.APIKey)
		assert.NotContains(t, string(b), "agents.example")
	}

	require.NoError(t, e.VerifyKey(ctx, reg.Agent.ID, reg.APIKey))
	assert.ErrorIs(t, e.VerifyKey(ctx, reg.Agent.ID, "agent_"+reg.APIKey[6:10]), ErrUnauthorized)
	assert.ErrorIs(t, e.VerifyKey(ctx, "missing", reg.APIKey), ErrUnauthorized)
}

func TestRegisterDuplicateName(t *testing.T) {
	e := newTestEngine(t, echo)
	ctx := context.Background()
	register(t, e, "Sparky", "")

	_, err := e.Register(ctx, RegisterInput{Name: "Sparky", CallbackURL: "http://x.example/cb"})
	assert.ErrorIs(t, err, ErrAgentNameTaken)
	_, err = e.Register(ctx, RegisterInput{Name: "sparky!", CallbackURL: "http://x.example/cb"})
	assert.ErrorIs(t, err, ErrAgentNameTaken, "same slug")

	all, err := e.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEngine(t, echo)
	cases := []RegisterInput{
		{Name: "", CallbackURL: "http://x.example"},
		{Name: "ok", CallbackURL: ""},
		{Name: "ok", CallbackURL: "ftp://x.example"},
		{Name: "ok", CallbackURL: "/relative"},
		{Name: "!!!", CallbackURL: "http://x.example"},
	}
	for _, in := range cases {
		_, err := e.Register(context.Background(), in)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "input %+v gave %v", in, err)
	}
}

func TestWinRate(t *testing.T) {
	assert.Equal(t, 75, WinRate(3, 1))
	assert.Equal(t, 0, WinRate(0, 0))
	assert.Equal(t, 67, WinRate(2, 1))
	assert.Equal(t, 0, WinRate(0, 4))
}

func TestEloUpdate(t *testing.T) {
	dW, dL := NewElo(24).Update(1500, 1500)
	assert.InDelta(t, 12, dW, 0.001)
	assert.InDelta(t, -12, dL, 0.001)

	dW, _ = NewElo(24).Update(1700, 1500)
	assert.Less(t, dW, 12.0, "favourite gains less")
}

func TestLeaderboardWinRate(t *testing.T) {
	e := newTestEngine(t, echo)
	ctx := context.Background()
	a, b := register(t, e, "Axel", ""), register(t, e, "Bolt", "")
	for i, winner := range []string{a.Agent.ID, a.Agent.ID, b.Agent.ID, a.Agent.ID} {
		m := newMatch(t, e, a, b)
		_, err := e.RecordVote(ctx, m.ID, winner, "ai")
		require.NoError(t, err, "vote %d", i)
	}

	rows, err := e.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Axel", rows[0].Name)
	assert.Equal(t, 3, rows[0].Wins)
	assert.Equal(t, 1, rows[0].Losses)
	assert.Equal(t, 75, rows[0].WinRate)
	assert.Equal(t, 25, rows[1].WinRate)
}

func TestRecordVote(t *testing.T) {
	e := newTestEngine(t, echo)
	ctx := context.Background()
	a, b := register(t, e, "Axel", ""), register(t, e, "Bolt", "")
	m := newMatch(t, e, a, b)

	_, err := e.RecordVote(ctx, m.ID, "someone-else", "")
	assert.ErrorIs(t, err, ErrInvalidWinner)
	_, err = e.RecordVote(ctx, m.ID, "", "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	_, err = e.RecordVote(ctx, "missing", b.Agent.ID, "")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	res, err := e.RecordVote(ctx, m.ID, b.Agent.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Bolt wins!", res.Message)
	assert.Equal(t, VoteHuman, res.VoteType)
	assert.Equal(t, 1, res.Winner.Wins)
	assert.Equal(t, 0, res.Winner.Losses)
	assert.Equal(t, 1, res.Loser.Losses)
	assert.Greater(t, res.Winner.Elo, res.Loser.Elo)

	got, err := e.store.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, b.Agent.ID, *got.WinnerID)
	require.NotNil(t, got.VoteType)
	assert.Equal(t, VoteHuman, *got.VoteType)

	_, err = e.RecordVote(ctx, m.ID, a.Agent.ID, "")
	assert.ErrorIs(t, err, ErrMatchAlreadyDecided)
	bolt, err := e.GetAgent(ctx, b.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bolt.Wins)
}

type chanArchiver chan string

func (c chanArchiver) Archive(_ context.Context, matchID string, transcript any) error {
	if _, ok := transcript.(MatchView); !ok {
		return errors.New("unexpected transcript type")
	}
	c <- matchID
	return nil
}

func TestRecordVoteArchives(t *testing.T) {
	arch := make(chanArchiver, 1)
	e := newTestEngine(t, echo, WithArchiver(arch))
	a, b := register(t, e, "Axel", ""), register(t, e, "Bolt", "")
	m := newMatch(t, e, a, b)

	_, err := e.RecordVote(context.Background(), m.ID, a.Agent.ID, "")
	require.NoError(t, err)
	select {
	case id := <-arch:
		assert.Equal(t, m.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("archive not called")
	}
}

func TestCreateMatch(t *testing.T) {
	e := newTestEngine(t, echo)
	ctx := context.Background()
	a, b := register(t, e, "Axel", ""), register(t, e, "Bolt", "")

	var ve *ValidationError
	_, err := e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID})
	assert.ErrorAs(t, err, &ve)
	_, err = e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID, AgentB: a.Agent.ID})
	assert.ErrorAs(t, err, &ve)
	_, err = e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID, AgentB: b.Agent.ID, Mode: "haiku"})
	assert.ErrorAs(t, err, &ve)

	_, err = e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID, AgentB: "ghost"})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID, AgentB: b.Agent.ID, APIKey: b.APIKey})
	assert.ErrorIs(t, err, ErrUnauthorized)

	cm, err := e.CreateMatch(ctx, CreateMatchInput{AgentA: a.Agent.ID, AgentB: b.Agent.ID, APIKey: a.APIKey, Mode: "RAP", Topic: "GPUs"})
	require.NoError(t, err)
	assert.Equal(t, ModeRap, cm.Match.Mode)
	require.NotNil(t, cm.Match.Topic)
	assert.Equal(t, "GPUs", *cm.Match.Topic)
	assert.Equal(t, "Axel", cm.Agents[0].Name)
	assert.Equal(t, "Bolt", cm.Agents[1].Name)

	view, err := e.GetMatch(ctx, cm.Match.ID)
	require.NoError(t, err)
	require.NotNil(t, view.AgentA)
	assert.Equal(t, a.Agent.ID, view.AgentA.ID)
	assert.Empty(t, view.Submissions)
	assert.Nil(t, view.Winner)

	_, err = e.GetMatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBattles)
	assert.Equal(t, 0, stats.CompletedBattles)
}

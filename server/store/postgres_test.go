package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestPG connects to DATABASE_URL and skips when it is unset.
func openTestPG(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// seedPG creates two agents and an active match with unique names and removes
// them when the test ends.
func seedPG(t *testing.T, db *DB) (Agent, Agent, Match) {
	t.Helper()
	suffix := uuid.NewString()[:8]
	a, b := seedAgent(t, db, "pg-a-"+suffix), seedAgent(t, db, "pg-b-"+suffix)
	m := seedMatch(t, db, a, b)
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.Exec(ctx, `DELETE FROM submissions WHERE match_id = $1`, m.ID)
		_, _ = db.Exec(ctx, `DELETE FROM matches WHERE id = $1`, m.ID)
		_, _ = db.Exec(ctx, `DELETE FROM agents WHERE id IN ($1, $2)`, a.ID, b.ID)
	})
	return a, b, m
}

func TestPGCommitTurnRace(t *testing.T) {
	db := openTestPG(t)
	ctx := context.Background()
	a, _, m := seedPG(t, db)

	const racers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = db.CommitTurn(ctx, TurnCommit{
				MatchID: m.ID, ExpectTurn: 1, NextStatus: StatusActive,
				Submission: Submission{ID: uuid.NewString(), MatchID: m.ID, AgentID: a.ID,
					Round: 1, Content: "burn", CreatedAt: time.Now()},
			})
		}(i)
	}
	close(start)
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrStaleTurn)
	}
	assert.Equal(t, 1, won)

	got, err := db.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentTurn)
	subs, err := db.ListSubmissions(ctx, m.ID, 0)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestPGDecideMatchOnce(t *testing.T) {
	db := openTestPG(t)
	ctx := context.Background()
	a, b, m := seedPG(t, db)

	d := Decision{MatchID: m.ID, WinnerID: a.ID, LoserID: b.ID, VoteType: "human",
		WinnerEloDelta: 12, LoserEloDelta: -12}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.DecideMatch(ctx, d)
		}(i)
	}
	wg.Wait()

	decided := 0
	for _, err := range errs {
		if err == nil {
			decided++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyDecided)
	}
	assert.Equal(t, 1, decided)

	agents, err := db.GetAgents(ctx, a.ID, b.ID)
	require.NoError(t, err)
	for _, ag := range agents {
		if ag.ID == a.ID {
			assert.Equal(t, 1, ag.Wins)
			assert.InDelta(t, 1512, ag.Elo, 0.001)
		} else {
			assert.Equal(t, 1, ag.Losses)
			assert.InDelta(t, 1488, ag.Elo, 0.001)
		}
	}
}

func TestPGHitFixedWindow(t *testing.T) {
	db := openTestPG(t)
	ctx := context.Background()
	key := "test-" + uuid.NewString()
	t.Cleanup(func() { _, _ = db.Exec(context.Background(), `DELETE FROM rate_limits WHERE key = $1`, key) })

	now := time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)
	for want := 1; want <= 3; want++ {
		n, err := db.Hit(ctx, key, now, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := db.Hit(ctx, key, now.Add(time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "next window starts over")
}

package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrStaleTurn is returned by CommitTurn when the match moved on since it was read.
	ErrStaleTurn = errors.New("stale turn")
	// ErrAlreadyDecided is returned by DecideMatch when the match already has a winner.
	ErrAlreadyDecided = errors.New("already decided")
)

const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusVoting   = "voting"
	StatusComplete = "complete"
)

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description"`
	Style       *string   `json:"style"`
	CallbackURL *string   `json:"-"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Elo         float64   `json:"elo"`
	CreatedAt   time.Time `json:"created_at"`
}

type NewAgent struct {
	ID          string
	Name        string
	Slug        string
	Description *string
	Style       *string
	CallbackURL string
	KeyHash     string
	CreatedAt   time.Time
}

type Match struct {
	ID          string    `json:"id"`
	AgentA      string    `json:"agent_a"`
	AgentB      string    `json:"agent_b"`
	Status      string    `json:"status"`
	CurrentTurn int       `json:"current_turn"`
	WinnerID    *string   `json:"winner_id"`
	VoteType    *string   `json:"vote_type"`
	Mode        string    `json:"mode"`
	Topic       *string   `json:"topic"`
	CreatedAt   time.Time `json:"created_at"`
}

type Submission struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"match_id"`
	AgentID   string    `json:"agent_id"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnCommit moves a match from ExpectTurn to ExpectTurn+1 and records the
// submission for ExpectTurn in the same transaction.
type TurnCommit struct {
	MatchID    string
	ExpectTurn int
	NextStatus string
	Submission Submission
}

// Decision finalises a match. Elo deltas are added to the current ratings.
type Decision struct {
	MatchID        string
	WinnerID       string
	LoserID        string
	VoteType       string
	WinnerEloDelta float64
	LoserEloDelta  float64
}

type Stats struct {
	TotalBattles     int        `json:"total_battles"`
	CompletedBattles int        `json:"completed_battles"`
	LastUpdated      *time.Time `json:"last_updated"`
}

// Store is the persistence interface for agents, matches and submissions.
// Implementations: *DB (PostgreSQL) and *Lite (SQLite).
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, a NewAgent) (Agent, error)
	GetAgent(ctx context.Context, id string) (Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (Agent, error)
	GetAgents(ctx context.Context, ids ...string) ([]Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	Leaderboard(ctx context.Context, limit int) ([]Agent, error)
	AgentKeyHash(ctx context.Context, id string) (string, error)

	// Matches
	CreateMatch(ctx context.Context, m Match) (Match, error)
	GetMatch(ctx context.Context, id string) (Match, error)
	CommitTurn(ctx context.Context, c TurnCommit) error
	DecideMatch(ctx context.Context, d Decision) error

	// Submissions
	ListSubmissions(ctx context.Context, matchID string, afterRound int) ([]Submission, error)

	Stats(ctx context.Context) (Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Lite)(nil)
)

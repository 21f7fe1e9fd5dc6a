package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

// DB is the PostgreSQL implementation of Store.
type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	p, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close()                         { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) Migrate(ctx context.Context) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return ErrConflict
	}
	return err
}

const agentCols = `id, name, slug, description, style, callback_url, wins, losses, elo, created_at`

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.Description, &a.Style, &a.CallbackURL,
		&a.Wins, &a.Losses, &a.Elo, &a.CreatedAt)
	return a, pgErr(err)
}

func collectAgents(rows pgx.Rows) ([]Agent, error) {
	defer rows.Close()
	out := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) CreateAgent(ctx context.Context, a NewAgent) (Agent, error) {
	row := db.QueryRow(ctx, `
        INSERT INTO agents(id, name, slug, description, style, api_key_hash, callback_url, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING `+agentCols,
		a.ID, a.Name, a.Slug, a.Description, a.Style, a.KeyHash, a.CallbackURL, a.CreatedAt)
	return scanAgent(row)
}

func (db *DB) GetAgent(ctx context.Context, id string) (Agent, error) {
	return scanAgent(db.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE id = $1`, id))
}

func (db *DB) GetAgentBySlug(ctx context.Context, slug string) (Agent, error) {
	return scanAgent(db.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE slug = $1`, slug))
}

func (db *DB) GetAgents(ctx context.Context, ids ...string) ([]Agent, error) {
	rows, err := db.Query(ctx, `SELECT `+agentCols+` FROM agents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectAgents(rows)
}

func (db *DB) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := db.Query(ctx, `SELECT `+agentCols+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectAgents(rows)
}

func (db *DB) Leaderboard(ctx context.Context, limit int) ([]Agent, error) {
	rows, err := db.Query(ctx, `
        SELECT `+agentCols+`
          FROM agents
         ORDER BY wins DESC, losses ASC, created_at ASC
         LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	return collectAgents(rows)
}

func (db *DB) AgentKeyHash(ctx context.Context, id string) (string, error) {
	var h string
	err := db.QueryRow(ctx, `SELECT api_key_hash FROM agents WHERE id = $1`, id).Scan(&h)
	return h, pgErr(err)
}

const matchCols = `id, agent_a, agent_b, status, current_turn, winner_id, vote_type, mode, topic, created_at`

func scanMatch(row pgx.Row) (Match, error) {
	var m Match
	err := row.Scan(&m.ID, &m.AgentA, &m.AgentB, &m.Status, &m.CurrentTurn, &m.WinnerID,
		&m.VoteType, &m.Mode, &m.Topic, &m.CreatedAt)
	return m, pgErr(err)
}

func (db *DB) CreateMatch(ctx context.Context, m Match) (Match, error) {
	row := db.QueryRow(ctx, `
        INSERT INTO matches(id, agent_a, agent_b, status, current_turn, mode, topic, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING `+matchCols,
		m.ID, m.AgentA, m.AgentB, m.Status, m.CurrentTurn, m.Mode, m.Topic, m.CreatedAt)
	return scanMatch(row)
}

func (db *DB) GetMatch(ctx context.Context, id string) (Match, error) {
	return scanMatch(db.QueryRow(ctx, `SELECT `+matchCols+` FROM matches WHERE id = $1`, id))
}

// CommitTurn advances the turn counter with a compare-and-swap and records the
// submission atomically.
func (db *DB) CommitTurn(ctx context.Context, c TurnCommit) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	tag, err := tx.Exec(ctx, `
        UPDATE matches
           SET current_turn = current_turn + 1,
               status = $3,
               updated_at = now()
         WHERE id = $1 AND current_turn = $2 AND status = 'active'
    `, c.MatchID, c.ExpectTurn, c.NextStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleTurn
	}

	s := c.Submission
	if _, err := tx.Exec(ctx, `
        INSERT INTO submissions(id, match_id, agent_id, round, content, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, s.ID, s.MatchID, s.AgentID, s.Round, s.Content, s.CreatedAt); err != nil {
		if errors.Is(pgErr(err), ErrConflict) {
			return ErrStaleTurn
		}
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) DecideMatch(ctx context.Context, d Decision) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE matches
           SET winner_id = $2, status = 'complete', vote_type = $3, updated_at = now()
         WHERE id = $1 AND status <> 'complete' AND winner_id IS NULL
    `, d.MatchID, d.WinnerID, d.VoteType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrAlreadyDecided
	}
	if _, err := tx.Exec(ctx, `UPDATE agents SET wins = wins + 1, elo = elo + $2 WHERE id = $1`,
		d.WinnerID, d.WinnerEloDelta); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE agents SET losses = losses + 1, elo = elo + $2 WHERE id = $1`,
		d.LoserID, d.LoserEloDelta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) ListSubmissions(ctx context.Context, matchID string, afterRound int) ([]Submission, error) {
	rows, err := db.Query(ctx, `
        SELECT id, match_id, agent_id, round, content, created_at
          FROM submissions
         WHERE match_id = $1 AND round > $2
         ORDER BY round
    `, matchID, afterRound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.MatchID, &s.AgentID, &s.Round, &s.Content, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := db.QueryRow(ctx, `
        SELECT COUNT(*)::int,
               COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0)::int,
               MAX(updated_at)
          FROM matches
    `).Scan(&st.TotalBattles, &st.CompletedBattles, &st.LastUpdated)
	return st, err
}

// Hit counts one request for key in the fixed window containing now and
// returns the window total. Used as the shared rate limit counter.
func (db *DB) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	start := now.Truncate(window)
	var hits int
	err := db.QueryRow(ctx, `
        INSERT INTO rate_limits(key, window_start, hits)
        VALUES ($1, $2, 1)
        ON CONFLICT (key, window_start) DO UPDATE
          SET hits = rate_limits.hits + 1
        RETURNING hits
    `, key, start).Scan(&hits)
	return hits, err
}

// PruneRateLimits drops windows that ended before cutoff.
func (db *DB) PruneRateLimits(ctx context.Context, cutoff time.Time) error {
	_, err := db.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, cutoff)
	return err
}

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Lite is the SQLite implementation of Store, used for local runs and tests.
// A single connection serialises writers, which is what makes CommitTurn's
// compare-and-swap safe without row locks.
type Lite struct {
	DB *sql.DB
}

// OpenLite opens (and creates if needed) a SQLite database file.
func OpenLite(path string) (*Lite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Lite{DB: db}, nil
}

func (s *Lite) Close() {
	if s == nil || s.DB == nil {
		return
	}
	_ = s.DB.Close()
}

func (s *Lite) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Lite) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func liteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return err
}

func millis(t time.Time) int64      { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface{ Scan(dest ...any) error }

func scanLiteAgent(row scanner) (Agent, error) {
	var a Agent
	var created int64
	err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.Description, &a.Style, &a.CallbackURL,
		&a.Wins, &a.Losses, &a.Elo, &created)
	if err != nil {
		return Agent{}, liteErr(err)
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}

func (s *Lite) queryAgents(ctx context.Context, q string, args ...any) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Agent{}
	for rows.Next() {
		a, err := scanLiteAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Lite) CreateAgent(ctx context.Context, a NewAgent) (Agent, error) {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO agents(id, name, slug, description, style, api_key_hash, callback_url, created_at)
        VALUES (?,?,?,?,?,?,?,?)
    `, a.ID, a.Name, a.Slug, a.Description, a.Style, a.KeyHash, a.CallbackURL, millis(a.CreatedAt))
	if err != nil {
		return Agent{}, liteErr(err)
	}
	return s.GetAgent(ctx, a.ID)
}

func (s *Lite) GetAgent(ctx context.Context, id string) (Agent, error) {
	return scanLiteAgent(s.DB.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE id = ?`, id))
}

func (s *Lite) GetAgentBySlug(ctx context.Context, slug string) (Agent, error) {
	return scanLiteAgent(s.DB.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE slug = ?`, slug))
}

func (s *Lite) GetAgents(ctx context.Context, ids ...string) ([]Agent, error) {
	if len(ids) == 0 {
		return []Agent{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return s.queryAgents(ctx, `SELECT `+agentCols+` FROM agents WHERE id IN (`+ph+`)`, args...)
}

func (s *Lite) ListAgents(ctx context.Context) ([]Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentCols+` FROM agents ORDER BY created_at DESC, rowid DESC`)
}

func (s *Lite) Leaderboard(ctx context.Context, limit int) ([]Agent, error) {
	return s.queryAgents(ctx, `
        SELECT `+agentCols+`
          FROM agents
         ORDER BY wins DESC, losses ASC, created_at ASC, rowid ASC
         LIMIT ?
    `, limit)
}

func (s *Lite) AgentKeyHash(ctx context.Context, id string) (string, error) {
	var h string
	err := s.DB.QueryRowContext(ctx, `SELECT api_key_hash FROM agents WHERE id = ?`, id).Scan(&h)
	return h, liteErr(err)
}

func scanLiteMatch(row scanner) (Match, error) {
	var m Match
	var created int64
	err := row.Scan(&m.ID, &m.AgentA, &m.AgentB, &m.Status, &m.CurrentTurn, &m.WinnerID,
		&m.VoteType, &m.Mode, &m.Topic, &created)
	if err != nil {
		return Match{}, liteErr(err)
	}
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func (s *Lite) CreateMatch(ctx context.Context, m Match) (Match, error) {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO matches(id, agent_a, agent_b, status, current_turn, mode, topic, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?)
    `, m.ID, m.AgentA, m.AgentB, m.Status, m.CurrentTurn, m.Mode, m.Topic, millis(m.CreatedAt), millis(m.CreatedAt))
	if err != nil {
		return Match{}, liteErr(err)
	}
	return s.GetMatch(ctx, m.ID)
}

func (s *Lite) GetMatch(ctx context.Context, id string) (Match, error) {
	return scanLiteMatch(s.DB.QueryRowContext(ctx, `SELECT `+matchCols+` FROM matches WHERE id = ?`, id))
}

func (s *Lite) CommitTurn(ctx context.Context, c TurnCommit) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE matches
           SET current_turn = current_turn + 1, status = ?, updated_at = ?
         WHERE id = ? AND current_turn = ? AND status = 'active'
    `, c.NextStatus, millis(time.Now()), c.MatchID, c.ExpectTurn)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrStaleTurn
	}

	sub := c.Submission
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO submissions(id, match_id, agent_id, round, content, created_at)
        VALUES (?,?,?,?,?,?)
    `, sub.ID, sub.MatchID, sub.AgentID, sub.Round, sub.Content, millis(sub.CreatedAt)); err != nil {
		if errors.Is(liteErr(err), ErrConflict) {
			return ErrStaleTurn
		}
		return err
	}
	return tx.Commit()
}

func (s *Lite) DecideMatch(ctx context.Context, d Decision) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE matches
           SET winner_id = ?, status = 'complete', vote_type = ?, updated_at = ?
         WHERE id = ? AND status <> 'complete' AND winner_id IS NULL
    `, d.WinnerID, d.VoteType, millis(time.Now()), d.MatchID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrAlreadyDecided
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET wins = wins + 1, elo = elo + ? WHERE id = ?`,
		d.WinnerEloDelta, d.WinnerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET losses = losses + 1, elo = elo + ? WHERE id = ?`,
		d.LoserEloDelta, d.LoserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Lite) ListSubmissions(ctx context.Context, matchID string, afterRound int) ([]Submission, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, match_id, agent_id, round, content, created_at
          FROM submissions
         WHERE match_id = ? AND round > ?
         ORDER BY round
    `, matchID, afterRound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		var sub Submission
		var created int64
		if err := rows.Scan(&sub.ID, &sub.MatchID, &sub.AgentID, &sub.Round, &sub.Content, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = fromMillis(created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Lite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0),
               MAX(updated_at)
          FROM matches
    `).Scan(&st.TotalBattles, &st.CompletedBattles, &last)
	if err != nil {
		return Stats{}, err
	}
	if last.Valid {
		t := fromMillis(last.Int64)
		st.LastUpdated = &t
	}
	return st, nil
}

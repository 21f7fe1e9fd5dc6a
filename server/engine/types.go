package engine

import (
	"roast-arena/server/agent"
	"roast-arena/server/store"
)

const (
	TotalRounds = 4

	ModeRoast = "roast"
	ModeRap   = "rap"

	PhaseOpening  = "opening"
	PhaseRebuttal = "rebuttal"
	PhaseFinale   = "finale"

	VoteHuman = "human"
)

// AgentView is the public projection of an agent. Keys and callback URLs never appear.
type AgentView struct {
	store.Agent
	HasCallback bool `json:"has_callback"`
	WinRate     int  `json:"win_rate"`
}

func viewOf(a store.Agent) AgentView {
	return AgentView{
		Agent:       a,
		HasCallback: a.CallbackURL != nil && *a.CallbackURL != "",
		WinRate:     WinRate(a.Wins, a.Losses),
	}
}

type RegisterInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Style       string `json:"style"`
	CallbackURL string `json:"callback_url"`
}

// Registration carries the plaintext key. It is only ever returned once.
type Registration struct {
	Agent  AgentView `json:"agent"`
	APIKey string    `json:"api_key"`
}

type CreateMatchInput struct {
	AgentA string `json:"agent_a_id"`
	AgentB string `json:"agent_b_id"`
	APIKey string `json:"api_key"`
	Mode   string `json:"mode"`
	Topic  string `json:"topic"`
}

type CreatedMatch struct {
	Match  store.Match      `json:"match"`
	Agents []agent.AgentRef `json:"agents"`
}

type TranscriptLine struct {
	Round     int    `json:"round"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MatchView is a match with both agents and its ordered transcript.
type MatchView struct {
	Match       store.Match      `json:"match"`
	AgentA      *AgentView       `json:"agent_a"`
	AgentB      *AgentView       `json:"agent_b"`
	Submissions []TranscriptLine `json:"submissions"`
	Winner      *agent.AgentRef  `json:"winner"`
}

type TurnResult struct {
	MatchID   string         `json:"match_id"`
	Round     int            `json:"round"`
	Agent     agent.AgentRef `json:"agent"`
	Content   string         `json:"roast"`
	Status    string         `json:"status"`
	NextTurn  *int           `json:"next_turn"`
	Persisted bool           `json:"persisted"`
	Warning   string         `json:"warning,omitempty"`
}

type AgentTally struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Elo    float64 `json:"elo"`
}

type VoteResult struct {
	MatchID  string     `json:"match_id"`
	Winner   AgentTally `json:"winner"`
	Loser    AgentTally `json:"loser"`
	VoteType string     `json:"vote_type"`
	Message  string     `json:"message"`
}

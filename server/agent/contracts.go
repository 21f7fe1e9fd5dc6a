package agent

import (
	"strings"

	"roast-arena/server/store"
)

// Instructions tells a webhook which response shape we accept.
const Instructions = `Respond with JSON: { "roast": "your roast text here" }`

// contentKeys are checked in order; the first non-empty string wins.
var contentKeys = []string{"roast", "content", "text"}

type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PriorSubmission struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
	Round     int    `json:"round"`
}

// TurnRequest is the JSON body POSTed to an agent's callback URL.
type TurnRequest struct {
	MatchID        string            `json:"match_id"`
	Round          int               `json:"round"`
	YourAgent      AgentRef          `json:"your_agent"`
	Opponent       AgentRef          `json:"opponent"`
	PreviousRoasts []PriorSubmission `json:"previous_roasts"`
	Instructions   string            `json:"instructions"`
	Mode           string            `json:"mode,omitempty"`
	Topic          string            `json:"topic,omitempty"`
	Phase          string            `json:"phase,omitempty"`

	// Local hints for the built-in generator; never sent over the wire.
	Style string `json:"-"`
	Blind bool   `json:"-"`
}

// BuildTurnRequest converts match state into the payload we send the acting agent.
// subs must already be ordered by round.
func BuildTurnRequest(m store.Match, acting, opponent store.Agent, subs []store.Submission) TurnRequest {
	names := map[string]string{acting.ID: acting.Name, opponent.ID: opponent.Name}

	prior := make([]PriorSubmission, 0, len(subs))
	for _, s := range subs {
		prior = append(prior, PriorSubmission{
			AgentID:   s.AgentID,
			AgentName: names[s.AgentID],
			Content:   s.Content,
			Round:     s.Round,
		})
	}

	req := TurnRequest{
		MatchID:        m.ID,
		Round:          m.CurrentTurn,
		YourAgent:      AgentRef{ID: acting.ID, Name: acting.Name},
		Opponent:       AgentRef{ID: opponent.ID, Name: opponent.Name},
		PreviousRoasts: prior,
		Instructions:   Instructions,
		Mode:           m.Mode,
	}
	if m.Topic != nil {
		req.Topic = *m.Topic
	}
	if acting.Style != nil {
		req.Style = *acting.Style
	}
	return req
}

// ExtractContent picks the roast text out of a decoded webhook response.
// Whitespace-only values count as missing.
func ExtractContent(body map[string]any) (string, bool) {
	for _, k := range contentKeys {
		if s, ok := body[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

package engine

import (
	"errors"
	"fmt"
)

var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrMatchAlreadyComplete = errors.New("match already complete")
	// ErrRoundsExhausted means every round was played and the match waits for a vote.
	ErrRoundsExhausted     = errors.New("all rounds played, match is waiting for a vote")
	ErrMatchNotActive      = errors.New("match is not active")
	ErrAgentsNotFound      = errors.New("agents not found")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrTurnConflict        = errors.New("turn already taken by a concurrent request")
	ErrMatchAlreadyDecided = errors.New("match already has a winner")
	ErrInvalidWinner       = errors.New("winner must be one of the match participants")
	ErrAgentNameTaken      = errors.New("an agent with this name already exists")
	ErrUnauthorized        = errors.New("invalid API key for challenger agent")
)

// ValidationError is returned for missing or malformed caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

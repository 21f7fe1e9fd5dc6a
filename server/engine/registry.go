package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/crypto/bcrypt"

	"roast-arena/server/store"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 500
	leaderboardSize   = 50
	apiKeyPrefix      = "agent_"
)

// Register creates an agent and returns its API key. Only a bcrypt hash of the
// key is stored, so this is the one time it can be read.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	name := strings.TrimSpace(in.Name)
	callback := strings.TrimSpace(in.CallbackURL)
	if name == "" || callback == "" {
		return Registration{}, invalid("Missing required fields: name and callback_url are required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return Registration{}, invalid("name must be at most %d characters", maxNameLen)
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen || utf8.RuneCountInString(in.Style) > maxDescriptionLen {
		return Registration{}, invalid("description and style must be at most %d characters", maxDescriptionLen)
	}
	if err := validCallback(callback); err != nil {
		return Registration{}, err
	}
	handle := slug.Make(name)
	if handle == "" {
		return Registration{}, invalid("name must contain at least one letter or digit")
	}

	key, err := newAPIKey()
	if err != nil {
		return Registration{}, fmt.Errorf("generate key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), e.hashCost)
	if err != nil {
		return Registration{}, fmt.Errorf("hash key: %w", err)
	}

	created, err := e.store.CreateAgent(ctx, store.NewAgent{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        handle,
		Description: optional(in.Description),
		Style:       optional(in.Style),
		CallbackURL: callback,
		KeyHash:     string(hash),
		CreatedAt:   e.now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return Registration{}, ErrAgentNameTaken
	}
	if err != nil {
		return Registration{}, fmt.Errorf("create agent: %w", err)
	}
	e.log.Info("agent registered", "agent_id", created.ID, "name", created.Name)
	return Registration{Agent: viewOf(created), APIKey: key}, nil
}

func (e *Engine) ListAgents(ctx context.Context) ([]AgentView, error) {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return views(agents), nil
}

// Leaderboard returns the top agents by wins.
func (e *Engine) Leaderboard(ctx context.Context) ([]AgentView, error) {
	agents, err := e.store.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		return nil, err
	}
	return views(agents), nil
}

// GetAgent looks an agent up by id, then by slug.
func (e *Engine) GetAgent(ctx context.Context, ref string) (AgentView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return AgentView{}, invalid("agent id is required")
	}
	a, err := e.store.GetAgent(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		a, err = e.store.GetAgentBySlug(ctx, strings.ToLower(ref))
	}
	if errors.Is(err, store.ErrNotFound) {
		return AgentView{}, ErrAgentNotFound
	}
	if err != nil {
		return AgentView{}, err
	}
	return viewOf(a), nil
}

// VerifyKey checks key against the stored hash for agentID.
func (e *Engine) VerifyKey(ctx context.Context, agentID, key string) error {
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return ErrUnauthorized
	}
	hash, err := e.store.AgentKeyHash(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return ErrUnauthorized
	}
	return nil
}

func newAPIKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b[:]), nil
}

func validCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("callback_url must be an absolute http or https URL")
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func views(agents []store.Agent) []AgentView {
	out := make([]AgentView, len(agents))
	for i, a := range agents {
		out[i] = viewOf(a)
	}
	return out
}

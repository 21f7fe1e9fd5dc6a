package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"roast-arena/server/agent"
	"roast-arena/server/store"
)

// Archiver stores a finished match transcript somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, matchID string, transcript any) error
}

// Engine runs registration, matches, turns and votes on top of a Store.
type Engine struct {
	store    store.Store
	webhook  *agent.Webhook
	fallback agent.Responder
	archiver Archiver
	elo      Elo
	log      *slog.Logger
	now      func() time.Time
	hashCost int

	archiveTimeout time.Duration
}

type Option func(*Engine)

func WithWebhook(w *agent.Webhook) Option   { return func(e *Engine) { e.webhook = w } }
func WithArchiver(a Archiver) Option        { return func(e *Engine) { e.archiver = a } }
func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.log = l } }
func WithElo(k float64) Option              { return func(e *Engine) { e.elo = NewElo(k) } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithHashCost sets the bcrypt cost for API keys. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option { return func(e *Engine) { e.hashCost = cost } }

// New wires an Engine. fallback must never return empty text; it is used
// whenever an agent has no callback or its callback fails.
func New(st store.Store, fallback agent.Responder, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		webhook:        agent.NewWebhook(agent.DefaultTimeout),
		fallback:       fallback,
		elo:            NewElo(DefaultEloK),
		log:            slog.Default(),
		now:            time.Now,
		hashCost:       bcrypt.DefaultCost,
		archiveTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	if e.fallback == nil {
		e.fallback = agent.ResponderFunc(func(context.Context, agent.TurnRequest) (string, error) {
			return placeholder, nil
		})
	}
	return e
}

func (e *Engine) Store() store.Store { return e.store }

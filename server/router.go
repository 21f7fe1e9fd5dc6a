package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roast-arena/server/agent"
	"roast-arena/server/engine"
	"roast-arena/server/ratelimit"
	"roast-arena/server/store"
)

const maxBody = 64 << 10

type api struct {
	eng     *engine.Engine
	gen     agent.Responder
	limiter *ratelimit.Limiter
	log     *slog.Logger
	poll    time.Duration
}

// Router builds the API. trustProxy lets X-Forwarded-For and friends replace
// the socket address; enable it only behind a proxy that overwrites them, since
// the rate limiter keys on that address.
func Router(eng *engine.Engine, gen agent.Responder, limiter *ratelimit.Limiter, log *slog.Logger, trustProxy bool) http.Handler {
	a := &api{eng: eng, gen: gen, limiter: limiter, log: log, poll: 500 * time.Millisecond}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"ok": true}
		if err := eng.Store().Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"ok": false}
		}
		writeJSONStatus(w, status, body)
	})

	r.Route("/api/agents", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Get("/list", a.listAgents)
		r.Get("/leaderboard", a.leaderboard)
		r.Get("/{ref}", a.getAgent)
	})
	r.Route("/api/matches", func(r chi.Router) {
		r.Post("/create", a.createMatch)
		r.Get("/{id}", a.getMatch)
		r.Post("/{id}/turn", a.advance)
		r.Post("/{id}/vote", a.vote)
		r.Get("/{id}/live", a.live)
	})
	r.Get("/api/stats", a.stats)

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			}))
		}
		r.Post("/api/roast", a.generate(engine.ModeRoast))
		r.Post("/api/rap", a.generate(engine.ModeRap))
	})
	return r
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var in engine.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	reg, err := a.eng.Register(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"success": true,
		"agent":   reg.Agent,
		"api_key": reg.APIKey,
		"message": "Save your API key! It won't be shown again.",
	})
}

func (a *api) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.eng.ListAgents(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"agents": agents})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	agents, err := a.eng.Leaderboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"leaderboard": agents})
}

func (a *api) getAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := a.eng.GetAgent(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"agent": ag})
}

func (a *api) createMatch(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateMatchInput
	if !decode(w, r, &in) {
		return
	}
	m, err := a.eng.CreateMatch(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"success": true,
		"match":   m.Match,
		"agents":  m.Agents,
		"message": "Battle created. POST /api/matches/" + m.Match.ID + "/turn to play each round.",
	})
}

func (a *api) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := a.eng.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (a *api) advance(w http.ResponseWriter, r *http.Request) {
	res, err := a.eng.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) vote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		WinnerID string `json:"winner_id"`
		VoteType string `json:"vote_type"`
	}
	if !decode(w, r, &in) {
		return
	}
	res, err := a.eng.RecordVote(r.Context(), chi.URLParam(r, "id"), in.WinnerID, in.VoteType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":   true,
		"match_id":  res.MatchID,
		"winner":    res.Winner,
		"loser":     res.Loser,
		"vote_type": res.VoteType,
		"message":   res.Message,
	})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.eng.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s)
}

// live tails a match transcript as Server-Sent Events. ?since=<round> skips
// rounds the client already has. The stream ends once the match is decided.
func (a *api) live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))

	if _, err := a.eng.Store().GetMatch(ctx, id); err != nil {
		a.fail(w, r, mapStoreNotFound(err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, v any) {
		b, _ := json.Marshal(v)
		_, _ = w.Write([]byte("event: " + event + "\ndata: "))
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n\n"))
	}

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		subs, err := a.eng.Transcript(ctx, id, since)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Warn("live transcript", "match_id", id, "err", err)
			}
			return
		}
		for _, s := range subs {
			send("submission", s)
			since = s.Round
		}
		m, err := a.eng.Store().GetMatch(ctx, id)
		if err == nil && m.Status == store.StatusComplete {
			send("complete", m)
			flusher.Flush()
			return
		}
		if len(subs) > 0 {
			flusher.Flush()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// generate serves the standalone generation endpoints. Round 3 of a rap is a
// blind finale: the caller's transcript is trimmed to earlier rounds.
func (a *api) generate(mode string) http.HandlerFunc {
	type bar struct {
		Agent string `json:"agent"`
		Text  string `json:"text"`
		Round int    `json:"round"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			AgentName      string `json:"agentName"`
			AgentStyle     string `json:"agentStyle"`
			OpponentName   string `json:"opponentName"`
			Topic          string `json:"topic"`
			Round          int    `json:"round"`
			Blind          bool   `json:"blind"`
			PreviousRoasts []bar  `json:"previousRoasts"`
			PreviousBars   []bar  `json:"previousBars"`
		}
		if !decode(w, r, &in) {
			return
		}
		if in.AgentName == "" || in.OpponentName == "" {
			writeError(w, http.StatusBadRequest, "agentName and opponentName are required")
			return
		}
		prior := in.PreviousRoasts
		if mode == engine.ModeRap {
			prior = in.PreviousBars
		}
		req := agent.TurnRequest{
			YourAgent: agent.AgentRef{Name: in.AgentName},
			Opponent:  agent.AgentRef{Name: in.OpponentName},
			Mode:      mode,
			Style:     in.AgentStyle,
			Topic:     in.Topic,
		}
		for i, p := range prior {
			round := p.Round
			if round == 0 {
				round = i + 1
			}
			req.PreviousRoasts = append(req.PreviousRoasts, agent.PriorSubmission{
				AgentName: p.Agent, Content: p.Text, Round: round,
			})
		}
		req.Round = in.Round
		if req.Round < 1 {
			req.Round = len(prior) + 1
		}
		req.Phase = engine.PhaseFor(req.Round)
		req.Blind = mode == engine.ModeRap && (in.Blind || req.Phase == engine.PhaseFinale)

		out, err := a.gen.Respond(r.Context(), req)
		if err != nil {
			a.log.Warn("generation failed", "mode", mode, "round", req.Round, "err", err)
		}
		key := "roast"
		if mode == engine.ModeRap {
			key = "bars"
		}
		writeJSON(w, map[string]any{key: out})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func mapStoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return engine.ErrMatchNotFound
	}
	return err
}

// fail maps engine errors to status codes. Unknown errors are logged and
// reported as a generic 500.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, engine.ErrInvalidWinner):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, engine.ErrMatchNotFound),
		errors.Is(err, engine.ErrAgentNotFound),
		errors.Is(err, engine.ErrAgentsNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrMatchAlreadyComplete),
		errors.Is(err, engine.ErrRoundsExhausted),
		errors.Is(err, engine.ErrMatchNotActive),
		errors.Is(err, engine.ErrTurnConflict),
		errors.Is(err, engine.ErrMatchAlreadyDecided),
		errors.Is(err, engine.ErrAgentNameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		a.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"dur", time.Since(start).Round(time.Millisecond),
				"request_id", middleware.GetReqID(r.Context()),
				"ip", r.RemoteAddr,
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

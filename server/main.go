package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"roast-arena/server/agent"
	"roast-arena/server/archive"
	"roast-arena/server/config"
	"roast-arena/server/engine"
	"roast-arena/server/llm"
	"roast-arena/server/ratelimit"
	"roast-arena/server/store"
)

var rootCmd = &cobra.Command{
	Use:           "roast-arena",
	Short:         "Roast Arena - AI agents trade roasts and rap bars, humans vote",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		st, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrated", "driver", cfg.DBDriver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	log := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore returns the configured store. pg is non-nil only for postgres,
// where it also backs the shared rate limiter.
func openStore(cfg config.Config) (store.Store, *store.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, db, nil
	default:
		lite, err := store.OpenLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return lite, nil, nil
	}
}

func newLimiter(cfg config.Config, pg *store.DB, log *slog.Logger) (*ratelimit.Limiter, ratelimit.Pruner, error) {
	if cfg.RateLimitShared && pg != nil {
		shared := ratelimit.Shared{Store: pg, Window: time.Hour}
		return ratelimit.New(shared, cfg.RateLimitPerHour, time.Hour, log), shared, nil
	}
	mem, err := ratelimit.NewMemory(cfg.RateLimitPerHour, time.Hour, cfg.RateLimitMaxKeys)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.New(mem, cfg.RateLimitPerHour, time.Hour, log), mem, nil
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, pg, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	completer, err := llm.New(cfg.LLMModel)
	if err != nil {
		log.Warn("no LLM configured, fallback turns will use placeholders", "err", err)
	}
	gen := engine.NewFallback(completer, engine.DefaultModes(), cfg.FallbackTimeout, log)

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithWebhook(agent.NewWebhook(cfg.CallbackTimeout)),
		engine.WithElo(cfg.EloK),
	}
	if cfg.Archive.Enabled() {
		arch, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			log.Warn("archive disabled", "err", err)
		} else {
			opts = append(opts, engine.WithArchiver(arch))
		}
	}
	eng := engine.New(st, gen, opts...)

	limiter, pruner, err := newLimiter(cfg, pg, log)
	if err != nil {
		return err
	}
	sched, err := ratelimit.StartPruner(pruner, 10*time.Minute, log)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = sched.Shutdown() }()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Router(eng, gen, limiter, log, cfg.TrustProxyHeaders),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: turns wait on webhooks and /live streams
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr, "driver", cfg.DBDriver)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

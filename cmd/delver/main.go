package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/fetch"
	"github.com/mohammad-safakhou/delver/internal/llm"
	"github.com/mohammad-safakhou/delver/internal/policy"
	"github.com/mohammad-safakhou/delver/internal/ratelimit"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/scheduler"
	"github.com/mohammad-safakhou/delver/internal/search"
	"github.com/mohammad-safakhou/delver/internal/server"
	"github.com/mohammad-safakhou/delver/internal/store"
	"github.com/mohammad-safakhou/delver/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "delver",
		Short: "Iterative web research over interchangeable search providers",
	}
	root.AddCommand(newAskCmd(), newServeCmd(), newMigrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires the research loop from config: provider chain, rate
// limiters, generation gateway, fetcher and crawl policy.
func buildEngine(ctx context.Context, cfg *config.Config, logWriter *log.Logger) (*research.Engine, error) {
	timeout := cfg.General.DefaultTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := search.NewHTTPClient(timeout, 2, 300*time.Millisecond)

	w := logWriter.Writer()
	orch := search.NewOrchestrator(ctx, cfg.Search, cfg.Rate.Search, client, log.New(w, "[SEARCH] ", log.LstdFlags))

	gw, err := llm.New(cfg.LLM, ratelimit.New(cfg.Rate.Generation))
	if err != nil {
		return nil, fmt.Errorf("llm gateway: %w", err)
	}

	pol, err := policy.New(cfg.Policy, nil, log.New(w, "[POLICY] ", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("crawl policy: %w", err)
	}

	fetcher := fetch.New(cfg.Fetch)
	searchLimiter := ratelimit.New(cfg.Rate.Search)

	return research.NewEngine(cfg.Research, gw, orch, fetcher, pol, searchLimiter, log.New(w, "[RESEARCH] ", log.LstdFlags)), nil
}

func newAskCmd() *cobra.Command {
	var cfgPath string
	var provider string
	var attempts int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if provider != "" {
				cfg.Search.DefaultProvider = provider
				cfg.Search = cfg.Search.Normalize()
			}
			if attempts > 0 {
				cfg.Research.MaxAttempts = attempts
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// Logs go to stderr so stdout carries only the answer.
			logger := log.New(os.Stderr, "[DELVER] ", log.LstdFlags)
			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}

			res, err := eng.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&provider, "provider", "", "search provider to try first")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override research.max_attempts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run result as JSON")
	return cmd
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and topic scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := log.New(os.Stdout, "[DELVER] ", log.LstdFlags)

			tel, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
				ServiceName:    "delver",
				ServiceVersion: "dev",
				MetricsPort:    cfg.Telemetry.MetricsPort,
			})
			if err != nil {
				return fmt.Errorf("telemetry init: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}

			st, err := store.Open(ctx, cfg.Storage, log.New(os.Stdout, "[STORE] ", log.LstdFlags))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			var rdb *redis.Client
			if cfg.Storage.Redis.Configured() {
				rdb = redis.NewClient(&redis.Options{
					Addr:     cfg.Storage.Redis.Addr(),
					Password: cfg.Storage.Redis.Password,
					DB:       cfg.Storage.Redis.DB,
				})
				if err := rdb.Ping(ctx).Err(); err != nil {
					logger.Printf("redis ping: %v, scheduler runs without the cross-instance lock", err)
					_ = rdb.Close()
					rdb = nil
				} else {
					defer func() { _ = rdb.Close() }()
				}
			}

			if cfg.Scheduler.Enabled {
				sched := scheduler.New(cfg.Scheduler, eng, st, rdb, log.New(os.Stdout, "[SCHED] ", log.LstdFlags))
				sched.Start()
				defer sched.Stop()
			}

			srv := server.New(cfg.Server, eng, st, tel, log.New(os.Stdout, "[HTTP] ", log.LstdFlags))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var cfgPath string
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Postgres.Configured() {
				return fmt.Errorf("storage.postgres is not configured")
			}
			return store.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source (file://migrations)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

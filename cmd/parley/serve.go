package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/ranking"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Parley server",
	Long: `Start the HTTP and WebSocket server. Debates are launched through
POST /api/debates and stream their events to connected clients.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides PARLEY_SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ServerAddr = addr
	}
	if err := os.MkdirAll(cfg.Workdir, 0o755); err != nil {
		return fmt.Errorf("failed to create workdir: %v", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	agents, err := loadAgents(cfg, breaker)
	if err != nil {
		return err
	}

	debaters := make(map[string]arena.Debater, len(agents))
	for name, ag := range agents {
		debaters[name] = ag
	}

	srv := server.NewServer(cfg, server.Deps{
		Agents:   debaters,
		Breaker:  breaker,
		Ledger:   ranking.NewLedger(stores.Ratings, cfg.EloKFactor, nil),
		Archive:  stores.Archive,
		Memory:   stores.Memory,
		Webhooks: stores.Webhooks,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		logging.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error("shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	return srv.Start()
}

// stores bundles the per-concern sqlite databases under the workdir.
type stores struct {
	Archive  *database.ArchiveStore
	Ratings  *database.RatingStore
	Memory   *database.MemoryStore
	Webhooks *database.WebhookStore
}

func openStores(cfg config.Config) (*stores, error) {
	archive, err := database.NewArchiveStore(filepath.Join(cfg.Workdir, "debates.db"), cfg.DBTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open debate archive: %v", err)
	}
	ratings, err := database.NewRatingStore(filepath.Join(cfg.Workdir, "ratings.db"), cfg.DBTimeout)
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("failed to open rating store: %v", err)
	}
	memory, err := database.NewMemoryStore(filepath.Join(cfg.Workdir, "memory.db"), cfg.DBTimeout)
	if err != nil {
		archive.Close()
		ratings.Close()
		return nil, fmt.Errorf("failed to open memory store: %v", err)
	}
	webhooks, err := database.NewWebhookStore(filepath.Join(cfg.Workdir, "webhook.db"), cfg.DBTimeout)
	if err != nil {
		archive.Close()
		ratings.Close()
		memory.Close()
		return nil, fmt.Errorf("failed to open webhook store: %v", err)
	}
	return &stores{Archive: archive, Ratings: ratings, Memory: memory, Webhooks: webhooks}, nil
}

func (s *stores) Close() {
	s.Archive.Close()
	s.Ratings.Close()
	s.Memory.Close()
	s.Webhooks.Close()
}

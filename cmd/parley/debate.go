package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/convergence"
	"github.com/parleyhq/parley/internal/ranking"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/types"
)

var debateCmd = &cobra.Command{
	Use:   "debate [task]",
	Short: "Run a single debate from the command line",
	Long: `Run a debate over the given task with the configured agents and print
the outcome. The full artifact is written under the workdir.`,
	Args: cobra.ExactArgs(1),
	RunE: runDebate,
}

var (
	debateAgents    []string
	debateRounds    int
	debateConsensus string
	debateDomain    string
)

func init() {
	rootCmd.AddCommand(debateCmd)
	debateCmd.Flags().StringSliceVar(&debateAgents, "agents", nil, "agent names to include (default: all configured)")
	debateCmd.Flags().IntVar(&debateRounds, "rounds", 0, "maximum debate rounds")
	debateCmd.Flags().StringVar(&debateConsensus, "consensus", "", "consensus rule: majority, unanimous, judge or super-majority")
	debateCmd.Flags().StringVar(&debateDomain, "domain", "", "memory domain for recall and write-back")
}

func runDebate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
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

	roster, err := pickAgents(agents, debateAgents)
	if err != nil {
		return err
	}

	protocol := arena.DefaultProtocol()
	if debateRounds > 0 {
		protocol.Rounds = debateRounds
	}
	if debateConsensus != "" {
		rule, err := types.ParseConsensusRule(debateConsensus)
		if err != nil {
			return err
		}
		protocol.Consensus = rule
	}

	var similarity convergence.SimilarityBackend
	if cfg.OpenAIKey != "" {
		if emb, err := convergence.NewEmbedding(cfg.OpenAIKey, cfg.CacheMaxEntries); err == nil {
			similarity = emb
		}
	}

	ar, err := arena.New(arena.Config{
		Task:     args[0],
		Agents:   roster,
		Protocol: protocol,
		Domain:   debateDomain,
		Workdir:  cfg.Workdir,
	}, arena.Deps{
		Breaker:    breaker,
		Similarity: similarity,
		Ledger:     ranking.NewLedger(stores.Ratings, cfg.EloKFactor, nil),
		Archive:    stores.Archive,
		Memory:     stores.Memory,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := ar.Run(ctx)
	if err != nil {
		return fmt.Errorf("debate failed: %v", err)
	}

	fmt.Printf("outcome:    %s\n", result.Outcome)
	if result.Winner != "" {
		fmt.Printf("winner:     %s (confidence %.2f)\n", result.Winner, result.Confidence)
	}
	fmt.Printf("rounds:     %d\n", result.RoundsUsed)
	if result.FinalAnswer != "" {
		fmt.Printf("\n%s\n", result.FinalAnswer)
	}
	return nil
}

func pickAgents(agents map[string]*agent.Agent, names []string) ([]arena.Debater, error) {
	if len(names) == 0 {
		all := make([]string, 0, len(agents))
		for name := range agents {
			all = append(all, name)
		}
		sort.Strings(all)
		names = all
	}
	roster := make([]arena.Debater, 0, len(names))
	for _, name := range names {
		ag, ok := agents[name]
		if !ok {
			return nil, fmt.Errorf("unknown agent %q", name)
		}
		roster = append(roster, ag)
	}
	if len(roster) < 2 {
		return nil, fmt.Errorf("a debate needs at least 2 agents, got %d", len(roster))
	}
	return roster, nil
}

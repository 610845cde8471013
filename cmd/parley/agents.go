package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/types"
)

// agentSpec is one entry of the agents file (<workdir>/agents.json or
// PARLEY_AGENTS_FILE).
type agentSpec struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Backend      string   `json:"backend"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	BaseURL      string   `json:"base_url"`
	Endpoint     string   `json:"endpoint"`
	Command      []string `json:"command"`
	MaxTokens    int      `json:"max_tokens"`
}

// loadAgents builds the agent roster. Without an agents file it falls back
// to a proposer pair on whichever API keys the environment provides.
func loadAgents(cfg config.Config, breaker *resilience.Breaker) (map[string]*agent.Agent, error) {
	path := config.EnvStr("PARLEY_AGENTS_FILE", filepath.Join(cfg.Workdir, "agents.json"))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultAgents(cfg, breaker)
		}
		return nil, fmt.Errorf("failed to read agents file: %v", err)
	}

	var specs []agentSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %v", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("agents file %s defines no agents", path)
	}

	agents := make(map[string]*agent.Agent, len(specs))
	for _, spec := range specs {
		role, err := types.ParseRole(spec.Role)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %v", spec.Name, err)
		}
		backend, err := types.ParseBackendKind(spec.Backend)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %v", spec.Name, err)
		}
		ag, err := agent.New(agent.Config{
			Name:         spec.Name,
			Role:         role,
			Model:        spec.Model,
			Backend:      backend,
			SystemPrompt: spec.SystemPrompt,
			APIKey:       keyFor(backend, cfg),
			BaseURL:      spec.BaseURL,
			Command:      spec.Command,
			Endpoint:     spec.Endpoint,
			MaxTokens:    spec.MaxTokens,
			Timeout:      timeoutFor(backend, cfg),
		}, breaker, nil)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %v", spec.Name, err)
		}
		agents[spec.Name] = ag
	}
	return agents, nil
}

func keyFor(backend types.BackendKind, cfg config.Config) string {
	switch backend {
	case types.BackendAnthropic:
		return cfg.AnthropicKey
	case types.BackendOpenAI:
		return cfg.OpenAIKey
	default:
		return ""
	}
}

func timeoutFor(backend types.BackendKind, cfg config.Config) time.Duration {
	if backend == types.BackendCLI {
		return cfg.CLICallTimeout
	}
	return cfg.APICallTimeout
}

func defaultAgents(cfg config.Config, breaker *resilience.Breaker) (map[string]*agent.Agent, error) {
	var specs []agent.Config
	if cfg.OpenAIKey != "" {
		specs = append(specs, agent.Config{
			Name:    "gpt",
			Role:    types.RoleProposer,
			Model:   "gpt-4o-mini",
			Backend: types.BackendOpenAI,
			APIKey:  cfg.OpenAIKey,
			Timeout: cfg.APICallTimeout,
		})
	}
	if cfg.AnthropicKey != "" {
		specs = append(specs, agent.Config{
			Name:    "claude",
			Role:    types.RoleProposer,
			Model:   "claude-3-5-sonnet-latest",
			Backend: types.BackendAnthropic,
			APIKey:  cfg.AnthropicKey,
			Timeout: cfg.APICallTimeout,
		})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no agents file and no API keys in the environment; set OPENAI_API_KEY or ANTHROPIC_API_KEY, or create %s", filepath.Join(cfg.Workdir, "agents.json"))
	}

	agents := make(map[string]*agent.Agent, len(specs))
	for _, spec := range specs {
		ag, err := agent.New(spec, breaker, nil)
		if err != nil {
			return nil, err
		}
		agents[spec.Name] = ag
	}
	return agents, nil
}

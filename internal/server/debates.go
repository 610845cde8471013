package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/convergence"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/types"
)

// debateManager owns the debates currently running in this process.
type debateManager struct {
	srv     *Server
	mu      sync.Mutex
	running map[string]*runningDebate
}

type runningDebate struct {
	arena     *arena.Arena
	cancel    context.CancelFunc
	task      string
	startedAt time.Time
}

func newDebateManager(srv *Server) *debateManager {
	return &debateManager{srv: srv, running: make(map[string]*runningDebate)}
}

// startDebateRequest is the POST /api/debates body.
type startDebateRequest struct {
	Task      string   `json:"task" binding:"required"`
	Agents    []string `json:"agents" binding:"required,min=2"`
	Rounds    int      `json:"rounds"`
	Consensus string   `json:"consensus"`
	Domain    string   `json:"domain"`
	Stream    bool     `json:"stream"`
}

// Start launches a debate in the background and returns its id and slug.
func (m *debateManager) Start(req startDebateRequest) (id, slug string, err error) {
	debaters := make([]arena.Debater, 0, len(req.Agents))
	for _, name := range req.Agents {
		if !validAgentName(name) {
			return "", "", fmt.Errorf("invalid agent name: %s", name)
		}
		ag, ok := m.srv.agents[name]
		if !ok {
			return "", "", fmt.Errorf("unknown agent: %s", name)
		}
		debaters = append(debaters, ag)
	}

	protocol := arena.DefaultProtocol()
	if req.Rounds > 0 {
		protocol.Rounds = req.Rounds
	}
	if req.Consensus != "" {
		rule, err := types.ParseConsensusRule(req.Consensus)
		if err != nil {
			return "", "", err
		}
		protocol.Consensus = rule
	}

	var similarity convergence.SimilarityBackend
	if m.srv.config.OpenAIKey != "" {
		if emb, err := convergence.NewEmbedding(m.srv.config.OpenAIKey, m.srv.config.CacheMaxEntries); err == nil {
			similarity = emb
		}
	}

	ar, err := arena.New(arena.Config{
		Task:     req.Task,
		Agents:   debaters,
		Protocol: protocol,
		Domain:   req.Domain,
		Workdir:  m.srv.config.Workdir,
		Stream:   req.Stream,
	}, arena.Deps{
		Registry:   m.srv.registry,
		Breaker:    m.srv.breaker,
		Inbox:      m.srv.inbox,
		Similarity: similarity,
		Ledger:     m.srv.ledger,
		Archive:    m.srv.archive,
		Memory:     m.srv.memory,
	})
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rd := &runningDebate{arena: ar, cancel: cancel, task: req.Task, startedAt: time.Now()}

	m.mu.Lock()
	m.running[ar.ID()] = rd
	m.mu.Unlock()

	emitter := ar.Emitter()
	emitter.Start(m.srv.hub.Sink())

	go func() {
		defer func() {
			emitter.Stop()
			cancel()
			m.mu.Lock()
			delete(m.running, ar.ID())
			m.mu.Unlock()
		}()
		if _, err := ar.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("debate failed", map[string]interface{}{
				"debate_id": ar.ID(),
				"error":     err.Error(),
			})
		}
	}()

	return ar.ID(), ar.Slug(), nil
}

// Cancel stops a running debate. It reports whether the id was running.
func (m *debateManager) Cancel(id string) bool {
	m.mu.Lock()
	rd, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	rd.cancel()
	return true
}

// CancelAll stops every running debate, used at shutdown.
func (m *debateManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rd := range m.running {
		rd.cancel()
	}
}

// Active summarizes the debates currently running.
func (m *debateManager) Active() []events.LoopInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.LoopInfo, 0, len(m.running))
	for id, rd := range m.running {
		out = append(out, events.LoopInfo{
			ID:        id,
			Task:      rd.task,
			StartedAt: rd.startedAt,
		})
	}
	return out
}

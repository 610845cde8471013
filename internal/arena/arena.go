package arena

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/audience"
	"github.com/parleyhq/parley/internal/convergence"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/ranking"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/sanitize"
	"github.com/parleyhq/parley/internal/types"
)

// Debater is what the arena needs from an agent. *agent.Agent satisfies it;
// tests substitute scripted fakes.
type Debater interface {
	Name() string
	Role() types.Role
	Model() string
	Generate(ctx context.Context, prompt string, history []string) (string, error)
	GenerateStream(ctx context.Context, prompt string, history []string, onToken func(string)) (string, error)
	Critique(ctx context.Context, targetAgent, targetContent, task string, history []string) (agent.Critique, error)
	Vote(ctx context.Context, proposals map[string]string, task string) (agent.Vote, error)
}

// Config describes one debate.
type Config struct {
	Task     string
	Agents   []Debater
	Protocol Protocol
	Domain   string
	Workdir  string
	Stream   bool
}

// Deps carries the arena's collaborators. Ledger, Archive and Memory are
// optional; a nil Similarity backend falls back to token overlap.
type Deps struct {
	Emitter    *events.Emitter
	Registry   *events.Registry
	Breaker    *resilience.Breaker
	Inbox      *audience.Inbox
	Similarity convergence.SimilarityBackend
	Ledger     *ranking.Ledger
	Archive    *database.ArchiveStore
	Memory     *database.MemoryStore
}

// Arena drives one debate through its phases. A single goroutine owns the
// state machine; agent calls within a phase fan out in parallel.
type Arena struct {
	id       string
	slug     string
	cfg      Config
	emitter  *events.Emitter
	registry *events.Registry
	breaker  *resilience.Breaker
	inbox    *audience.Inbox
	backend  convergence.SimilarityBackend
	tracker  *convergence.Tracker
	ledger   *ranking.Ledger
	archive  *database.ArchiveStore
	memory   *database.MemoryStore

	mu          sync.Mutex
	phase       Phase
	messages    []Message
	critiques   []agent.Critique
	votes       []RoundVotes
	proposals   map[string]string
	lastChoice  map[string]string
	flips       []Flip
	extras      []string
	lastSummary *audience.Summary
	failed      bool
}

// New builds an arena for one debate.
func New(cfg Config, deps Deps) (*Arena, error) {
	if cfg.Task == "" {
		return nil, fmt.Errorf("task is required")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	cfg.Protocol.normalize()

	id := uuid.NewString()
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter(id)
	}
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig())
	}
	if deps.Similarity == nil {
		deps.Similarity = convergence.NewTokenOverlap()
	}
	threshold := cfg.Protocol.ConvergenceThreshold
	if threshold <= 0 {
		threshold = convergence.DefaultConvergenceThreshold
	}

	return &Arena{
		id:         id,
		slug:       Slugify(cfg.Task, id),
		cfg:        cfg,
		emitter:    deps.Emitter,
		registry:   deps.Registry,
		breaker:    deps.Breaker,
		inbox:      deps.Inbox,
		backend:    deps.Similarity,
		tracker:    convergence.NewTracker(deps.Similarity, threshold),
		ledger:     deps.Ledger,
		archive:    deps.Archive,
		memory:     deps.Memory,
		phase:      PhaseIdle,
		proposals:  make(map[string]string),
		lastChoice: make(map[string]string),
	}, nil
}

// ID returns the debate's unique id, which doubles as its loop id.
func (a *Arena) ID() string { return a.id }

// Slug returns the debate's URL-safe slug.
func (a *Arena) Slug() string { return a.slug }

// Emitter exposes the event stream for this debate.
func (a *Arena) Emitter() *events.Emitter { return a.emitter }

func (a *Arena) agentNames() []string {
	names := make([]string, len(a.cfg.Agents))
	for i, ag := range a.cfg.Agents {
		names[i] = ag.Name()
	}
	return names
}

func (a *Arena) emit(kind events.Kind, round int, agentName string, data map[string]interface{}) {
	a.emitter.Emit(events.Event{
		Kind:   kind,
		Data:   data,
		Round:  round,
		Agent:  agentName,
		LoopID: a.id,
	})
}

func (a *Arena) setPhase(p Phase, round int) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
	a.emit(events.KindPhaseStart, round, "", map[string]interface{}{"phase": string(p)})
}

// Phase returns the arena's current state-machine position.
func (a *Arena) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Arena) fanout() int {
	n := len(a.cfg.Agents)
	if a.cfg.Protocol.MaxConcurrency < n {
		n = a.cfg.Protocol.MaxConcurrency
	}
	if n > MaxFanout {
		n = MaxFanout
	}
	if n < 1 {
		n = 1
	}
	return n
}

// proposers returns the agents expected to produce proposals. The judge
// never proposes; ProposerCount, when set, limits the list.
func (a *Arena) proposers() []Debater {
	var out []Debater
	for _, ag := range a.cfg.Agents {
		if ag.Role() == types.RoleJudge {
			continue
		}
		out = append(out, ag)
	}
	if a.cfg.Protocol.ProposerCount > 0 && a.cfg.Protocol.ProposerCount < len(out) {
		out = out[:a.cfg.Protocol.ProposerCount]
	}
	return out
}

// available filters agents through the breaker, emitting a log_message for
// each skipped agent.
func (a *Arena) available(round int, candidates []Debater) []Debater {
	var out []Debater
	for _, ag := range candidates {
		if a.breaker.CanProceed(ag.Name()) {
			out = append(out, ag)
			continue
		}
		logging.LogDebateEvent("agent_skipped", a.id, map[string]interface{}{
			"agent": ag.Name(),
			"round": round,
		})
		a.emit(events.KindLogMessage, round, ag.Name(), map[string]interface{}{
			"level":   "warn",
			"message": fmt.Sprintf("agent %s skipped: circuit open", ag.Name()),
		})
	}
	return out
}

func (a *Arena) appendMessage(msg Message) {
	a.mu.Lock()
	a.messages = append(a.messages, msg)
	if msg.Role != types.RoleJudge {
		a.proposals[msg.Agent] = msg.Content
	}
	a.mu.Unlock()
}

func (a *Arena) renderHistory() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines := make([]string, 0, len(a.messages))
	for _, m := range a.messages {
		lines = append(lines, fmt.Sprintf("[round %d] %s (%s): %s", m.Round, m.Agent, m.Role, m.Content))
	}
	return lines
}

func (a *Arena) currentProposals() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.proposals))
	for k, v := range a.proposals {
		out[k] = v
	}
	return out
}

// Run executes the debate to termination and returns its artifact. A
// cancelled context ends the debate with outcome "cancelled" and returns
// the partial artifact alongside the context error.
func (a *Arena) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	if a.registry != nil {
		a.registry.Register(events.LoopInfo{
			ID:        a.id,
			Task:      a.cfg.Task,
			Agents:    a.agentNames(),
			StartedAt: started,
		})
		defer a.registry.Unregister(a.id)
	}
	logging.LogDebateEvent("debate_start", a.id, map[string]interface{}{
		"task":   a.cfg.Task,
		"agents": a.agentNames(),
		"rounds": a.cfg.Protocol.Rounds,
	})
	a.emit(events.KindDebateStart, 0, "", map[string]interface{}{
		"task":      a.cfg.Task,
		"agents":    a.agentNames(),
		"rounds":    a.cfg.Protocol.Rounds,
		"consensus": string(a.cfg.Protocol.Consensus),
	})

	a.recallMemories(ctx)

	outcome := OutcomeNoConsensus
	var winner string
	var strength float64
	var finalTally tally
	var lastVotes []agent.Vote
	roundsUsed := 0

	for round := 1; round <= a.cfg.Protocol.Rounds; round++ {
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}
		roundsUsed = round
		a.emit(events.KindRoundStart, round, "", map[string]interface{}{
			"total_rounds": a.cfg.Protocol.Rounds,
		})

		proposers := a.available(round, a.proposers())
		if len(proposers) == 0 {
			logging.LogDebateEvent("no_available_proposers", a.id, map[string]interface{}{"round": round})
			outcome = OutcomeFailed
			break
		}

		a.setPhase(PhasePropose, round)
		a.proposePhase(ctx, round, proposers)
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}
		if a.hasFailed() || len(a.currentProposals()) == 0 {
			outcome = OutcomeFailed
			break
		}

		a.setPhase(PhaseCritique, round)
		a.critiquePhase(ctx, round, proposers)

		if a.cfg.Protocol.Revision {
			a.setPhase(PhaseRevise, round)
			a.revisePhase(ctx, round, proposers)
		}
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}
		if a.hasFailed() {
			outcome = OutcomeFailed
			break
		}

		a.setPhase(PhaseVote, round)
		voters := a.available(round, a.cfg.Agents)
		votes := a.votePhase(ctx, round, voters)
		lastVotes = votes
		finalTally = tallyVotes(votes)
		if a.hasFailed() {
			outcome = OutcomeFailed
			break
		}

		a.emit(events.KindAudienceMetrics, round, "", map[string]interface{}{
			"pending": a.audiencePending(),
		})
		a.drainAudience(round)

		w, reached, s := decideWinner(finalTally, a.cfg.Protocol)
		winner, strength = w, s
		a.emit(events.KindConsensus, round, "", map[string]interface{}{
			"winner":   w,
			"reached":  reached,
			"strength": s,
			"votes":    finalTally.counts,
		})

		a.observeConvergence(ctx, round)

		if reached && a.cfg.Protocol.EarlyStopping {
			outcome = OutcomeConsensus
			break
		}
		if reached {
			outcome = OutcomeConsensus
		}
	}

	if outcome != OutcomeCancelled && outcome != OutcomeFailed && a.cfg.Protocol.Consensus == types.ConsensusJudge {
		a.setPhase(PhaseJudge, roundsUsed)
		if w, conf, ok := a.judgePhase(ctx, roundsUsed); ok {
			winner = w
			strength = conf
			outcome = OutcomeConsensus
		}
	}

	a.setPhase(PhaseTerminated, roundsUsed)
	result := a.buildResult(started, outcome, winner, strength, finalTally, roundsUsed)

	a.persist(result)
	a.recordMatch(result, finalTally, lastVotes)
	a.writeBackMemories(result)

	logging.LogDebateEvent("debate_end", a.id, map[string]interface{}{
		"outcome": outcome,
		"winner":  result.Winner,
		"rounds":  roundsUsed,
	})
	a.emit(events.KindDebateEnd, roundsUsed, "", map[string]interface{}{
		"outcome":    outcome,
		"winner":     result.Winner,
		"confidence": result.Confidence,
	})

	if outcome == OutcomeCancelled {
		return result, ctx.Err()
	}
	return result, nil
}

func (a *Arena) proposePhase(ctx context.Context, round int, proposers []Debater) {
	prompt := a.buildProposePrompt(round)
	history := a.renderHistory()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fanout())
	for _, ag := range proposers {
		ag := ag
		g.Go(func() error {
			content, err := a.generate(gctx, round, ag, prompt, history)
			if err != nil {
				a.reportFailure(round, ag.Name(), "propose", err)
				return nil
			}
			a.appendMessage(Message{
				Round:     round,
				Role:      ag.Role(),
				Agent:     ag.Name(),
				Content:   content,
				Timestamp: time.Now(),
			})
			a.emit(events.KindAgentMessage, round, ag.Name(), map[string]interface{}{
				"role":    string(ag.Role()),
				"content": content,
			})
			return nil
		})
	}
	g.Wait()
}

func (a *Arena) generate(ctx context.Context, round int, ag Debater, prompt string, history []string) (string, error) {
	if !a.cfg.Stream {
		return ag.Generate(ctx, prompt, history)
	}
	a.emit(events.KindTokenStart, round, ag.Name(), nil)
	content, err := ag.GenerateStream(ctx, prompt, history, func(token string) {
		a.emit(events.KindTokenDelta, round, ag.Name(), map[string]interface{}{"token": token})
	})
	a.emit(events.KindTokenEnd, round, ag.Name(), nil)
	return content, err
}

// critiquePhase has each proposer critique the next proposer's current
// proposal, round-robin, so every proposal gets exactly one review.
func (a *Arena) critiquePhase(ctx context.Context, round int, proposers []Debater) {
	if len(proposers) < 2 {
		return
	}
	proposals := a.currentProposals()
	history := a.renderHistory()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(a.fanout())
	for i, ag := range proposers {
		ag := ag
		target := proposers[(i+1)%len(proposers)]
		content, ok := proposals[target.Name()]
		if !ok {
			continue
		}
		g.Go(func() error {
			crit, err := ag.Critique(ctx, target.Name(), content, a.cfg.Task, history)
			if err != nil {
				a.reportFailure(round, ag.Name(), "critique", err)
				return nil
			}
			a.mu.Lock()
			a.critiques = append(a.critiques, crit)
			a.mu.Unlock()
			a.emit(events.KindCritique, round, ag.Name(), map[string]interface{}{
				"target":      crit.TargetAgent,
				"issues":      crit.Issues,
				"suggestions": crit.Suggestions,
				"severity":    crit.Severity,
			})
			return nil
		})
	}
	g.Wait()
}

func (a *Arena) revisePhase(ctx context.Context, round int, proposers []Debater) {
	received := a.critiquesByTarget()
	history := a.renderHistory()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fanout())
	for _, ag := range proposers {
		ag := ag
		crits := received[ag.Name()]
		if len(crits) == 0 {
			continue
		}
		prompt := buildRevisePrompt(a.cfg.Task, crits)
		g.Go(func() error {
			content, err := a.generate(gctx, round, ag, prompt, history)
			if err != nil {
				a.reportFailure(round, ag.Name(), "revise", err)
				return nil
			}
			a.appendMessage(Message{
				Round:     round,
				Role:      ag.Role(),
				Agent:     ag.Name(),
				Content:   content,
				Timestamp: time.Now(),
			})
			a.emit(events.KindAgentMessage, round, ag.Name(), map[string]interface{}{
				"role":     string(ag.Role()),
				"content":  content,
				"revision": true,
			})
			return nil
		})
	}
	g.Wait()
}

// critiquesByTarget collates received critiques by target agent.
func (a *Arena) critiquesByTarget() map[string][]agent.Critique {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]agent.Critique)
	for _, c := range a.critiques {
		out[c.TargetAgent] = append(out[c.TargetAgent], c)
	}
	return out
}

func (a *Arena) votePhase(ctx context.Context, round int, voters []Debater) []agent.Vote {
	proposals := a.currentProposals()

	var mu sync.Mutex
	var votes []agent.Vote

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(a.fanout())
	for _, ag := range voters {
		ag := ag
		if ag.Role() == types.RoleJudge {
			continue
		}
		g.Go(func() error {
			v, err := ag.Vote(ctx, proposals, a.cfg.Task)
			if err != nil {
				a.reportFailure(round, ag.Name(), "vote", err)
				return nil
			}
			mu.Lock()
			votes = append(votes, v)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(votes, func(i, j int) bool { return votes[i].Agent < votes[j].Agent })

	if a.cfg.Protocol.VoteGrouping {
		votes = groupVotes(ctx, a.backend, votes, a.cfg.Protocol.VoteGroupingThreshold)
	}
	a.detectFlips(round, votes)

	for _, v := range votes {
		a.emit(events.KindVote, round, v.Agent, map[string]interface{}{
			"choice":          v.Choice,
			"confidence":      v.Confidence,
			"reasoning":       v.Reasoning,
			"continue_debate": v.ContinueDebate,
		})
	}

	a.mu.Lock()
	a.votes = append(a.votes, RoundVotes{Round: round, Votes: votes})
	a.mu.Unlock()
	return votes
}

func (a *Arena) detectFlips(round int, votes []agent.Vote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, v := range votes {
		if v.Choice == agent.AbstainChoice {
			continue
		}
		prev, seen := a.lastChoice[v.Agent]
		a.lastChoice[v.Agent] = v.Choice
		if !seen || prev == v.Choice {
			continue
		}
		flip := Flip{Agent: v.Agent, Round: round, FromChoice: prev, ToChoice: v.Choice}
		a.flips = append(a.flips, flip)
		a.emit(events.KindFlipDetected, round, v.Agent, map[string]interface{}{
			"from": prev,
			"to":   v.Choice,
		})
	}
}

// judgePhase asks the judge (judge role, first synthesizer fallback) to
// pick a winner and synthesize the final answer.
func (a *Arena) judgePhase(ctx context.Context, round int) (winner string, confidence float64, ok bool) {
	var judge Debater
	for _, ag := range a.cfg.Agents {
		if ag.Role() == types.RoleJudge {
			judge = ag
			break
		}
	}
	if judge == nil {
		for _, ag := range a.cfg.Agents {
			if ag.Role() == types.RoleSynthesizer {
				judge = ag
				break
			}
		}
	}
	if judge == nil || !a.breaker.CanProceed(judge.Name()) {
		return "", 0, false
	}

	proposals := a.currentProposals()
	if len(proposals) == 0 {
		return "", 0, false
	}

	v, err := judge.Vote(ctx, proposals, a.cfg.Task)
	if err != nil {
		a.reportFailure(round, judge.Name(), "judge_vote", err)
		return "", 0, false
	}
	if v.Choice == agent.AbstainChoice {
		return "", 0, false
	}

	synthesis, err := judge.Generate(ctx, buildSynthesisPrompt(a.cfg.Task, v.Choice, proposals), a.renderHistory())
	if err != nil {
		a.reportFailure(round, judge.Name(), "judge_synthesis", err)
		synthesis = proposals[v.Choice]
	}
	a.appendMessage(Message{
		Round:     round,
		Role:      types.RoleJudge,
		Agent:     judge.Name(),
		Content:   synthesis,
		Timestamp: time.Now(),
	})
	a.emit(events.KindAgentMessage, round, judge.Name(), map[string]interface{}{
		"role":    string(types.RoleJudge),
		"content": synthesis,
		"verdict": v.Choice,
	})
	return v.Choice, v.Confidence, true
}

func (a *Arena) observeConvergence(ctx context.Context, round int) {
	proposals := a.currentProposals()
	texts := make([]string, 0, len(proposals))
	for _, p := range proposals {
		texts = append(texts, p)
	}
	status, score, err := a.tracker.Observe(ctx, texts)
	if err != nil {
		logging.Warn("convergence check failed", map[string]interface{}{
			"debate_id": a.id,
			"error":     err.Error(),
		})
		return
	}
	logging.LogDebateEvent("convergence", a.id, map[string]interface{}{
		"round":  round,
		"status": string(status),
		"score":  score,
	})
}

func (a *Arena) reportFailure(round int, agentName, op string, err error) {
	kind := resilience.KindOf(err)
	if kind == resilience.KindCircuitOpen {
		a.emit(events.KindLogMessage, round, agentName, map[string]interface{}{
			"level":   "warn",
			"message": fmt.Sprintf("agent %s skipped: circuit open", agentName),
		})
		return
	}
	if kind == resilience.KindFatal || kind == resilience.KindUnknown {
		a.markFailed()
	}
	logging.LogAgentEvent("phase_call_failed", agentName, a.id, map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
	a.emit(events.KindError, round, agentName, map[string]interface{}{
		"op":    op,
		"error": sanitize.ScrubSecrets(err.Error()),
	})
}

func (a *Arena) markFailed() {
	a.mu.Lock()
	a.failed = true
	a.mu.Unlock()
}

func (a *Arena) hasFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// audiencePending counts queued audience messages for this debate.
func (a *Arena) audiencePending() int {
	if a.inbox == nil {
		return 0
	}
	return a.inbox.Summary(a.id).Total
}

// drainAudience collects this round's audience input, publishes a summary,
// and folds a bounded number of suggestions into the next round's context.
func (a *Arena) drainAudience(round int) {
	if a.inbox == nil {
		return
	}
	summary := a.inbox.Summary(a.id)
	drained := a.inbox.DrainLoop(a.id)
	if summary.Total == 0 {
		return
	}

	a.emit(events.KindAudienceSummary, round, "", map[string]interface{}{
		"votes":          summary.Votes,
		"weighted_votes": summary.WeightedVotes,
		"suggestions":    summary.Suggestions,
		"total":          summary.Total,
	})
	a.emit(events.KindAudienceDrain, round, "", map[string]interface{}{
		"drained": len(drained),
	})

	var extras []string
	for _, msg := range drained {
		if msg.Kind != audience.KindSuggestion {
			continue
		}
		text := strings.TrimSpace(msg.SuggestionText())
		if text == "" {
			continue
		}
		if len(text) > MaxSuggestionChars {
			text = text[:MaxSuggestionChars]
		}
		extras = append(extras, text)
		if len(extras) == MaxSuggestionsPerRound {
			break
		}
	}

	a.mu.Lock()
	a.extras = extras
	a.lastSummary = &summary
	a.mu.Unlock()
}

package arena

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/audience"
	"github.com/parleyhq/parley/internal/types"
)

// Phase is the arena's position in the debate state machine.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhasePropose    Phase = "PROPOSE"
	PhaseCritique   Phase = "CRITIQUE"
	PhaseRevise     Phase = "REVISE"
	PhaseVote       Phase = "VOTE"
	PhaseJudge      Phase = "JUDGE"
	PhaseTerminated Phase = "TERMINATED"
)

// Debate outcomes recorded on the final debate_end event.
const (
	OutcomeConsensus   = "consensus"
	OutcomeNoConsensus = "no_consensus"
	OutcomeCancelled   = "cancelled"
	OutcomeFailed      = "failed"
)

// TieWinner is the computed winner label when top choices split evenly.
// Agents can never vote for it directly.
const TieWinner = "Tie"

const (
	DefaultRounds         = 3
	DefaultMaxConcurrency = 4

	// MaxFanout hard-caps parallel agent calls per phase regardless of
	// configuration.
	MaxFanout = 8

	// Suggestion budget folded into the next round's context.
	MaxSuggestionsPerRound = 3
	MaxSuggestionChars     = 500

	// MemoryRecallLimit bounds how many stored memories seed round one.
	MemoryRecallLimit = 3
)

// Protocol configures how a debate runs and terminates.
type Protocol struct {
	Rounds                int                 `json:"rounds"`
	Consensus             types.ConsensusRule `json:"consensus"`
	EarlyStopping         bool                `json:"early_stopping"`
	VoteGrouping          bool                `json:"vote_grouping"`
	VoteGroupingThreshold float64             `json:"vote_grouping_threshold"`
	// ProposerCount limits how many agents propose each round; 0 means
	// every non-judge agent proposes.
	ProposerCount        int     `json:"proposer_count"`
	RequireMajority      bool    `json:"require_majority"`
	MinMargin            float64 `json:"min_margin"`
	Revision             bool    `json:"revision"`
	MaxConcurrency       int     `json:"max_concurrency"`
	ConvergenceThreshold float64 `json:"convergence_threshold"`
}

// DefaultProtocol is a three-round majority debate with revision and
// similarity-based vote grouping.
func DefaultProtocol() Protocol {
	return Protocol{
		Rounds:                DefaultRounds,
		Consensus:             types.ConsensusMajority,
		EarlyStopping:         true,
		VoteGrouping:          true,
		VoteGroupingThreshold: 0.80,
		Revision:              true,
		MaxConcurrency:        DefaultMaxConcurrency,
	}
}

func (p *Protocol) normalize() {
	if p.Rounds <= 0 {
		p.Rounds = DefaultRounds
	}
	if p.Consensus == "" {
		p.Consensus = types.ConsensusMajority
	}
	if p.VoteGroupingThreshold <= 0 {
		p.VoteGroupingThreshold = 0.80
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = DefaultMaxConcurrency
	}
}

// Message is one utterance in the debate transcript. The transcript is
// append-only; rounds are contiguous from 1.
type Message struct {
	Round     int        `json:"round"`
	Role      types.Role `json:"role"`
	Agent     string     `json:"agent"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// RoundVotes holds one round's (possibly grouped) votes.
type RoundVotes struct {
	Round int          `json:"round"`
	Votes []agent.Vote `json:"votes"`
}

// Flip notes a voter switching its choice between rounds.
type Flip struct {
	Agent      string `json:"agent"`
	Round      int    `json:"round"`
	FromChoice string `json:"from_choice"`
	ToChoice   string `json:"to_choice"`
}

// Result is the immutable debate artifact, written once at termination.
type Result struct {
	ID                string            `json:"id"`
	Slug              string            `json:"slug"`
	Task              string            `json:"task"`
	Agents            []string          `json:"agents"`
	Messages          []Message         `json:"messages"`
	Critiques         []agent.Critique  `json:"critiques"`
	Votes             []RoundVotes      `json:"votes"`
	Winner            string            `json:"winner,omitempty"`
	FinalAnswer       string            `json:"final_answer"`
	Confidence        float64           `json:"confidence"`
	ConsensusReached  bool              `json:"consensus_reached"`
	RoundsUsed        int               `json:"rounds_used"`
	DurationSeconds   float64           `json:"duration_seconds"`
	ConvergenceStatus string            `json:"convergence_status"`
	ConsensusStrength float64           `json:"consensus_strength"`
	WinningPatterns   []string          `json:"winning_patterns,omitempty"`
	DissentingViews   []string          `json:"dissenting_views,omitempty"`
	Flips             []Flip            `json:"flips,omitempty"`
	Audience          *audience.Summary `json:"audience,omitempty"`
	Outcome           string            `json:"outcome"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           time.Time         `json:"ended_at"`
}

// Slugify derives a URL-safe slug from the task, suffixed with a short id
// so two debates over the same task stay distinct.
func Slugify(task, id string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(task) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 100 {
		slug = strings.Trim(slug[:100], "-")
	}
	if slug == "" {
		slug = "debate"
	}
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s", slug, suffix)
}

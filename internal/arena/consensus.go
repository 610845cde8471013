package arena

import (
	"context"
	"sort"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/convergence"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/types"
)

// groupVotes rewrites near-duplicate vote choices to a canonical key using
// the similarity backend. Abstentions pass through untouched. Grouping
// failures degrade to the raw choices rather than aborting the round.
func groupVotes(ctx context.Context, backend convergence.SimilarityBackend, votes []agent.Vote, threshold float64) []agent.Vote {
	var choices []string
	for _, v := range votes {
		if v.Choice != agent.AbstainChoice {
			choices = append(choices, v.Choice)
		}
	}
	if len(choices) < 2 {
		return votes
	}

	canonical, err := convergence.GroupChoices(ctx, backend, choices, threshold)
	if err != nil {
		logging.Warn("vote grouping failed, using raw choices", map[string]interface{}{
			"error": err.Error(),
		})
		return votes
	}

	grouped := make([]agent.Vote, len(votes))
	for i, v := range votes {
		if key, ok := canonical[v.Choice]; ok {
			v.Choice = key
		}
		grouped[i] = v
	}
	return grouped
}

// tally summarizes one round of votes.
type tally struct {
	counts     map[string]int
	confidence map[string][]float64
	nonAbstain int
}

func tallyVotes(votes []agent.Vote) tally {
	t := tally{
		counts:     make(map[string]int),
		confidence: make(map[string][]float64),
	}
	for _, v := range votes {
		if v.Choice == agent.AbstainChoice || v.Choice == "" {
			continue
		}
		t.counts[v.Choice]++
		t.confidence[v.Choice] = append(t.confidence[v.Choice], v.Confidence)
		t.nonAbstain++
	}
	return t
}

// top returns the leading choice, its count, and the runner-up count.
// Ties on the top count report tied=true.
func (t tally) top() (choice string, count, runnerUp int, tied bool) {
	type entry struct {
		choice string
		count  int
	}
	entries := make([]entry, 0, len(t.counts))
	for c, n := range t.counts {
		entries = append(entries, entry{c, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].choice < entries[j].choice
	})
	if len(entries) == 0 {
		return "", 0, 0, false
	}
	choice, count = entries[0].choice, entries[0].count
	if len(entries) > 1 {
		runnerUp = entries[1].count
		tied = runnerUp == count
	}
	return choice, count, runnerUp, tied
}

// meanConfidence averages the confidence of votes cast for the choice.
func (t tally) meanConfidence(choice string) float64 {
	vals := t.confidence[choice]
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// decideWinner applies the consensus rule and winner constraints to one
// round's tally. A tied top yields TieWinner with reached=false; an empty
// winner means no choice satisfied the constraints.
func decideWinner(t tally, p Protocol) (winner string, reached bool, strength float64) {
	choice, count, runnerUp, tied := t.top()
	if count == 0 {
		return "", false, 0
	}
	strength = float64(count) / float64(t.nonAbstain)

	if tied {
		return TieWinner, false, strength
	}

	switch p.Consensus {
	case types.ConsensusUnanimous:
		reached = count == t.nonAbstain
	case types.ConsensusSuperMajority:
		reached = strength >= 2.0/3.0
	case types.ConsensusJudge:
		// The judge settles the outcome at termination; rounds only
		// reach early consensus on unanimity.
		reached = count == t.nonAbstain
	default: // majority
		reached = strength > 0.5
	}

	if p.RequireMajority && strength <= 0.5 {
		return "", false, strength
	}
	if p.MinMargin > 0 && float64(count-runnerUp)/float64(t.nonAbstain) < p.MinMargin {
		return "", false, strength
	}
	return choice, reached, strength
}

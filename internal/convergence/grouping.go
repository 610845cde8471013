package convergence

import (
	"context"
)

// DefaultGroupingThreshold collapses vote strings whose similarity meets
// this bound. Sources disagree between 0.80 and 0.85; it stays configurable
// with 0.80 as the default.
const DefaultGroupingThreshold = 0.80

// GroupChoices canonicalizes semantically equivalent choice strings. The
// canonical key of a group is the first choice seen in input order; every
// input maps to exactly one canonical key. Identical strings always share a
// group regardless of backend behaviour.
func GroupChoices(ctx context.Context, backend SimilarityBackend, choices []string, threshold float64) (map[string]string, error) {
	if threshold <= 0 {
		threshold = DefaultGroupingThreshold
	}

	canonical := make(map[string]string, len(choices))

	// Distinct choices in first-seen order.
	var distinct []string
	seen := make(map[string]struct{})
	for _, c := range choices {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		distinct = append(distinct, c)
	}

	unassigned := make(map[string]struct{}, len(distinct))
	for _, c := range distinct {
		unassigned[c] = struct{}{}
	}

	for _, leader := range distinct {
		if _, open := unassigned[leader]; !open {
			continue
		}
		delete(unassigned, leader)
		canonical[leader] = leader

		for _, candidate := range distinct {
			if _, open := unassigned[candidate]; !open {
				continue
			}
			sim, err := backend.Similarity(ctx, leader, candidate)
			if err != nil {
				return nil, err
			}
			if sim >= threshold {
				canonical[candidate] = leader
				delete(unassigned, candidate)
			}
		}
	}
	return canonical, nil
}

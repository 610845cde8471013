package ranking

import (
	"math"
	"time"
)

const (
	// DefaultElo is the rating every agent starts from.
	DefaultElo = 1500.0

	// DefaultKFactor scales rating movement per match.
	DefaultKFactor = 32.0
)

// Rating is one agent's ledger entry.
type Rating struct {
	AgentName string  `json:"agent_name"`
	Elo       float64 `json:"elo"`
	Matches   int     `json:"matches"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Draws     int     `json:"draws"`
}

// MatchRecord is the durable outcome of one debate match.
type MatchRecord struct {
	ID           string             `json:"id"`
	DebateID     string             `json:"debate_id"`
	Winner       string             `json:"winner,omitempty"`
	Participants []string           `json:"participants"`
	Scores       map[string]float64 `json:"scores"`
	EloChanges   map[string]float64 `json:"elo_changes"`
	Timestamp    time.Time          `json:"timestamp"`
	Domain       string             `json:"domain,omitempty"`
}

// KDecayFn maps an agent's match count to its effective K-factor, so
// established ratings can move less per match than fresh ones.
type KDecayFn func(matches int) float64

// ExpectedScore is the classic Elo expectation of a beating b.
func ExpectedScore(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Pow(10, (ratingB-ratingA)/400))
}

// ComputeDeltas returns each participant's rating change for the given
// actual scores. Multi-participant matches decompose into pairwise
// comparisons, each weighted 1/(n-1) so a match moves a rating by at most
// K regardless of field size. Two participants reduce to the classic
// update.
func ComputeDeltas(ratings map[string]float64, scores map[string]float64, k float64) map[string]float64 {
	if k <= 0 {
		k = DefaultKFactor
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	deltas := make(map[string]float64, len(names))
	n := len(names)
	if n < 2 {
		return deltas
	}
	weight := k / float64(n-1)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := names[i], names[j]
			expected := ExpectedScore(ratings[a], ratings[b])
			actual := pairScore(scores[a], scores[b])
			deltas[a] += weight * (actual - expected)
			deltas[b] += weight * ((1 - actual) - (1 - expected))
		}
	}
	return deltas
}

func pairScore(a, b float64) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return 0
	default:
		return 0.5
	}
}

package convergence

import (
	"context"
	"strings"
	"unicode"
)

// SimilarityBackend scores how close two texts are, in [0,1]. The embedding
// backend is preferred when an API key is available; the token-overlap
// backend is the dependency-free fallback.
type SimilarityBackend interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
	Kind() string
}

// TokenOverlap is the Jaccard similarity of lower-cased word sets.
type TokenOverlap struct{}

// NewTokenOverlap creates the fallback backend.
func NewTokenOverlap() *TokenOverlap {
	return &TokenOverlap{}
}

func (t *TokenOverlap) Kind() string { return "token-overlap" }

func (t *TokenOverlap) Similarity(ctx context.Context, a, b string) (float64, error) {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1, nil
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union), nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[tok] = struct{}{}
	}
	return set
}

// AveragePairwise computes the mean similarity over all unordered pairs.
// Fewer than two texts score 1 (a lone proposal agrees with itself).
func AveragePairwise(ctx context.Context, backend SimilarityBackend, texts []string) (float64, error) {
	if len(texts) < 2 {
		return 1, nil
	}
	var sum float64
	var pairs int
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			sim, err := backend.Similarity(ctx, texts[i], texts[j])
			if err != nil {
				return 0, err
			}
			sum += sim
			pairs++
		}
	}
	return sum / float64(pairs), nil
}

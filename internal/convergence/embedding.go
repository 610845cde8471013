package convergence

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/parleyhq/parley/internal/logging"
)

// DefaultCacheMaxEntries bounds the embedding cache unless overridden.
const DefaultCacheMaxEntries = 1000

// Embedding is the cosine-similarity backend over embedding vectors. It
// caches vectors keyed by text so repeated proposals cost one API call.
type Embedding struct {
	llm      *openai.LLM
	fallback *TokenOverlap

	mu         sync.Mutex
	cache      map[string][]float32
	order      []string
	maxEntries int
}

// NewEmbedding creates the embedding backend. maxEntries <= 0 uses the
// default cache bound.
func NewEmbedding(apiKey string, maxEntries int) (*Embedding, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding backend requires an API key")
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel("text-embedding-3-small"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %v", err)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &Embedding{
		llm:        llm,
		fallback:   NewTokenOverlap(),
		cache:      make(map[string][]float32),
		maxEntries: maxEntries,
	}, nil
}

func (e *Embedding) Kind() string { return "embedding" }

// Similarity embeds both texts and returns their cosine similarity mapped
// into [0,1]. Embedding failures degrade to the token-overlap score so a
// provider outage never stalls a vote.
func (e *Embedding) Similarity(ctx context.Context, a, b string) (float64, error) {
	vecA, errA := e.embed(ctx, a)
	vecB, errB := e.embed(ctx, b)
	if errA != nil || errB != nil {
		err := errA
		if err == nil {
			err = errB
		}
		logging.Warn("embedding failed, falling back to token overlap", map[string]interface{}{
			"error": err.Error(),
		})
		return e.fallback.Similarity(ctx, a, b)
	}

	cos := cosine(vecA, vecB)
	// Cosine lands in [-1,1]; proposals are never antipodal in practice
	// but the mapping keeps the contract.
	return (cos + 1) / 2, nil
}

func (e *Embedding) embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	e.mu.Lock()
	if vec, ok := e.cache[text]; ok {
		e.mu.Unlock()
		return vec, nil
	}
	e.mu.Unlock()

	vectors, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding data received")
	}
	vec := vectors[0]

	e.mu.Lock()
	if _, ok := e.cache[text]; !ok {
		e.cache[text] = vec
		e.order = append(e.order, text)
		for len(e.order) > e.maxEntries {
			oldest := e.order[0]
			e.order = e.order[1:]
			delete(e.cache, oldest)
		}
	}
	e.mu.Unlock()
	return vec, nil
}

// CacheSize returns the number of cached vectors.
func (e *Embedding) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package audience

import (
	"sync"
	"time"
)

// MessageKind distinguishes audience votes from suggestions
type MessageKind string

const (
	KindVote       MessageKind = "vote"
	KindSuggestion MessageKind = "suggestion"
)

const (
	// DefaultIntensity is used when a vote carries no usable intensity.
	DefaultIntensity = 5

	// MinIntensity and MaxIntensity clamp the conviction scale.
	MinIntensity = 1
	MaxIntensity = 10
)

// Message is one audience submission, alive only until the debate loop
// drains it at a round boundary.
type Message struct {
	Kind      MessageKind            `json:"kind"`
	LoopID    string                 `json:"loop_id"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Choice extracts the vote choice, empty when absent.
func (m Message) Choice() string {
	if s, ok := m.Payload["choice"].(string); ok {
		return s
	}
	return ""
}

// Intensity extracts the clamped conviction intensity.
func (m Message) Intensity() int {
	return NormalizeIntensity(m.Payload["intensity"])
}

// SuggestionText extracts a suggestion's text, empty when absent.
func (m Message) SuggestionText() string {
	if s, ok := m.Payload["text"].(string); ok {
		return s
	}
	return ""
}

// NormalizeIntensity coerces an arbitrary payload value into [1..10],
// defaulting to 5 when missing or unusable.
func NormalizeIntensity(v interface{}) int {
	intensity := DefaultIntensity
	switch n := v.(type) {
	case int:
		intensity = n
	case int64:
		intensity = int(n)
	case float64:
		intensity = int(n)
	case float32:
		intensity = int(n)
	}
	if intensity < MinIntensity {
		intensity = MinIntensity
	}
	if intensity > MaxIntensity {
		intensity = MaxIntensity
	}
	return intensity
}

// ConvictionMultiplier maps intensity linearly onto [0.5, ~2.0]:
// 1 -> 0.5, 10 -> 2.0003. The step constant is slightly above 1.5/9 so a
// single max-conviction vote outweighs three minimum-step votes.
func ConvictionMultiplier(intensity int) float64 {
	if intensity < MinIntensity {
		intensity = MinIntensity
	}
	if intensity > MaxIntensity {
		intensity = MaxIntensity
	}
	return 0.5 + float64(intensity-1)*0.1667
}

// Summary aggregates the inbox for one loop.
type Summary struct {
	Votes                  map[string]int         `json:"votes"`
	WeightedVotes          map[string]float64     `json:"weighted_votes"`
	Suggestions            int                    `json:"suggestions"`
	Total                  int                    `json:"total"`
	Histograms             map[string]map[int]int `json:"histograms"`
	ConvictionDistribution map[int]int            `json:"conviction_distribution"`
}

// Inbox is the thread-safe queue of audience messages.
type Inbox struct {
	mu       sync.Mutex
	messages []Message
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Put appends a message, stamping its timestamp when missing.
func (in *Inbox) Put(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, msg)
}

// GetAll drains and clears the whole inbox.
func (in *Inbox) GetAll() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.messages
	in.messages = nil
	return out
}

// DrainLoop removes and returns only the messages addressed to loopID,
// preserving order. Other loops' messages stay queued.
func (in *Inbox) DrainLoop(loopID string) []Message {
	in.mu.Lock()
	defer in.mu.Unlock()

	var drained []Message
	kept := in.messages[:0]
	for _, msg := range in.messages {
		if msg.LoopID == loopID {
			drained = append(drained, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	in.messages = kept
	return drained
}

// Count returns the number of queued messages.
func (in *Inbox) Count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.messages)
}

// Summary tallies queued messages without draining them. When loopID is
// non-empty only that loop's messages count.
func (in *Inbox) Summary(loopID string) Summary {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := Summary{
		Votes:                  make(map[string]int),
		WeightedVotes:          make(map[string]float64),
		Histograms:             make(map[string]map[int]int),
		ConvictionDistribution: make(map[int]int),
	}

	for _, msg := range in.messages {
		if loopID != "" && msg.LoopID != loopID {
			continue
		}
		s.Total++

		switch msg.Kind {
		case KindSuggestion:
			s.Suggestions++
		case KindVote:
			choice := msg.Choice()
			if choice == "" {
				continue
			}
			intensity := msg.Intensity()

			s.Votes[choice]++
			s.WeightedVotes[choice] += ConvictionMultiplier(intensity)

			hist, ok := s.Histograms[choice]
			if !ok {
				hist = make(map[int]int)
				s.Histograms[choice] = hist
			}
			hist[intensity]++
			s.ConvictionDistribution[intensity]++
		}
	}
	return s
}

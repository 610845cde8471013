package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// AbstainChoice is the normalized choice of an abstaining vote. "tie" is
// never a choice; it is a computed outcome.
const AbstainChoice = "none"

// Vote is one agent's pick among the round's proposals.
type Vote struct {
	Agent          string  `json:"agent"`
	Choice         string  `json:"choice"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
	ContinueDebate bool    `json:"continue_debate"`
}

func buildVotePrompt(proposals map[string]string, task string) string {
	names := make([]string, 0, len(proposals))
	for name := range proposals {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task under debate: %s\n\nProposals:\n\n", task)
	for _, name := range names {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", name, proposals[name])
	}
	fmt.Fprintf(&sb, `Vote for the strongest proposal. Respond with ONLY a JSON object, no prose around it:
{"choice": "<one of: %s, or "none" to abstain>", "reasoning": "<why>", "confidence": <0.0-1.0>, "continue_debate": <true|false>}`,
		strings.Join(names, ", "))
	return sb.String()
}

type voteWire struct {
	Choice         string  `json:"choice"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
	ContinueDebate bool    `json:"continue_debate"`
}

// ParseVote extracts a vote from raw agent text. Strict JSON first, then
// json-repair, then a plain-text scan for the first candidate mentioned.
// Unknown choices degrade to abstention; confidence is clamped to [0,1].
func ParseVote(agentName, raw string, candidates []string) Vote {
	vote := Vote{Agent: agentName, Choice: AbstainChoice, Confidence: 0.5}

	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(text)

	var wire voteWire
	parsed := false
	if err := json.Unmarshal([]byte(text), &wire); err == nil {
		parsed = true
	} else if repaired, repairErr := jsonrepair.RepairJSON(text); repairErr == nil {
		if err := json.Unmarshal([]byte(repaired), &wire); err == nil {
			parsed = true
		}
	}

	if parsed && wire.Choice != "" {
		vote.Reasoning = wire.Reasoning
		vote.Confidence = clamp01(wire.Confidence)
		vote.ContinueDebate = wire.ContinueDebate
		vote.Choice = normalizeChoice(wire.Choice, candidates)
		return vote
	}

	// Degraded path: scan the raw text for the first candidate mentioned.
	lower := strings.ToLower(raw)
	bestIdx := -1
	for _, name := range candidates {
		idx := strings.Index(lower, strings.ToLower(name))
		if idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			bestIdx = idx
			vote.Choice = name
		}
	}
	vote.Reasoning = truncate(strings.TrimSpace(raw), MaxReasoningChars)
	return vote
}

func normalizeChoice(choice string, candidates []string) string {
	trimmed := strings.TrimSpace(choice)
	if strings.EqualFold(trimmed, AbstainChoice) {
		return AbstainChoice
	}
	for _, name := range candidates {
		if strings.EqualFold(trimmed, name) {
			return name
		}
	}
	return AbstainChoice
}

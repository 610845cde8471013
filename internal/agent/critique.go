package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxCritiqueItems caps issues and suggestions per critique.
	MaxCritiqueItems = 5

	// MaxReasoningChars caps the critique reasoning text.
	MaxReasoningChars = 500

	// MaxTargetContentChars caps the quoted target excerpt.
	MaxTargetContentChars = 200
)

// Critique is structured feedback on another agent's proposal.
type Critique struct {
	Agent         string   `json:"agent"`
	TargetAgent   string   `json:"target_agent"`
	TargetContent string   `json:"target_content"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
	Severity      float64  `json:"severity"`
	Reasoning     string   `json:"reasoning"`
}

func buildCritiquePrompt(targetAgent, targetContent, task string) string {
	return fmt.Sprintf(`Task under debate: %s

%s proposed:
%s

Critique this proposal. Structure your response with:
- Issues: bullet points naming concrete problems or concerns
- Suggestions: bullet points recommending specific improvements
- Severity: a number from 0 (trivial) to 1 (fundamental flaw)
- A short closing paragraph of reasoning`, task, targetAgent, targetContent)
}

var (
	issueHeading      = regexp.MustCompile(`(?i)\b(issue|problem|concern)`)
	suggestionHeading = regexp.MustCompile(`(?i)\b(suggest|recommend|improvement)`)
	severityLine      = regexp.MustCompile(`(?i)severity\D*([0-9]+(?:\.[0-9]+)?)`)
	bulletPrefix      = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
	sentenceEnd       = regexp.MustCompile(`[.!?]+\s+`)
)

// ParseCritique extracts a structured critique from raw agent text. The
// parser is heuristic and line-oriented; when no section markers are found
// the whole text becomes reasoning and its sentences are split half/half
// into issues and suggestions.
func ParseCritique(agentName, targetAgent, targetContent, raw string) Critique {
	c := Critique{
		Agent:         agentName,
		TargetAgent:   targetAgent,
		TargetContent: truncate(targetContent, MaxTargetContentChars),
		Severity:      0.5,
	}

	const (
		sectionNone = iota
		sectionIssues
		sectionSuggestions
	)
	section := sectionNone
	var reasoning []string

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := severityLine.FindStringSubmatch(trimmed); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				if v > 1 {
					v = v / 10 // treat as a 0-10 scale
				}
				c.Severity = clamp01(v)
			}
			continue
		}

		isBullet := bulletPrefix.MatchString(trimmed)
		if !isBullet {
			// A non-bullet line can switch the active section.
			switch {
			case issueHeading.MatchString(trimmed):
				section = sectionIssues
			case suggestionHeading.MatchString(trimmed):
				section = sectionSuggestions
			default:
				section = sectionNone
			}
			reasoning = append(reasoning, trimmed)
			continue
		}

		item := bulletPrefix.ReplaceAllString(trimmed, "")
		if item == "" {
			continue
		}
		switch section {
		case sectionIssues:
			if len(c.Issues) < MaxCritiqueItems {
				c.Issues = append(c.Issues, item)
			}
		case sectionSuggestions:
			if len(c.Suggestions) < MaxCritiqueItems {
				c.Suggestions = append(c.Suggestions, item)
			}
		default:
			// Bullets outside a recognized section lean toward issues.
			if len(c.Issues) < MaxCritiqueItems {
				c.Issues = append(c.Issues, item)
			}
		}
	}

	c.Reasoning = truncate(strings.Join(reasoning, " "), MaxReasoningChars)

	if len(c.Issues) == 0 && len(c.Suggestions) == 0 {
		c = fallbackCritique(c, raw)
	}
	return c
}

// fallbackCritique handles free-form responses: the whole text becomes
// reasoning and its sentences split half/half into issues and suggestions.
func fallbackCritique(c Critique, raw string) Critique {
	text := strings.TrimSpace(raw)
	c.Reasoning = truncate(text, MaxReasoningChars)

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return c
	}
	mid := (len(sentences) + 1) / 2
	for _, s := range sentences[:mid] {
		if len(c.Issues) < MaxCritiqueItems {
			c.Issues = append(c.Issues, s)
		}
	}
	for _, s := range sentences[mid:] {
		if len(c.Suggestions) < MaxCritiqueItems {
			c.Suggestions = append(c.Suggestions, s)
		}
	}
	return c
}

func splitSentences(text string) []string {
	parts := sentenceEnd.Split(text, -1)
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

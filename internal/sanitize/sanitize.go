package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// Placeholder replaces empty agent output so downstream phases never
	// see blank content.
	Placeholder = "[no response generated]"

	// MaxMessageChars bounds a single context message.
	MaxMessageChars = 20000

	// MaxContextChars bounds the total prompt context.
	MaxContextChars = 120000

	// RecentWindow is how many trailing messages are considered for context.
	RecentWindow = 10
)

// stripControl removes null bytes and control characters except TAB, LF, CR.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// CLIArg sanitizes a string destined for a subprocess argv slot.
func CLIArg(s string) string {
	return stripControl(s)
}

// Prompt sanitizes text sent to an agent backend.
func Prompt(s string) string {
	return stripControl(s)
}

// AgentOutput sanitizes text returned by an agent backend. Output that is
// empty after trimming becomes the placeholder.
func AgentOutput(s string) string {
	out := strings.TrimSpace(stripControl(s))
	if out == "" {
		return Placeholder
	}
	return out
}

// TruncateMessage caps a message at limit characters, keeping the head and
// tail halves around an explicit marker.
func TruncateMessage(s string, limit int) string {
	if limit <= 0 {
		limit = MaxMessageChars
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	half := limit/2 - 50
	if half < 1 {
		half = limit / 2
	}
	dropped := len(runes) - 2*half
	marker := fmt.Sprintf("\n[... %d chars truncated ...]\n", dropped)
	return string(runes[:half]) + marker + string(runes[len(runes)-half:])
}

// BudgetContext trims a message window to the total character budget,
// keeping the most recent messages whole and the head of the oldest one
// that still fits. Dropped older messages are replaced by a single marker.
func BudgetContext(messages []string, maxTotal int) []string {
	if maxTotal <= 0 {
		maxTotal = MaxContextChars
	}

	total := 0
	kept := make([]string, 0, len(messages))
	elided := 0

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		length := len([]rune(msg))
		if total+length <= maxTotal {
			kept = append(kept, msg)
			total += length
			continue
		}

		// Partial head of the oldest message that still has room.
		remaining := maxTotal - total
		if remaining > 100 {
			runes := []rune(msg)
			head := string(runes[:remaining-50])
			kept = append(kept, head+"\n[... truncated ...]")
		} else {
			elided++
		}
		elided += i
		break
	}

	// kept was built newest-first
	out := make([]string, 0, len(kept)+1)
	if elided > 0 {
		out = append(out, fmt.Sprintf("[... %d earlier messages elided ...]", elided))
	}
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[-_]?key\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	regexp.MustCompile(`(?i)token\s*[=:]\s*\S+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(/home/|/Users/)[^\s:]+`),
}

// ScrubSecrets masks credentials and local paths in text that crosses the
// client boundary. Internal logs keep the unscrubbed original.
func ScrubSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/types"
)

const (
	maxInsights      = 3
	maxInsightChars  = 300
	winMemoryWeight  = 6
	lossMemoryWeight = 3
)

func (a *Arena) buildProposePrompt(round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", a.cfg.Task)
	if round == 1 {
		b.WriteString("Propose your best solution to the task. Be concrete and justify your key decisions.")
	} else {
		b.WriteString("Considering the discussion so far, state your current best solution. Adopt stronger ideas from others where they improve on yours.")
	}

	a.mu.Lock()
	extras := a.extras
	a.mu.Unlock()
	if len(extras) > 0 {
		b.WriteString("\n\nAudience suggestions to consider:\n")
		for _, s := range extras {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

func buildRevisePrompt(task string, crits []agent.Critique) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	b.WriteString("Your proposal received the following critiques:\n")
	for _, c := range crits {
		for _, issue := range c.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Agent, issue)
		}
		for _, s := range c.Suggestions {
			fmt.Fprintf(&b, "- [%s, suggestion] %s\n", c.Agent, s)
		}
	}
	b.WriteString("\nRevise your proposal to address the valid points. Keep what holds up.")
	return b.String()
}

func buildSynthesisPrompt(task, choice string, proposals map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	b.WriteString("You are the judge. The proposals were:\n\n")
	names := make([]string, 0, len(proposals))
	for name := range proposals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", name, proposals[name])
	}
	fmt.Fprintf(&b, "You selected %s's position. Synthesize the final answer, folding in the strongest points from the other proposals.", choice)
	return b.String()
}

// recallMemories seeds round one with each agent's most relevant stored
// memories.
func (a *Arena) recallMemories(ctx context.Context) {
	if a.memory == nil {
		return
	}
	var extras []string
	for _, ag := range a.cfg.Agents {
		entries, err := a.memory.Retrieve(ag.Name(), a.cfg.Task, MemoryRecallLimit)
		if err != nil {
			logging.Warn("memory recall failed", map[string]interface{}{
				"agent": ag.Name(),
				"error": err.Error(),
			})
			continue
		}
		if len(entries) == 0 {
			continue
		}
		for _, e := range entries {
			extras = append(extras, fmt.Sprintf("%s recalls: %s", ag.Name(), e.Content))
		}
		a.emit(events.KindMemoryRecall, 0, ag.Name(), map[string]interface{}{
			"count": len(entries),
		})
	}
	if len(extras) > MaxSuggestionsPerRound*len(a.cfg.Agents) {
		extras = extras[:MaxSuggestionsPerRound*len(a.cfg.Agents)]
	}
	a.mu.Lock()
	a.extras = append(a.extras, extras...)
	a.mu.Unlock()
}

// writeBackMemories stores one observation per participant at debate end
// so future debates can recall how this one went.
func (a *Arena) writeBackMemories(result *Result) {
	if a.memory == nil || result.Outcome == OutcomeCancelled {
		return
	}
	for _, name := range result.Agents {
		importance := lossMemoryWeight
		outcome := "no consensus"
		switch {
		case result.Winner == name:
			importance = winMemoryWeight
			outcome = "won"
		case result.Winner != "" && result.Winner != TieWinner:
			outcome = fmt.Sprintf("lost to %s", result.Winner)
		case result.Winner == TieWinner:
			outcome = "tied"
		}
		_, err := a.memory.Save(database.MemoryEntry{
			AgentName:  name,
			MemoryType: database.MemoryObservation,
			Content:    fmt.Sprintf("Debate %q: %s after %d rounds", result.Task, outcome, result.RoundsUsed),
			Importance: float64(importance),
			DebateID:   result.ID,
		})
		if err != nil {
			logging.Warn("memory write-back failed", map[string]interface{}{
				"agent": name,
				"error": err.Error(),
			})
		}
	}
}

// extractInsights pulls short winning-pattern and dissenting-view strings
// out of the final round's vote reasonings.
func (a *Arena) extractInsights(winner string, final tally) (winning, dissenting []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.votes) == 0 {
		return nil, nil
	}
	last := a.votes[len(a.votes)-1].Votes
	for _, v := range last {
		reason := strings.TrimSpace(v.Reasoning)
		if reason == "" {
			continue
		}
		if len(reason) > maxInsightChars {
			reason = reason[:maxInsightChars]
		}
		switch {
		case winner != "" && v.Choice == winner && len(winning) < maxInsights:
			winning = append(winning, reason)
		case v.Choice != winner && len(dissenting) < maxInsights:
			dissenting = append(dissenting, reason)
		}
	}
	return winning, dissenting
}

func (a *Arena) buildResult(started time.Time, outcome, winner string, strength float64, final tally, roundsUsed int) *Result {
	ended := time.Now()

	finalAnswer := ""
	confidence := 0.0
	if winner != "" && winner != TieWinner {
		confidence = final.meanConfidence(winner)
		a.mu.Lock()
		// Prefer the judge's synthesis when one was produced.
		for i := len(a.messages) - 1; i >= 0; i-- {
			if a.messages[i].Role == types.RoleJudge {
				finalAnswer = a.messages[i].Content
				break
			}
		}
		if finalAnswer == "" {
			finalAnswer = a.proposals[winner]
		}
		a.mu.Unlock()
	}

	winning, dissenting := a.extractInsights(winner, final)
	for _, w := range winning {
		a.emit(events.KindInsightExtracted, roundsUsed, "", map[string]interface{}{
			"kind": "winning_pattern", "content": w,
		})
	}
	for _, d := range dissenting {
		a.emit(events.KindInsightExtracted, roundsUsed, "", map[string]interface{}{
			"kind": "dissenting_view", "content": d,
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return &Result{
		ID:                a.id,
		Slug:              a.slug,
		Task:              a.cfg.Task,
		Agents:            a.agentNames(),
		Messages:          a.messages,
		Critiques:         a.critiques,
		Votes:             a.votes,
		Winner:            winner,
		FinalAnswer:       finalAnswer,
		Confidence:        confidence,
		ConsensusReached:  outcome == OutcomeConsensus,
		RoundsUsed:        roundsUsed,
		DurationSeconds:   ended.Sub(started).Seconds(),
		ConvergenceStatus: string(a.tracker.Status()),
		ConsensusStrength: strength,
		WinningPatterns:   winning,
		DissentingViews:   dissenting,
		Flips:             a.flips,
		Audience:          a.lastSummary,
		Outcome:           outcome,
		StartedAt:         started,
		EndedAt:           ended,
	}
}

// persist archives the artifact and writes its JSON snapshot under the
// workdir. Persistence failures are logged, never fatal to the caller.
func (a *Arena) persist(result *Result) {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logging.Error("failed to encode artifact", map[string]interface{}{"error": err.Error()})
		return
	}

	if a.cfg.Workdir != "" {
		dir := filepath.Join(a.cfg.Workdir, "debates", result.Slug)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Error("failed to create debate dir", map[string]interface{}{"error": err.Error()})
		} else if err := os.WriteFile(filepath.Join(dir, "result.json"), raw, 0o644); err != nil {
			logging.Error("failed to write artifact snapshot", map[string]interface{}{"error": err.Error()})
		}
	}

	if a.archive == nil {
		return
	}
	flips := make([]database.FlipRecord, len(result.Flips))
	for i, f := range result.Flips {
		flips[i] = database.FlipRecord{
			Agent:      f.Agent,
			Round:      f.Round,
			FromChoice: f.FromChoice,
			ToChoice:   f.ToChoice,
		}
	}
	var insights []database.InsightRecord
	for _, w := range result.WinningPatterns {
		insights = append(insights, database.InsightRecord{Kind: "winning_pattern", Content: w})
	}
	for _, d := range result.DissentingViews {
		insights = append(insights, database.InsightRecord{Kind: "dissenting_view", Content: d})
	}

	err = a.archive.SaveDebate(database.DebateRecord{
		ID:                result.ID,
		Slug:              result.Slug,
		Task:              result.Task,
		Agents:            result.Agents,
		Winner:            result.Winner,
		FinalAnswer:       result.FinalAnswer,
		Confidence:        result.Confidence,
		ConsensusReached:  result.ConsensusReached,
		RoundsUsed:        result.RoundsUsed,
		DurationSeconds:   result.DurationSeconds,
		ConvergenceStatus: result.ConvergenceStatus,
		ResultJSON:        raw,
		StartedAt:         result.StartedAt,
		EndedAt:           result.EndedAt,
	}, flips, insights)
	if err != nil {
		logging.Error("failed to archive debate", map[string]interface{}{
			"debate_id": result.ID,
			"error":     err.Error(),
		})
	}
}

// recordMatch feeds the rating ledger. Ties and winnerless debates are not
// recorded, and only agents whose vote was actually cast are rated.
func (a *Arena) recordMatch(result *Result, final tally, votes []agent.Vote) {
	if a.ledger == nil || final.nonAbstain == 0 {
		return
	}
	if result.Winner == "" || result.Winner == TieWinner {
		return
	}
	participants := make([]string, 0, len(votes))
	for _, v := range votes {
		participants = append(participants, v.Agent)
	}
	match, err := a.ledger.RecordDebate(result.ID, result.Winner, participants, a.cfg.Domain)
	if err != nil {
		logging.Error("failed to record match", map[string]interface{}{
			"debate_id": result.ID,
			"error":     err.Error(),
		})
		return
	}
	if match == nil {
		return
	}
	a.emit(events.KindMatchRecorded, result.RoundsUsed, "", map[string]interface{}{
		"match_id":    match.ID,
		"debate_id":   result.ID,
		"winner":      match.Winner,
		"elo_changes": match.EloChanges,
	})
	if leaderboard, err := a.ledger.Leaderboard(10); err == nil {
		a.emit(events.KindLeaderboardUpdate, result.RoundsUsed, "", map[string]interface{}{
			"leaderboard": leaderboard,
		})
	}
}

package events

import (
	"time"
)

// Kind identifies the type of an event on the live stream.
type Kind string

// Debate lifecycle kinds.
const (
	KindDebateStart Kind = "debate_start"
	KindRoundStart  Kind = "round_start"
	// KindAgentMessage carries a proposal or revision.
	// Data: content, role.
	KindAgentMessage Kind = "agent_message"
	KindCritique     Kind = "critique"
	KindVote         Kind = "vote"
	// KindConsensus closes a round. Data: reached, winner, strength.
	KindConsensus Kind = "consensus"
	KindDebateEnd Kind = "debate_end"
)

// Token streaming kinds, emitted while a backend streams a generation.
const (
	KindTokenStart Kind = "token_start"
	KindTokenDelta Kind = "token_delta"
	KindTokenEnd   Kind = "token_end"
)

// Orchestration progress kinds.
const (
	KindCycleStart        Kind = "cycle_start"
	KindCycleEnd          Kind = "cycle_end"
	KindPhaseStart        Kind = "phase_start"
	KindPhaseEnd          Kind = "phase_end"
	KindTaskStart         Kind = "task_start"
	KindTaskComplete      Kind = "task_complete"
	KindTaskRetry         Kind = "task_retry"
	KindVerificationStart Kind = "verification_start"
	KindVerificationRes   Kind = "verification_result"
	KindCommit            Kind = "commit"
	KindBackupCreated     Kind = "backup_created"
	KindBackupRestored    Kind = "backup_restored"
	KindError             Kind = "error"
	KindLogMessage        Kind = "log_message"
)

// Loop registry kinds.
const (
	KindLoopRegister   Kind = "loop_register"
	KindLoopUnregister Kind = "loop_unregister"
	KindLoopList       Kind = "loop_list"
)

// Audience kinds.
const (
	KindUserVote        Kind = "user_vote"
	KindUserSuggestion  Kind = "user_suggestion"
	KindAudienceSummary Kind = "audience_summary"
	KindAudienceMetrics Kind = "audience_metrics"
	KindAudienceDrain   Kind = "audience_drain"
)

// Analytics kinds.
const (
	KindMemoryRecall      Kind = "memory_recall"
	KindInsightExtracted  Kind = "insight_extracted"
	KindMatchRecorded     Kind = "match_recorded"
	KindLeaderboardUpdate Kind = "leaderboard_update"
	KindFlipDetected      Kind = "flip_detected"
)

// Probe and audit kinds, reserved for verification tooling that consumes
// the same stream.
const (
	KindProbeStart     Kind = "probe_start"
	KindProbeResult    Kind = "probe_result"
	KindProbeComplete  Kind = "probe_complete"
	KindAuditStart     Kind = "audit_start"
	KindAuditRound     Kind = "audit_round"
	KindAuditFinding   Kind = "audit_finding"
	KindAuditCrossExam Kind = "audit_cross_exam"
	KindAuditVerdict   Kind = "audit_verdict"
)

// KindSync is the per-debate state snapshot sent to a client on connect.
const KindSync Kind = "sync"

// Event is one typed message on the live stream. The wire field for Kind is
// "type" to match what dashboard clients expect.
type Event struct {
	Kind      Kind                   `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Round     int                    `json:"round,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	LoopID    string                 `json:"loop_id,omitempty"`
}

// New builds an event stamped with the current time.
func New(kind Kind, data map[string]interface{}) Event {
	return Event{
		Kind:      kind,
		Data:      data,
		Timestamp: time.Now(),
	}
}

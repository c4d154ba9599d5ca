package model

import "time"

// SummarySource records which path produced the final report.
type SummarySource string

const (
	SummaryFromServer SummarySource = "server"
	SummaryFromLocal  SummarySource = "local"
)

// TurnSummary is one turn as it appears in the final report.
type TurnSummary struct {
	Ordinal      int           `json:"ordinal"`
	QuestionID   string        `json:"question_id"`
	Outcome      TurnOutcome   `json:"outcome"`
	SubmitFailed bool          `json:"submit_failed,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
	Score        *float64      `json:"score,omitempty"`
}

// SummaryReport is the immutable final record of a session. It is produced
// exactly once per session, either by the upstream service or derived
// locally from the turn and proctoring logs.
type SummaryReport struct {
	SessionID      string            `json:"session_id"`
	Source         SummarySource     `json:"source"`
	Turns          []TurnSummary     `json:"turns"`
	CompletionRate float64           `json:"completion_rate"`
	WarningCount   int               `json:"warning_count"`
	CriticalCount  int               `json:"critical_count"`
	Reason         TerminationReason `json:"reason"`
	// Degraded marks partial turn loss: at least one turn's upstream
	// submission is still pending out-of-band reconciliation.
	Degraded bool `json:"network_degraded,omitempty"`
}

package model

import "time"

// TurnOutcome is the capture result of one question-answer cycle.
type TurnOutcome string

const (
	OutcomeAnswered TurnOutcome = "answered"
	OutcomeSkipped  TurnOutcome = "skipped"
	OutcomeTimedOut TurnOutcome = "timed-out"
	OutcomeAborted  TurnOutcome = "aborted"
)

// Turn is one question's execution record. Created when the turn begins,
// sealed exactly once when it ends; appended to the session's turn log.
type Turn struct {
	QuestionID string        `json:"question_id"`
	Ordinal    int           `json:"ordinal"`
	Audio      []byte        `json:"-"`
	AudioRef   string        `json:"audio_ref,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	Outcome    TurnOutcome   `json:"outcome"`
	// SubmitFailed marks a sealed turn whose upstream submission exhausted
	// its retry budget. The turn is kept locally and reconciled later; it is
	// never silently lost.
	SubmitFailed bool       `json:"submit_failed,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	SealedAt     *time.Time `json:"sealed_at,omitempty"`
}

// Sealed reports whether the turn has reached its final outcome.
func (t *Turn) Sealed() bool {
	return t.SealedAt != nil
}

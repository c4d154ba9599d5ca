package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates the standup session state machine.
type SessionState string

const (
	StateIdle           SessionState = "IDLE"
	StateInitializing   SessionState = "INITIALIZING"
	StateAwaitingPrompt SessionState = "AWAITING_PROMPT"
	StateCapturing      SessionState = "CAPTURING"
	StateSubmitting     SessionState = "SUBMITTING"
	StateCompleting     SessionState = "COMPLETING"
	StateAborting       SessionState = "ABORTING"
	StateTerminated     SessionState = "TERMINATED"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	return s == StateTerminated
}

// TerminationReason explains why a session reached TERMINATED.
type TerminationReason string

const (
	ReasonCompleted           TerminationReason = "completed"
	ReasonStartFailed         TerminationReason = "start-failed"
	ReasonSummaryDegraded     TerminationReason = "summary-degraded"
	ReasonProctoringViolation TerminationReason = "proctoring-violation"
	ReasonDeviceError         TerminationReason = "device-error"
	ReasonUserCancelled       TerminationReason = "user-cancelled"
)

// Session is a participant's live standup attempt. It is owned exclusively
// by the session controller for its lifetime; handlers only ever see
// snapshots or the final report.
type Session struct {
	ID            uuid.UUID         `json:"id"`
	UpstreamID    string            `json:"upstream_id"`
	ParticipantID int               `json:"participant_id"`
	Questions     []Question        `json:"questions"`
	TurnIndex     int               `json:"turn_index"`
	State         SessionState      `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	QuestionLimit time.Duration     `json:"-"`
	Turns         []Turn            `json:"turns"`
	Events        []ProctoringEvent `json:"proctoring_events"`
	Reason        TerminationReason `json:"reason,omitempty"`
}

// Clone returns a deep copy safe to hand outside the controller goroutine.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Questions = append([]Question(nil), s.Questions...)
	cp.Turns = append([]Turn(nil), s.Turns...)
	cp.Events = append([]ProctoringEvent(nil), s.Events...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// CreateSessionRequest is the payload for opening a standup session slot.
type CreateSessionRequest struct {
	StandupID string `json:"standup_id" binding:"required,min=1,max=64"`
}

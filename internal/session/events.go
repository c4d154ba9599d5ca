package session

import "github.com/vineeshareddyy/eduapp-standup-service/internal/model"

// EventType identifies a lifecycle event published to the presentation
// layer.
type EventType string

const (
	// EventStateChanged fires on every state machine transition.
	EventStateChanged EventType = "state-changed"
	// EventTurnOpened fires when a question's turn begins.
	EventTurnOpened EventType = "turn-opened"
	// EventTurnSealed fires when a turn reaches its final outcome.
	EventTurnSealed EventType = "turn-sealed"
	// EventProctor fires for every proctoring event the controller records.
	EventProctor EventType = "proctor"
	// EventTerminated fires exactly once, carrying the final report.
	EventTerminated EventType = "terminated"
)

// Event is one lifecycle notification. Only the fields relevant to Type
// are populated.
type Event struct {
	Type     EventType               `json:"type"`
	State    model.SessionState      `json:"state,omitempty"`
	Question *model.Question         `json:"question,omitempty"`
	Turn     *model.Turn             `json:"turn,omitempty"`
	Proctor  *model.ProctoringEvent  `json:"proctor,omitempty"`
	Report   *model.SummaryReport    `json:"report,omitempty"`
	Reason   model.TerminationReason `json:"reason,omitempty"`
}

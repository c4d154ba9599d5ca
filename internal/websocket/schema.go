package websocket

import "github.com/vineeshareddyy/eduapp-standup-service/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAudio        Action = "audio"
	ActionProctor      Action = "proctor"
	ActionPlaybackDone Action = "playback_done"
	ActionSubmit       Action = "submit"
	ActionSkip         Action = "skip"
	ActionCancel       Action = "cancel"
	ActionPing         Action = "ping"
)

// RequestPayload is the single client message shape; Action selects which
// fields are meaningful.
//   - audio: Seq, Data (base64 16-bit LE PCM), Energy (client RMS level)
//   - proctor: FaceCount, Visible, FeedError
//   - playback_done: Ordinal of the prompt that finished playing
type RequestPayload struct {
	Action    Action  `json:"action"`
	Seq       int     `json:"seq,omitempty"`
	Data      string  `json:"data,omitempty"`
	Energy    float64 `json:"energy,omitempty"`
	FaceCount int     `json:"face_count,omitempty"`
	Visible   bool    `json:"visible,omitempty"`
	FeedError string  `json:"feed_error,omitempty"`
	Ordinal   int     `json:"ordinal,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState      Event = "state"
	EventPrompt     Event = "prompt"
	EventCapture    Event = "capture"
	EventTurnSealed Event = "turn_sealed"
	EventProctor    Event = "proctor"
	EventTerminated Event = "terminated"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// StateResponse announces a session state transition.
type StateResponse struct {
	Event Event              `json:"event"`
	State model.SessionState `json:"state"`
}

// PromptResponse tells the device to play a question prompt.
type PromptResponse struct {
	Event    Event  `json:"event"`
	Ordinal  int    `json:"ordinal"`
	Prompt   string `json:"prompt"`
	AudioURL string `json:"audio_url,omitempty"`
}

// CaptureResponse toggles the device's capture indicator.
type CaptureResponse struct {
	Event  Event `json:"event"`
	Active bool  `json:"active"`
}

// TurnSealedResponse reports the final outcome of a completed turn.
type TurnSealedResponse struct {
	Event      Event             `json:"event"`
	Ordinal    int               `json:"ordinal"`
	Outcome    model.TurnOutcome `json:"outcome"`
	Transcript string            `json:"transcript,omitempty"`
}

// ProctorResponse forwards a recorded proctoring event to the device.
type ProctorResponse struct {
	Event    Event                 `json:"event"`
	Category model.ProctorCategory `json:"category"`
	Severity model.ProctorSeverity `json:"severity"`
	Detail   string                `json:"detail,omitempty"`
}

// TerminatedResponse is the final message: the session is over and the
// summary report (server-side or locally built) is attached.
type TerminatedResponse struct {
	Event  Event                   `json:"event"`
	Reason model.TerminationReason `json:"reason"`
	Report *model.SummaryReport    `json:"report,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

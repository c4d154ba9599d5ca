package model

import "time"

// ProctorCategory classifies an integrity signal from the supervision feed.
type ProctorCategory string

const (
	ProctorFaceAbsent    ProctorCategory = "face-absent"
	ProctorMultipleFaces ProctorCategory = "multiple-faces"
	ProctorTabHidden     ProctorCategory = "tab-hidden"
	ProctorDeviceError   ProctorCategory = "device-error"
)

// ProctorSeverity is the policy weight of a proctoring event.
type ProctorSeverity string

const (
	SeverityWarning  ProctorSeverity = "warning"
	SeverityCritical ProctorSeverity = "critical"
)

// ProctoringEvent is one emitted violation signal. Append-only; never
// mutated after emission.
type ProctoringEvent struct {
	At       time.Time       `json:"at"`
	Category ProctorCategory `json:"category"`
	Severity ProctorSeverity `json:"severity"`
	Detail   string          `json:"detail,omitempty"`
}

// VideoSample is one classified frame from the supervision feed. Face
// detection runs on-device; the monitor applies the escalation policy.
type VideoSample struct {
	At        time.Time `json:"at"`
	FaceCount int       `json:"face_count"`
	Visible   bool      `json:"visible"`
	FeedError string    `json:"feed_error,omitempty"`
}

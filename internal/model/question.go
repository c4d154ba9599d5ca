package model

import "time"

// Question is a single standup prompt. Immutable once fetched from the
// upstream service.
type Question struct {
	ID             string        `json:"id"`
	Ordinal        int           `json:"ordinal"`
	Prompt         string        `json:"prompt"`
	PromptAudioURL string        `json:"prompt_audio_url,omitempty"`
	MaxAnswer      time.Duration `json:"-"`
	// MaxAnswerSeconds is the wire form of MaxAnswer; zero means the
	// session default applies.
	MaxAnswerSeconds int `json:"max_answer_seconds,omitempty"`
}

// AnswerLimit returns the per-question capture limit, falling back to the
// session default when the question does not carry its own.
func (q Question) AnswerLimit(fallback time.Duration) time.Duration {
	if q.MaxAnswer > 0 {
		return q.MaxAnswer
	}
	if q.MaxAnswerSeconds > 0 {
		return time.Duration(q.MaxAnswerSeconds) * time.Second
	}
	return fallback
}

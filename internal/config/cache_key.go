package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ParticipantActiveSessionKey returns the cache key guarding one active
// standup session per participant.
func (r *CacheKeyStruct) ParticipantActiveSessionKey(participantID int) string {
	return fmt.Sprintf("participant:%d:active_session", participantID)
}

// SessionEventsChannel returns the Redis PubSub channel for a session's
// live proctoring feed (operator view).
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

var CacheKey = NewCacheKeyStruct()

// Package media owns the single capture feed a connected device provides.
// The WebSocket stream is the device handle: audio frames and video samples
// arrive on it, and the hub fans them out to at most one subscriber per
// track. Most platforms disallow duplicate exclusive opens of a capture
// device, so a second subscription of the same track fails fast instead of
// silently duplicating the stream.
package media

import (
	"errors"
	"sync"
	"time"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// Track identifies one side of the capture feed.
type Track string

const (
	TrackAudio Track = "audio"
	TrackVideo Track = "video"
)

var (
	// ErrTrackBusy is returned when a track already has an exclusive
	// subscriber. It maps to the session's device-error taxonomy.
	ErrTrackBusy = errors.New("media: track already has an exclusive subscriber")
	// ErrFeedClosed is returned when the device feed has gone away.
	ErrFeedClosed = errors.New("media: capture feed closed")
)

// AudioFrame is one chunk of captured PCM from the device.
type AudioFrame struct {
	Seq    int
	Data   []byte
	Energy float64
	At     time.Time
}

const (
	audioBuffer = 64
	videoBuffer = 16
)

// Hub is the shared capture handle. One producer (the device connection)
// pushes frames in; the audio pipeline and proctoring monitor each hold at
// most one subscription.
type Hub struct {
	mu       sync.Mutex
	audioSub chan AudioFrame
	videoSub chan model.VideoSample
	closed   bool
	err      error
}

// NewHub creates an empty hub with no subscribers.
func NewHub() *Hub {
	return &Hub{}
}

// PushAudio delivers an audio frame to the audio subscriber, if any.
// Frames are dropped when no subscriber is attached or the subscriber is
// not keeping up; capture audio is lossy by nature and the VAD tolerates
// gaps.
func (h *Hub) PushAudio(f AudioFrame) {
	h.mu.Lock()
	sub := h.audioSub
	closed := h.closed
	h.mu.Unlock()
	if closed || sub == nil {
		return
	}
	select {
	case sub <- f:
	default:
	}
}

// PushVideo delivers a classified frame sample to the video subscriber.
func (h *Hub) PushVideo(s model.VideoSample) {
	h.mu.Lock()
	sub := h.videoSub
	closed := h.closed
	h.mu.Unlock()
	if closed || sub == nil {
		return
	}
	select {
	case sub <- s:
	default:
	}
}

// SubscribeAudio claims the audio track. Returns ErrTrackBusy if already
// claimed and ErrFeedClosed if the feed is gone. The release func must be
// called exactly once; after release the track can be claimed again.
func (h *Hub) SubscribeAudio() (<-chan AudioFrame, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, h.closeErr()
	}
	if h.audioSub != nil {
		return nil, nil, ErrTrackBusy
	}
	ch := make(chan AudioFrame, audioBuffer)
	h.audioSub = ch
	release := func() {
		h.mu.Lock()
		if h.audioSub == ch {
			h.audioSub = nil
		}
		h.mu.Unlock()
	}
	return ch, release, nil
}

// SubscribeVideo claims the video track under the same exclusivity rules
// as SubscribeAudio.
func (h *Hub) SubscribeVideo() (<-chan model.VideoSample, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, h.closeErr()
	}
	if h.videoSub != nil {
		return nil, nil, ErrTrackBusy
	}
	ch := make(chan model.VideoSample, videoBuffer)
	h.videoSub = ch
	release := func() {
		h.mu.Lock()
		if h.videoSub == ch {
			h.videoSub = nil
		}
		h.mu.Unlock()
	}
	return ch, release, nil
}

// Close tears down the feed. Subscribers observe closed channels;
// subsequent subscriptions fail with ErrFeedClosed (or cause, if set).
func (h *Hub) Close() { h.CloseWithError(nil) }

// CloseWithError tears down the feed recording cause as the reason, e.g.
// a device acquisition failure reported by the client.
func (h *Hub) CloseWithError(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.err = cause
	if h.audioSub != nil {
		close(h.audioSub)
		h.audioSub = nil
	}
	if h.videoSub != nil {
		close(h.videoSub)
		h.videoSub = nil
	}
}

// Err returns the recorded close cause, or nil while the feed is live.
func (h *Hub) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		return nil
	}
	return h.closeErr()
}

func (h *Hub) closeErr() error {
	if h.err != nil {
		return h.err
	}
	return ErrFeedClosed
}

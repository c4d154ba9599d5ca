package service

import (
	"errors"
	"sync"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/audio"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

var errNoDevice = errors.New("no device stream attached")

// linkRelay is the audio.Link handed to the pipeline at construction time,
// before any WebSocket exists. The real link is bound when the device
// attaches; the controller only starts after that, so the pipeline never
// sees an unbound relay in practice.
type linkRelay struct {
	mu     sync.RWMutex
	target audio.Link
}

func newLinkRelay() *linkRelay {
	return &linkRelay{}
}

func (r *linkRelay) bind(target audio.Link) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

func (r *linkRelay) SendPrompt(q model.Question) (<-chan struct{}, error) {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	if t == nil {
		return nil, errNoDevice
	}
	return t.SendPrompt(q)
}

func (r *linkRelay) SendCaptureCue(active bool) {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	if t == nil {
		return
	}
	t.SendCaptureCue(active)
}

// Package proctor supervises a live session through the video side of the
// capture feed. It samples the classified frame stream at a fixed cadence,
// applies the escalation policy, and emits proctoring events. It only ever
// emits — termination policy belongs to the session controller, which keeps
// the monitor reusable and testable in isolation.
package proctor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/media"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// ErrAlreadyAttached is returned by Attach when the monitor is running.
var ErrAlreadyAttached = errors.New("proctor: monitor already attached")

// Config holds the classification thresholds. The values are tuning
// parameters; only the escalating warning→critical shape is contractual.
type Config struct {
	// SampleInterval is the classification cadence (~1-2 samples/second).
	SampleInterval time.Duration
	// FaceAbsentWarn is the consecutive no-face sample count that emits a
	// warning; FaceAbsentCritical is the larger count that escalates.
	FaceAbsentWarn     int
	FaceAbsentCritical int
	// TabHiddenCritical is the visibility-loss occurrence count at which
	// repeated tab-hidden warnings escalate to critical.
	TabHiddenCritical int
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 750 * time.Millisecond
	}
	if c.FaceAbsentWarn <= 0 {
		c.FaceAbsentWarn = 3
	}
	if c.FaceAbsentCritical <= c.FaceAbsentWarn {
		c.FaceAbsentCritical = c.FaceAbsentWarn + 5
	}
	if c.TabHiddenCritical <= 0 {
		c.TabHiddenCritical = 3
	}
	return c
}

// Monitor runs the sampling loop for one session's supervision feed.
type Monitor struct {
	hub *media.Hub
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	detach  context.CancelFunc
	running bool
}

// NewMonitor creates a monitor over the given capture feed.
func NewMonitor(hub *media.Hub, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		hub: hub,
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "proctor_monitor").Logger(),
	}
}

// Attach claims the video track and starts the sampling loop. The returned
// stream is closed on Detach or when ctx ends. Feed acquisition failure
// (track busy, feed closed) is reported as an immediate device-error
// critical event on the stream rather than an attach error, so the
// controller observes it through the same path as any other violation.
func (m *Monitor) Attach(ctx context.Context) (<-chan model.ProctoringEvent, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.detach = cancel
	m.mu.Unlock()

	events := make(chan model.ProctoringEvent, 16)

	samples, release, err := m.hub.SubscribeVideo()
	if err != nil {
		m.log.Error().Err(err).Msg("Supervision feed acquisition failed")
		go func() {
			defer close(events)
			defer m.stop()
			select {
			case events <- model.ProctoringEvent{
				At:       time.Now(),
				Category: model.ProctorDeviceError,
				Severity: model.SeverityCritical,
				Detail:   err.Error(),
			}:
			case <-loopCtx.Done():
			}
		}()
		return events, nil
	}

	go m.run(loopCtx, samples, release, events)
	return events, nil
}

// Detach releases the feed and stops sampling. Safe to call multiple times.
func (m *Monitor) Detach() {
	m.mu.Lock()
	cancel := m.detach
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Monitor) stop() {
	m.mu.Lock()
	m.running = false
	m.detach = nil
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context, samples <-chan model.VideoSample, release func(), out chan<- model.ProctoringEvent) {
	defer close(out)
	defer release()
	defer m.stop()

	st := newPolicyState(m.cfg)
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	var latest *model.VideoSample

	for {
		select {
		case s, ok := <-samples:
			if !ok {
				// Feed died mid-session. Distinct from acquisition failure
				// but equally terminal for supervision.
				m.emit(ctx, out, model.ProctoringEvent{
					At:       time.Now(),
					Category: model.ProctorDeviceError,
					Severity: model.SeverityCritical,
					Detail:   "supervision feed lost",
				})
				return
			}
			latest = &s
			// Multi-face and explicit feed errors are edge-triggered on the
			// sample itself: no grace window.
			for _, ev := range st.classifyImmediate(s) {
				if !m.emit(ctx, out, ev) {
					return
				}
			}
		case <-ticker.C:
			for _, ev := range st.classifyTick(latest) {
				if !m.emit(ctx, out, ev) {
					return
				}
			}
			latest = nil
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) emit(ctx context.Context, out chan<- model.ProctoringEvent, ev model.ProctoringEvent) bool {
	m.log.Debug().
		Str("category", string(ev.Category)).
		Str("severity", string(ev.Severity)).
		Msg("Proctoring event")
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

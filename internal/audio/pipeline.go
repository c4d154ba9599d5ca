// Package audio drives one turn of the voice interaction: play the question
// prompt on the device surface, then capture the spoken answer until
// end-of-speech, deadline, or cancellation.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/media"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

var (
	// ErrBusy is returned when PlayPrompt or CaptureAnswer is invoked while
	// another pipeline operation is in flight. Capture must never overlap
	// prompt playback or it would record the system's own audio.
	ErrBusy = errors.New("audio: pipeline operation already in flight")
	// ErrDevice wraps capture-device failures (feed lost, track busy,
	// acquisition denied). The controller maps it to an immediate abort.
	ErrDevice = errors.New("audio: capture device unavailable")
)

// Link is the device surface the pipeline talks to. The WebSocket handler
// implements it for real sessions.
type Link interface {
	// SendPrompt asks the device to play the question prompt. The returned
	// channel closes when the device acknowledges playback completion.
	SendPrompt(q model.Question) (<-chan struct{}, error)
	// SendCaptureCue toggles the device's recording indicator.
	SendCaptureCue(active bool)
}

// Capture is the finalized product of one answer capture.
type Capture struct {
	Audio    []byte
	Frames   int
	Duration time.Duration
	// SpeechDetected is true once the energy threshold was crossed; a
	// timed-out capture with no speech yields an empty answer.
	SpeechDetected bool
}

// Config holds the voice-activity tuning knobs.
type Config struct {
	// SilenceWindow is how much post-speech silence counts as end-of-speech.
	SilenceWindow time.Duration
	// EnergyThreshold is the normalized frame energy above which a frame
	// counts as speech.
	EnergyThreshold float64
	// PromptAckTimeout bounds how long we wait for the device's playback
	// completion acknowledgment.
	PromptAckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 1200 * time.Millisecond
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.02
	}
	if c.PromptAckTimeout <= 0 {
		c.PromptAckTimeout = 30 * time.Second
	}
	return c
}

// Pipeline manages prompt playback and answer capture for one session.
// Operations are strictly sequential.
type Pipeline struct {
	link Link
	hub  *media.Hub
	cfg  Config
	log  zerolog.Logger

	mu   sync.Mutex
	busy bool
}

// NewPipeline creates a pipeline bound to one device feed.
func NewPipeline(link Link, hub *media.Hub, cfg Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		link: link,
		hub:  hub,
		cfg:  cfg.withDefaults(),
		log:  log.With().Str("component", "audio_pipeline").Logger(),
	}
}

func (p *Pipeline) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return ErrBusy
	}
	p.busy = true
	return nil
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// PlayPrompt plays the question prompt and blocks until the device
// acknowledges completion, the ack window lapses, or ctx is cancelled.
// A lapsed ack window is treated as completion: a stuck client must not
// wedge the session, and capture starting late is harmless.
func (p *Pipeline) PlayPrompt(ctx context.Context, q model.Question) error {
	if err := p.acquire(); err != nil {
		return err
	}
	defer p.release()

	ack, err := p.link.SendPrompt(q)
	if err != nil {
		return fmt.Errorf("%w: send prompt: %v", ErrDevice, err)
	}

	timer := time.NewTimer(p.cfg.PromptAckTimeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-timer.C:
		p.log.Warn().Str("question_id", q.ID).Msg("Prompt ack timed out, proceeding to capture")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaptureAnswer records from the shared feed until end-of-speech or ctx
// cancellation. The per-question deadline is a controller-owned timer: the
// controller cancels ctx when it fires, and the partial capture returned
// here is still usable. The returned error is nil on end-of-speech,
// ctx.Err() on cancellation, or an ErrDevice wrap when the feed dies;
// in every case the Capture carries whatever was recorded.
func (p *Pipeline) CaptureAnswer(ctx context.Context) (*Capture, error) {
	if err := p.acquire(); err != nil {
		return &Capture{}, err
	}
	defer p.release()

	frames, releaseTrack, err := p.hub.SubscribeAudio()
	if err != nil {
		return &Capture{}, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	defer releaseTrack()

	p.link.SendCaptureCue(true)
	defer p.link.SendCaptureCue(false)

	rec := &Capture{}
	started := time.Now()

	// The silence timer only arms after speech was detected; before that,
	// only the controller's deadline can end the capture.
	silence := time.NewTimer(time.Hour)
	if !silence.Stop() {
		<-silence.C
	}
	defer silence.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				rec.Duration = time.Since(started)
				return rec, fmt.Errorf("%w: %v", ErrDevice, p.hub.Err())
			}
			rec.Audio = append(rec.Audio, f.Data...)
			rec.Frames++
			if p.frameEnergy(f) >= p.cfg.EnergyThreshold {
				rec.SpeechDetected = true
				resetTimer(silence, p.cfg.SilenceWindow)
			}
		case <-silence.C:
			// End-of-speech: silence exceeded the window after speech.
			rec.Duration = time.Since(started)
			p.log.Debug().
				Int("frames", rec.Frames).
				Dur("duration", rec.Duration).
				Msg("End of speech detected")
			return rec, nil
		case <-ctx.Done():
			rec.Duration = time.Since(started)
			return rec, ctx.Err()
		}
	}
}

// frameEnergy prefers the device-computed level and falls back to RMS over
// the PCM payload when the client did not provide one.
func (p *Pipeline) frameEnergy(f media.AudioFrame) float64 {
	if f.Energy > 0 {
		return f.Energy
	}
	return pcmRMS(f.Data)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

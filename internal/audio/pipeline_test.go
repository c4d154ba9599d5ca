package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/media"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

type fakeLink struct {
	mu      sync.Mutex
	ack     chan struct{}
	sendErr error
	prompts []model.Question
	cues    chan bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		ack:  make(chan struct{}),
		cues: make(chan bool, 8),
	}
}

func (l *fakeLink) SendPrompt(q model.Question) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return nil, l.sendErr
	}
	l.prompts = append(l.prompts, q)
	return l.ack, nil
}

func (l *fakeLink) SendCaptureCue(active bool) {
	select {
	case l.cues <- active:
	default:
	}
}

func testConfig() Config {
	return Config{
		SilenceWindow:    60 * time.Millisecond,
		EnergyThreshold:  0.3,
		PromptAckTimeout: 40 * time.Millisecond,
	}
}

func newTestPipeline(link Link, hub *media.Hub) *Pipeline {
	return NewPipeline(link, hub, testConfig(), zerolog.Nop())
}

// waitForCue blocks until the device reports the recording indicator turned
// on, which guarantees CaptureAnswer has subscribed to the feed. Safe to
// call off the test goroutine; the capture's own deadline bounds a hang.
func waitForCue(link *fakeLink) bool {
	select {
	case active := <-link.cues:
		return active
	case <-time.After(2 * time.Second):
		return false
	}
}

func speechFrame(seq int) media.AudioFrame {
	return media.AudioFrame{Seq: seq, Data: []byte{0x00, 0x10}, Energy: 0.9, At: time.Now()}
}

func quietFrame(seq int) media.AudioFrame {
	return media.AudioFrame{Seq: seq, Data: []byte{0x01, 0x00}, Energy: 0.01, At: time.Now()}
}

func TestPlayPromptCompletesOnAck(t *testing.T) {
	link := newFakeLink()
	p := newTestPipeline(link, media.NewHub())

	close(link.ack)
	if err := p.PlayPrompt(context.Background(), model.Question{ID: "q-1"}); err != nil {
		t.Fatalf("PlayPrompt: %v", err)
	}
	if len(link.prompts) != 1 || link.prompts[0].ID != "q-1" {
		t.Fatalf("prompt not delivered to device: %+v", link.prompts)
	}
}

func TestPlayPromptAckTimeoutProceeds(t *testing.T) {
	link := newFakeLink()
	p := newTestPipeline(link, media.NewHub())

	// Ack never arrives; a stuck client must not wedge the session.
	if err := p.PlayPrompt(context.Background(), model.Question{ID: "q-1"}); err != nil {
		t.Fatalf("lapsed ack window should count as completion, got %v", err)
	}
}

func TestPlayPromptCancelled(t *testing.T) {
	link := newFakeLink()
	cfg := testConfig()
	cfg.PromptAckTimeout = time.Hour
	p := NewPipeline(link, media.NewHub(), cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PlayPrompt(ctx, model.Question{ID: "q-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPlayPromptDeviceFailure(t *testing.T) {
	link := newFakeLink()
	link.sendErr = errors.New("socket gone")
	p := newTestPipeline(link, media.NewHub())

	err := p.PlayPrompt(context.Background(), model.Question{ID: "q-1"})
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice wrap, got %v", err)
	}
}

func TestCaptureEndsOnSilence(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	go func() {
		waitForCue(link)
		for i := 0; i < 5; i++ {
			hub.PushAudio(speechFrame(i))
			time.Sleep(5 * time.Millisecond)
		}
		// Stop pushing: the silence window should now end the capture.
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := p.CaptureAnswer(ctx)
	if err != nil {
		t.Fatalf("CaptureAnswer: %v", err)
	}
	if !rec.SpeechDetected {
		t.Fatalf("speech frames should set SpeechDetected")
	}
	if rec.Frames == 0 || len(rec.Audio) == 0 {
		t.Fatalf("capture recorded nothing: %+v", rec)
	}
	if rec.Duration <= 0 {
		t.Fatalf("capture duration not measured")
	}
}

func TestCaptureCancelReturnsPartial(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitForCue(link)
		hub.PushAudio(quietFrame(0))
		hub.PushAudio(quietFrame(1))
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rec, err := p.CaptureAnswer(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec == nil || rec.Frames != 2 {
		t.Fatalf("partial capture should keep received frames: %+v", rec)
	}
	if rec.SpeechDetected {
		t.Fatalf("quiet frames should not count as speech")
	}
}

func TestCaptureFallsBackToPCMEnergy(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	go func() {
		waitForCue(link)
		// Device reports no level; half-scale PCM computes to RMS 0.5.
		hub.PushAudio(media.AudioFrame{Seq: 0, Data: []byte{0x00, 0x40}, At: time.Now()})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := p.CaptureAnswer(ctx)
	if err != nil {
		t.Fatalf("CaptureAnswer: %v", err)
	}
	if !rec.SpeechDetected {
		t.Fatalf("loud PCM should count as speech even without a device level")
	}
}

func TestCaptureConcurrentUseIsBusy(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.CaptureAnswer(ctx)
	}()
	if !waitForCue(link) {
		t.Fatalf("capture never signalled the recording cue")
	}

	if _, err := p.CaptureAnswer(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping capture should return ErrBusy, got %v", err)
	}
	if err := p.PlayPrompt(context.Background(), model.Question{ID: "q-1"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("prompt during capture should return ErrBusy, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not release after cancellation")
	}

	// Released: the next capture may claim the track again.
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if _, err := p.CaptureAnswer(ctx2); !errors.Is(err, context.Canceled) {
		t.Fatalf("pipeline still busy after release: %v", err)
	}
}

func TestCaptureFeedClosureIsDeviceError(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	cause := errors.New("camera permission revoked")
	go func() {
		waitForCue(link)
		hub.PushAudio(speechFrame(0))
		time.Sleep(10 * time.Millisecond)
		hub.CloseWithError(cause)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := p.CaptureAnswer(ctx)
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("dead feed should surface ErrDevice, got %v", err)
	}
	if rec == nil {
		t.Fatalf("capture should still carry what was recorded before the feed died")
	}
}

func TestCaptureTrackAlreadyClaimed(t *testing.T) {
	link := newFakeLink()
	hub := media.NewHub()
	p := newTestPipeline(link, hub)

	_, release, err := hub.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	defer release()

	if _, err := p.CaptureAnswer(context.Background()); !errors.Is(err, ErrDevice) {
		t.Fatalf("claimed track should surface ErrDevice, got %v", err)
	}
}

func TestPCMRMS(t *testing.T) {
	if got := pcmRMS(nil); got != 0 {
		t.Fatalf("empty payload should have zero energy, got %f", got)
	}
	if got := pcmRMS([]byte{0x01}); got != 0 {
		t.Fatalf("odd-length payload should have zero energy, got %f", got)
	}
	if got := pcmRMS([]byte{0x00, 0x00, 0x00, 0x00}); got != 0 {
		t.Fatalf("digital silence should have zero energy, got %f", got)
	}
	// A constant half-scale signal has RMS 0.5.
	if got := pcmRMS([]byte{0x00, 0x40, 0x00, 0x40}); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("half-scale RMS = %f, want 0.5", got)
	}
}

package media

import (
	"errors"
	"testing"
	"time"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

func TestAudioTrackIsExclusive(t *testing.T) {
	h := NewHub()

	_, release, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	if _, _, err := h.SubscribeAudio(); !errors.Is(err, ErrTrackBusy) {
		t.Fatalf("second subscription should fail with ErrTrackBusy, got %v", err)
	}

	release()
	_, release2, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("track should be free again after release: %v", err)
	}
	release2()
}

func TestTracksAreIndependent(t *testing.T) {
	h := NewHub()

	_, releaseAudio, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	defer releaseAudio()

	if _, releaseVideo, err := h.SubscribeVideo(); err != nil {
		t.Fatalf("audio claim must not block the video track: %v", err)
	} else {
		releaseVideo()
	}
}

func TestPushDeliversToSubscriber(t *testing.T) {
	h := NewHub()

	frames, release, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	defer release()

	h.PushAudio(AudioFrame{Seq: 7, Data: []byte{1, 2}, At: time.Now()})
	select {
	case f := <-frames:
		if f.Seq != 7 {
			t.Fatalf("wrong frame delivered: %+v", f)
		}
	default:
		t.Fatalf("buffered frame not available")
	}
}

func TestPushWithoutSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.PushAudio(AudioFrame{Seq: i})
			h.PushVideo(model.VideoSample{At: time.Now(), FaceCount: 1, Visible: true})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked without a subscriber")
	}
}

func TestPushDropsWhenSubscriberLags(t *testing.T) {
	h := NewHub()

	frames, release, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	defer release()

	// Fill the buffer and keep pushing: the producer must never stall on a
	// slow consumer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < audioBuffer*3; i++ {
			h.PushAudio(AudioFrame{Seq: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked on a lagging subscriber")
	}

	received := 0
	for {
		select {
		case <-frames:
			received++
			continue
		default:
		}
		break
	}
	if received != audioBuffer {
		t.Fatalf("expected exactly the buffered frames, got %d", received)
	}
}

func TestCloseReleasesSubscribers(t *testing.T) {
	h := NewHub()

	frames, _, err := h.SubscribeAudio()
	if err != nil {
		t.Fatalf("SubscribeAudio: %v", err)
	}
	samples, _, err := h.SubscribeVideo()
	if err != nil {
		t.Fatalf("SubscribeVideo: %v", err)
	}

	h.Close()
	if _, ok := <-frames; ok {
		t.Fatalf("audio channel should be closed")
	}
	if _, ok := <-samples; ok {
		t.Fatalf("video channel should be closed")
	}
	if err := h.Err(); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("closed hub should report ErrFeedClosed, got %v", err)
	}
	if _, _, err := h.SubscribeAudio(); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("subscription after close should fail, got %v", err)
	}
}

func TestCloseWithErrorRecordsCause(t *testing.T) {
	h := NewHub()

	cause := errors.New("microphone acquisition denied")
	h.CloseWithError(cause)
	if err := h.Err(); !errors.Is(err, cause) {
		t.Fatalf("close cause not recorded: %v", err)
	}
	if _, _, err := h.SubscribeVideo(); !errors.Is(err, cause) {
		t.Fatalf("subscription should surface the close cause, got %v", err)
	}

	// A second close must not overwrite the original cause.
	h.CloseWithError(errors.New("later"))
	if err := h.Err(); !errors.Is(err, cause) {
		t.Fatalf("second close overwrote the cause: %v", err)
	}
}

func TestErrNilWhileLive(t *testing.T) {
	h := NewHub()
	if err := h.Err(); err != nil {
		t.Fatalf("live hub should report no error, got %v", err)
	}
}

func TestPushAfterCloseIsIgnored(t *testing.T) {
	h := NewHub()
	h.Close()
	h.PushAudio(AudioFrame{Seq: 1})
	h.PushVideo(model.VideoSample{Visible: true})
}

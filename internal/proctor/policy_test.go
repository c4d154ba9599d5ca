package proctor

import (
	"testing"
	"time"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

func testPolicyConfig() Config {
	return Config{
		SampleInterval:     time.Millisecond,
		FaceAbsentWarn:     3,
		FaceAbsentCritical: 5,
		TabHiddenCritical:  2,
	}
}

func TestFaceAbsenceEscalation(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	var got []model.ProctoringEvent
	for i := 0; i < 6; i++ {
		got = append(got, st.classifyTick(&model.VideoSample{FaceCount: 0, Visible: true})...)
	}

	if len(got) != 2 {
		t.Fatalf("events = %d, want warn then critical", len(got))
	}
	if got[0].Category != model.ProctorFaceAbsent || got[0].Severity != model.SeverityWarning {
		t.Errorf("first event = %s/%s, want face-absent warning", got[0].Category, got[0].Severity)
	}
	if got[1].Category != model.ProctorFaceAbsent || got[1].Severity != model.SeverityCritical {
		t.Errorf("second event = %s/%s, want face-absent critical", got[1].Category, got[1].Severity)
	}
}

func TestFaceReappearanceResetsRun(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	for i := 0; i < 2; i++ {
		if evs := st.classifyTick(&model.VideoSample{FaceCount: 0, Visible: true}); len(evs) != 0 {
			t.Fatalf("premature event after %d absent samples", i+1)
		}
	}
	// Face returns: the absence run starts over.
	st.classifyTick(&model.VideoSample{FaceCount: 1, Visible: true})

	for i := 0; i < 2; i++ {
		if evs := st.classifyTick(&model.VideoSample{FaceCount: 0, Visible: true}); len(evs) != 0 {
			t.Fatalf("event after reset at absent sample %d", i+1)
		}
	}
	evs := st.classifyTick(&model.VideoSample{FaceCount: 0, Visible: true})
	if len(evs) != 1 || evs[0].Severity != model.SeverityWarning {
		t.Fatalf("expected warning on third consecutive absence, got %v", evs)
	}
}

func TestNilSampleCountsAsAbsent(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	var got []model.ProctoringEvent
	for i := 0; i < 3; i++ {
		got = append(got, st.classifyTick(nil)...)
	}
	if len(got) != 1 || got[0].Category != model.ProctorFaceAbsent {
		t.Fatalf("stalled feed did not produce absence warning, got %v", got)
	}
}

func TestTabHiddenIsEdgeTriggered(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	// Staying hidden across several ticks is one occurrence.
	evs := st.classifyTick(&model.VideoSample{FaceCount: 1, Visible: false})
	if len(evs) != 1 || evs[0].Category != model.ProctorTabHidden || evs[0].Severity != model.SeverityWarning {
		t.Fatalf("first hide = %v, want one tab-hidden warning", evs)
	}
	for i := 0; i < 3; i++ {
		if evs := st.classifyTick(&model.VideoSample{FaceCount: 1, Visible: false}); len(evs) != 0 {
			t.Fatalf("continued hiding re-triggered: %v", evs)
		}
	}

	// Back to visible, then hidden again: second occurrence hits the
	// critical threshold.
	st.classifyTick(&model.VideoSample{FaceCount: 1, Visible: true})
	evs = st.classifyTick(&model.VideoSample{FaceCount: 1, Visible: false})
	if len(evs) != 1 || evs[0].Severity != model.SeverityCritical {
		t.Fatalf("second hide = %v, want tab-hidden critical", evs)
	}
}

func TestMultipleFacesIsImmediatelyCritical(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	evs := st.classifyImmediate(model.VideoSample{FaceCount: 2, Visible: true})
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].Category != model.ProctorMultipleFaces || evs[0].Severity != model.SeverityCritical {
		t.Errorf("event = %s/%s, want multiple-faces critical", evs[0].Category, evs[0].Severity)
	}
}

func TestFeedErrorEmitsDeviceErrorOnce(t *testing.T) {
	st := newPolicyState(testPolicyConfig())

	evs := st.classifyImmediate(model.VideoSample{FeedError: "camera disconnected"})
	if len(evs) != 1 || evs[0].Category != model.ProctorDeviceError || evs[0].Severity != model.SeverityCritical {
		t.Fatalf("first feed error = %v, want device-error critical", evs)
	}
	if evs[0].Detail != "camera disconnected" {
		t.Errorf("detail = %q", evs[0].Detail)
	}

	if evs := st.classifyImmediate(model.VideoSample{FeedError: "camera disconnected"}); len(evs) != 0 {
		t.Errorf("repeated feed error re-emitted: %v", evs)
	}
}

package proctor

import (
	"fmt"
	"time"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// policyState carries the rolling-window counters the classification policy
// evaluates against. Counters are per-session, never reset downward except
// where the policy says so (a face reappearing resets the absence run;
// tab-hidden occurrences only ever accumulate).
type policyState struct {
	cfg Config

	absentRun      int
	absentWarned   bool
	absentEscalate bool

	hidden        bool
	hiddenCount   int
	deviceErrored bool
}

func newPolicyState(cfg Config) *policyState {
	return &policyState{cfg: cfg}
}

// classifyImmediate handles signals with no grace window: more than one
// face indicates a different person may be present, and an in-band feed
// error means supervision integrity is gone.
func (st *policyState) classifyImmediate(s model.VideoSample) []model.ProctoringEvent {
	var evs []model.ProctoringEvent

	if s.FeedError != "" && !st.deviceErrored {
		st.deviceErrored = true
		evs = append(evs, event(model.ProctorDeviceError, model.SeverityCritical, s.FeedError))
	}

	if s.FaceCount > 1 {
		evs = append(evs, event(model.ProctorMultipleFaces, model.SeverityCritical,
			fmt.Sprintf("%d faces detected", s.FaceCount)))
	}

	return evs
}

// classifyTick evaluates the windowed signals once per sampling interval.
// A nil sample means nothing arrived since the last tick and counts as an
// absent sample: a stalled feed is indistinguishable from an empty chair.
func (st *policyState) classifyTick(latest *model.VideoSample) []model.ProctoringEvent {
	var evs []model.ProctoringEvent

	if latest == nil || (latest.FaceCount == 0 && latest.FeedError == "") {
		st.absentRun++
		switch {
		case st.absentRun >= st.cfg.FaceAbsentCritical && !st.absentEscalate:
			st.absentEscalate = true
			evs = append(evs, event(model.ProctorFaceAbsent, model.SeverityCritical,
				fmt.Sprintf("no face for %d consecutive samples", st.absentRun)))
		case st.absentRun >= st.cfg.FaceAbsentWarn && !st.absentWarned:
			st.absentWarned = true
			evs = append(evs, event(model.ProctorFaceAbsent, model.SeverityWarning,
				fmt.Sprintf("no face for %d consecutive samples", st.absentRun)))
		}
	} else if latest.FaceCount > 0 {
		st.absentRun = 0
		st.absentWarned = false
		st.absentEscalate = false
	}

	if latest != nil {
		if !latest.Visible && !st.hidden {
			// Edge-triggered: each transition into hidden is one occurrence.
			st.hidden = true
			st.hiddenCount++
			sev := model.SeverityWarning
			if st.hiddenCount >= st.cfg.TabHiddenCritical {
				sev = model.SeverityCritical
			}
			evs = append(evs, event(model.ProctorTabHidden, sev,
				fmt.Sprintf("occurrence %d", st.hiddenCount)))
		} else if latest.Visible {
			st.hidden = false
		}
	}

	return evs
}

func event(cat model.ProctorCategory, sev model.ProctorSeverity, detail string) model.ProctoringEvent {
	return model.ProctoringEvent{
		At:       time.Now(),
		Category: cat,
		Severity: sev,
		Detail:   detail,
	}
}

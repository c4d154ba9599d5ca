package summary

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

func sampleSession() *model.Session {
	sealed := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	return &model.Session{
		ID:         uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		UpstreamID: "up-77",
		Questions: []model.Question{
			{ID: "q1", Ordinal: 1},
			{ID: "q2", Ordinal: 2},
			{ID: "q3", Ordinal: 3},
			{ID: "q4", Ordinal: 4},
		},
		Reason: model.ReasonCompleted,
		// Deliberately out of order to exercise the sort.
		Turns: []model.Turn{
			{QuestionID: "q3", Ordinal: 3, Outcome: model.OutcomeSkipped, SealedAt: &sealed},
			{QuestionID: "q1", Ordinal: 1, Outcome: model.OutcomeAnswered, Transcript: "shipped the parser", Duration: 12 * time.Second, SealedAt: &sealed},
			{QuestionID: "q2", Ordinal: 2, Outcome: model.OutcomeAnswered, SubmitFailed: true, Duration: 8 * time.Second, SealedAt: &sealed},
			{QuestionID: "q4", Ordinal: 4, Outcome: model.OutcomeTimedOut, SealedAt: &sealed},
		},
		Events: []model.ProctoringEvent{
			{Category: model.ProctorFaceAbsent, Severity: model.SeverityWarning},
			{Category: model.ProctorTabHidden, Severity: model.SeverityWarning},
			{Category: model.ProctorMultipleFaces, Severity: model.SeverityCritical},
		},
	}
}

func TestBuildOrdersTurnsByOrdinal(t *testing.T) {
	report := Build(sampleSession())

	if len(report.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(report.Turns))
	}
	for i, ts := range report.Turns {
		if ts.Ordinal != i+1 {
			t.Errorf("position %d has ordinal %d", i, ts.Ordinal)
		}
	}
	if report.Turns[0].Transcript != "shipped the parser" {
		t.Errorf("turn 1 transcript = %q", report.Turns[0].Transcript)
	}
	if !report.Turns[1].SubmitFailed {
		t.Error("turn 2 lost its submit-failed flag")
	}
}

func TestBuildAggregates(t *testing.T) {
	report := Build(sampleSession())

	if report.Source != model.SummaryFromLocal {
		t.Errorf("source = %s, want %s", report.Source, model.SummaryFromLocal)
	}
	if report.SessionID != "up-77" {
		t.Errorf("session id = %q, want upstream id", report.SessionID)
	}
	// 2 of 4 questions answered.
	if report.CompletionRate != 0.5 {
		t.Errorf("completion rate = %v, want 0.5", report.CompletionRate)
	}
	if report.WarningCount != 2 {
		t.Errorf("warnings = %d, want 2", report.WarningCount)
	}
	if report.CriticalCount != 1 {
		t.Errorf("criticals = %d, want 1", report.CriticalCount)
	}
	if report.Reason != model.ReasonCompleted {
		t.Errorf("reason = %s, want %s", report.Reason, model.ReasonCompleted)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := Build(sampleSession())
	b := Build(sampleSession())
	if !reflect.DeepEqual(a, b) {
		t.Error("identical sessions produced different reports")
	}
}

func TestBuildEmptySession(t *testing.T) {
	report := Build(&model.Session{Reason: model.ReasonStartFailed})

	if report.CompletionRate != 0 {
		t.Errorf("completion rate = %v, want 0", report.CompletionRate)
	}
	if len(report.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(report.Turns))
	}
	if report.Reason != model.ReasonStartFailed {
		t.Errorf("reason = %s", report.Reason)
	}
}

func TestBuildMarksDegradedOnPendingTurn(t *testing.T) {
	sess := sampleSession()
	if report := Build(sess); !report.Degraded {
		t.Error("report not degraded despite a submit-failed turn")
	}

	for i := range sess.Turns {
		sess.Turns[i].SubmitFailed = false
	}
	if report := Build(sess); report.Degraded {
		t.Error("report degraded with every turn delivered")
	}
}

func TestBuildDoesNotMutateSession(t *testing.T) {
	sess := sampleSession()
	Build(sess)
	if sess.Turns[0].Ordinal != 3 {
		t.Error("builder reordered the session's own turn log")
	}
}

// Package summary derives a SummaryReport from a session's accumulated
// turn and proctoring logs. It is the fallback when the authoritative
// server summary is unreachable, and the client-side preview before server
// confirmation — so it must be a pure, deterministic function of its input.
package summary

import (
	"sort"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// Build assembles a local SummaryReport. Identical inputs produce identical
// reports: turns are emitted in ordinal order and no clock or randomness is
// consulted.
func Build(sess *model.Session) *model.SummaryReport {
	turns := append([]model.Turn(nil), sess.Turns...)
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Ordinal < turns[j].Ordinal })

	report := &model.SummaryReport{
		SessionID: sess.UpstreamID,
		Source:    model.SummaryFromLocal,
		Turns:     make([]model.TurnSummary, 0, len(turns)),
		Reason:    sess.Reason,
	}

	answered := 0
	for _, t := range turns {
		report.Turns = append(report.Turns, model.TurnSummary{
			Ordinal:      t.Ordinal,
			QuestionID:   t.QuestionID,
			Outcome:      t.Outcome,
			SubmitFailed: t.SubmitFailed,
			Transcript:   t.Transcript,
			Duration:     t.Duration,
			Score:        t.Score,
		})
		if t.Outcome == model.OutcomeAnswered {
			answered++
		}
		if t.SubmitFailed {
			report.Degraded = true
		}
	}

	if n := len(sess.Questions); n > 0 {
		report.CompletionRate = float64(answered) / float64(n)
	}

	for _, ev := range sess.Events {
		switch ev.Severity {
		case model.SeverityWarning:
			report.WarningCount++
		case model.SeverityCritical:
			report.CriticalCount++
		}
	}

	return report
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// SessionRecord is the archived view of a finished session, as listed to
// operators.
type SessionRecord struct {
	ID             uuid.UUID               `json:"id"`
	UpstreamID     string                  `json:"upstream_id"`
	ParticipantID  int                     `json:"participant_id"`
	Reason         model.TerminationReason `json:"reason"`
	SummarySource  model.SummarySource     `json:"summary_source"`
	CompletionRate float64                 `json:"completion_rate"`
	WarningCount   int                     `json:"warning_count"`
	CriticalCount  int                     `json:"critical_count"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     *time.Time              `json:"finished_at"`
}

// SessionRepository handles archived standup session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Archive persists a terminated session and its sealed turns in one
// transaction. Called exactly once per session, after termination.
func (r *SessionRepository) Archive(ctx context.Context, sess *model.Session, report *model.SummaryReport) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO standup_sessions
		 (id, upstream_id, participant_id, reason, summary_source,
		  completion_rate, warning_count, critical_count, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.UpstreamID, sess.ParticipantID, sess.Reason, report.Source,
		report.CompletionRate, report.WarningCount, report.CriticalCount,
		sess.StartedAt, sess.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, t := range sess.Turns {
		_, err = tx.Exec(ctx,
			`INSERT INTO standup_turns
			 (session_id, ordinal, question_id, outcome, transcript,
			  duration_ms, submit_failed, score, audio_ref, started_at, sealed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sess.ID, t.Ordinal, t.QuestionID, t.Outcome, t.Transcript,
			t.Duration.Milliseconds(), t.SubmitFailed, t.Score, t.AudioRef, t.StartedAt, t.SealedAt,
		)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Ordinal, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves one archived session header.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, upstream_id, participant_id, reason, summary_source,
		        completion_rate, warning_count, critical_count, started_at, finished_at
		 FROM standup_sessions
		 WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UpstreamID, &rec.ParticipantID, &rec.Reason, &rec.SummarySource,
		&rec.CompletionRate, &rec.WarningCount, &rec.CriticalCount, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetSummary reconstructs the final summary report of an archived session
// from its session and turn rows.
func (r *SessionRepository) GetSummary(ctx context.Context, id uuid.UUID) (*model.SummaryReport, error) {
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT ordinal, question_id, outcome, transcript, duration_ms, submit_failed, score
		 FROM standup_turns
		 WHERE session_id = $1
		 ORDER BY ordinal ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &model.SummaryReport{
		SessionID:      rec.ID.String(),
		Source:         rec.SummarySource,
		CompletionRate: rec.CompletionRate,
		WarningCount:   rec.WarningCount,
		CriticalCount:  rec.CriticalCount,
		Reason:         rec.Reason,
	}

	for rows.Next() {
		var ts model.TurnSummary
		var durationMs int64
		if err := rows.Scan(&ts.Ordinal, &ts.QuestionID, &ts.Outcome, &ts.Transcript,
			&durationMs, &ts.SubmitFailed, &ts.Score); err != nil {
			return nil, err
		}
		ts.Duration = time.Duration(durationMs) * time.Millisecond
		if ts.SubmitFailed {
			report.Degraded = true
		}
		report.Turns = append(report.Turns, ts)
	}
	return report, rows.Err()
}

// ListByParticipant retrieves archived sessions for one participant, newest
// first.
func (r *SessionRepository) ListByParticipant(ctx context.Context, participantID int) ([]SessionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, upstream_id, participant_id, reason, summary_source,
		        completion_rate, warning_count, critical_count, started_at, finished_at
		 FROM standup_sessions
		 WHERE participant_id = $1
		 ORDER BY started_at DESC`, participantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessionRecords(rows)
}

// ListRecent retrieves archived sessions across all participants with
// pagination, newest first.
func (r *SessionRepository) ListRecent(ctx context.Context, page, perPage int) ([]SessionRecord, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM standup_sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx,
		`SELECT id, upstream_id, participant_id, reason, summary_source,
		        completion_rate, warning_count, critical_count, started_at, finished_at
		 FROM standup_sessions
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := scanSessionRecords(rows)
	return records, total, err
}

// ReconcileTurn updates an archived turn after a deferred upstream
// submission finally succeeded.
func (r *SessionRepository) ReconcileTurn(ctx context.Context, sessionID uuid.UUID, ordinal int, transcript string, score *float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE standup_turns
		 SET submit_failed = FALSE, transcript = $1, score = $2
		 WHERE session_id = $3 AND ordinal = $4`,
		transcript, score, sessionID, ordinal)
	return err
}

func scanSessionRecords(rows pgx.Rows) ([]SessionRecord, error) {
	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.UpstreamID, &rec.ParticipantID, &rec.Reason, &rec.SummarySource,
			&rec.CompletionRate, &rec.WarningCount, &rec.CriticalCount, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

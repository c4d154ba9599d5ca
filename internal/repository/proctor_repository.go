package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// ViolationCount aggregates proctoring events for one session by category
// and severity.
type ViolationCount struct {
	Category model.ProctorCategory `json:"category"`
	Severity model.ProctorSeverity `json:"severity"`
	Count    int                   `json:"count"`
}

// ProctorRepository handles persisted proctoring event data access.
// Writes go through the persistence worker; this repository only reads.
type ProctorRepository struct {
	pool *pgxpool.Pool
}

// NewProctorRepository creates a new ProctorRepository.
func NewProctorRepository(pool *pgxpool.Pool) *ProctorRepository {
	return &ProctorRepository{pool: pool}
}

// GetViolationCounts returns per-category, per-severity event tallies for
// one session.
func (r *ProctorRepository) GetViolationCounts(ctx context.Context, sessionID uuid.UUID) ([]ViolationCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT category, severity, COUNT(*)
		 FROM proctoring_events
		 WHERE session_id = $1
		 GROUP BY category, severity
		 ORDER BY category, severity`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ViolationCount
	for rows.Next() {
		var vc ViolationCount
		if err := rows.Scan(&vc.Category, &vc.Severity, &vc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, vc)
	}
	return counts, rows.Err()
}

// ListEvents returns the raw event log for one session in recorded order.
func (r *ProctorRepository) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]model.ProctoringEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT recorded_at, category, severity, detail
		 FROM proctoring_events
		 WHERE session_id = $1
		 ORDER BY recorded_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProctoringEvent
	for rows.Next() {
		var ev model.ProctoringEvent
		if err := rows.Scan(&ev.At, &ev.Category, &ev.Severity, &ev.Detail); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

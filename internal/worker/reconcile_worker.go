package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/repository"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/upstream"
)

// ReconcileTurnPayload is the queue message for one submit-failed turn.
// The raw audio rides along base64-encoded because the archive keeps only
// a reference, not the bytes.
type ReconcileTurnPayload struct {
	SessionID  string            `json:"session_id"`
	UpstreamID string            `json:"upstream_id"`
	Ordinal    int               `json:"ordinal"`
	QuestionID string            `json:"question_id"`
	Outcome    model.TurnOutcome `json:"outcome"`
	DurationMs int64             `json:"duration_ms"`
	Audio      string            `json:"audio,omitempty"`
	AudioRef   string            `json:"audio_ref,omitempty"`
}

// ReconcileWorker retries upstream submission for turns whose in-session
// retry budget was exhausted. Rejections are final; network failures are
// requeued until the upstream recovers.
type ReconcileWorker struct {
	sessionRepo *repository.SessionRepository
	rdb         *redis.Client
	api         upstream.Client
	log         zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker.
func NewReconcileWorker(sessionRepo *repository.SessionRepository, rdb *redis.Client, api upstream.Client, log zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		sessionRepo: sessionRepo,
		rdb:         rdb,
		api:         api,
		log:         log.With().Str("component", "reconcile_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ReconcileWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.ReconcileTurnsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload ReconcileTurnPayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.reconcile(ctx, &payload); err != nil {
		if upstream.IsRejected(err) {
			// The upstream will never accept this turn. Drop it; the
			// archived row keeps submit_failed = TRUE.
			w.log.Warn().Err(err).
				Str("session_id", payload.SessionID).
				Int("ordinal", payload.Ordinal).
				Msg("Turn rejected by upstream, dropping")
			return
		}

		w.log.Error().Err(err).
			Str("session_id", payload.SessionID).
			Int("ordinal", payload.Ordinal).
			Msg("Reconcile error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.ReconcileTurnsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ReconcileWorker) reconcile(ctx context.Context, p *ReconcileTurnPayload) error {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", p.SessionID).Msg("Dropping payload with invalid UUID")
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(p.Audio)
	if err != nil {
		w.log.Error().Str("session_id", p.SessionID).Msg("Dropping payload with invalid audio encoding")
		return nil
	}

	turn := &model.Turn{
		QuestionID: p.QuestionID,
		Ordinal:    p.Ordinal,
		Audio:      audio,
		AudioRef:   p.AudioRef,
		Duration:   time.Duration(p.DurationMs) * time.Millisecond,
		Outcome:    p.Outcome,
	}

	ack, err := w.api.SubmitTurn(ctx, p.UpstreamID, turn)
	if err != nil {
		return err
	}

	if err := w.sessionRepo.ReconcileTurn(ctx, sessionID, p.Ordinal, ack.Transcript, ack.Score); err != nil {
		// The upstream accepted the turn; only the local mirror is stale.
		// Do not requeue, or the upstream would see a duplicate.
		w.log.Error().Err(err).
			Str("session_id", p.SessionID).
			Int("ordinal", p.Ordinal).
			Msg("Turn reconciled upstream but archive update failed")
	}
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *ReconcileWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.ReconcileTurnsQueue).Result()
		if err != nil {
			break
		}

		var payload ReconcileTurnPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.reconcile(ctx, &payload); err != nil {
			if upstream.IsRejected(err) {
				continue
			}
			w.log.Error().Err(err).Msg("Drain reconcile error")
			w.rdb.RPush(ctx, config.WorkerKey.ReconcileTurnsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

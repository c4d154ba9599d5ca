package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/audio"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/media"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/proctor"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/repository"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/session"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/summary"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/upstream"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/worker"
)

var (
	ErrSessionAlreadyActive = errors.New("participant already has an active standup session")
	ErrSessionNotFound      = errors.New("standup session not found")
	ErrNotSessionOwner      = errors.New("session belongs to another participant")
	ErrStreamAttached       = errors.New("a device stream is already attached")
	ErrSummaryNotReady      = errors.New("session has not produced a summary yet")
)

// attachTimeout evicts sessions whose device never connected.
const attachTimeout = 10 * time.Minute

// activeKeyTTL bounds the Redis one-active-session guard so a crashed
// gateway cannot lock a participant out forever.
const activeKeyTTL = 2 * time.Hour

// liveSession is one in-flight session and its device plumbing.
type liveSession struct {
	ctrl     *session.Controller
	hub      *media.Hub
	link     *linkRelay
	attached bool
}

// StandupService owns the registry of live sessions and the archival path
// for finished ones.
type StandupService struct {
	cfg         *config.Config
	sessionRepo *repository.SessionRepository
	rdb         *redis.Client
	api         upstream.Client
	log         zerolog.Logger

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStandupService creates a new StandupService.
func NewStandupService(cfg *config.Config, sessionRepo *repository.SessionRepository, rdb *redis.Client, api upstream.Client, log zerolog.Logger) *StandupService {
	ctx, cancel := context.WithCancel(context.Background())
	return &StandupService{
		cfg:         cfg,
		sessionRepo: sessionRepo,
		rdb:         rdb,
		api:         api,
		log:         log.With().Str("component", "standup_service").Logger(),
		live:        make(map[uuid.UUID]*liveSession),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Shutdown cancels every live session and waits for none; controllers
// finish their own abort paths on the cancelled context.
func (s *StandupService) Shutdown() {
	s.cancel()
}

// CreateSession opens a session slot for a participant. The controller is
// built immediately but only starts once the device stream attaches.
// At most one active session per participant is allowed.
func (s *StandupService) CreateSession(ctx context.Context, participantID int, req *model.CreateSessionRequest) (*model.Session, error) {
	key := config.CacheKey.ParticipantActiveSessionKey(participantID)

	hub := media.NewHub()
	link := newLinkRelay()
	pipeline := audio.NewPipeline(link, hub, audio.Config{
		SilenceWindow:    s.cfg.VADSilenceWindow,
		EnergyThreshold:  s.cfg.VADEnergyThreshold,
		PromptAckTimeout: s.cfg.PromptAckTimeout,
	}, s.log)
	monitor := proctor.NewMonitor(hub, proctor.Config{
		SampleInterval:     s.cfg.ProctorSampleInterval,
		FaceAbsentWarn:     s.cfg.FaceAbsentWarn,
		FaceAbsentCritical: s.cfg.FaceAbsentCritical,
		TabHiddenCritical:  s.cfg.TabHiddenCritical,
	}, s.log)
	ctrl := session.New(req.StandupID, participantID, s.api, pipeline, monitor, session.Options{
		StartAttempts:  s.cfg.StartAttempts,
		SubmitAttempts: s.cfg.SubmitAttempts,
		RetryBase:      s.cfg.RetryBase,
		QuestionLimit:  s.cfg.QuestionLimit,
	}, s.log)

	// One active session per participant, enforced through Redis so the
	// guard survives gateway restarts.
	ok, err := s.rdb.SetNX(ctx, key, ctrl.ID().String(), activeKeyTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionAlreadyActive
	}

	entry := &liveSession{ctrl: ctrl, hub: hub, link: link}

	s.mu.Lock()
	s.live[ctrl.ID()] = entry
	s.mu.Unlock()

	// Evict the slot if no device ever attaches.
	id := ctrl.ID()
	time.AfterFunc(attachTimeout, func() {
		s.mu.Lock()
		e, exists := s.live[id]
		stale := exists && !e.attached
		s.mu.Unlock()
		if stale {
			s.log.Warn().Str("session_id", id.String()).Msg("No device attached, evicting session slot")
			s.evict(id, participantID)
		}
	})

	s.log.Info().
		Str("session_id", ctrl.ID().String()).
		Int("participant_id", participantID).
		Str("standup_id", req.StandupID).
		Msg("Session slot created")

	return ctrl.Snapshot(), nil
}

// Attach binds the device's WebSocket link to a pending session and starts
// the controller. Exactly one stream may attach per session.
func (s *StandupService) Attach(sessionID uuid.UUID, participantID int, link audio.Link) (*session.Controller, *media.Hub, error) {
	s.mu.Lock()
	entry, exists := s.live[sessionID]
	if !exists {
		s.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	if entry.ctrl.Snapshot().ParticipantID != participantID {
		s.mu.Unlock()
		return nil, nil, ErrNotSessionOwner
	}
	if entry.attached {
		s.mu.Unlock()
		return nil, nil, ErrStreamAttached
	}
	entry.attached = true
	s.mu.Unlock()

	entry.link.bind(link)

	if err := entry.ctrl.Start(s.ctx); err != nil {
		return nil, nil, err
	}

	go s.finalize(entry, participantID)

	return entry.ctrl, entry.hub, nil
}

// Get returns a live session snapshot.
func (s *StandupService) Get(sessionID uuid.UUID, participantID int) (*model.Session, error) {
	s.mu.Lock()
	entry, exists := s.live[sessionID]
	s.mu.Unlock()

	if !exists {
		return nil, ErrSessionNotFound
	}
	snap := entry.ctrl.Snapshot()
	if snap.ParticipantID != participantID {
		return nil, ErrNotSessionOwner
	}
	return snap, nil
}

// Cancel requests a user-initiated abort of a live session.
func (s *StandupService) Cancel(sessionID uuid.UUID, participantID int) error {
	s.mu.Lock()
	entry, exists := s.live[sessionID]
	s.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}
	if entry.ctrl.Snapshot().ParticipantID != participantID {
		return ErrNotSessionOwner
	}
	return entry.ctrl.Cancel()
}

// Summary returns the final report for a session: from the live controller
// if it just terminated, otherwise from the archive.
func (s *StandupService) Summary(ctx context.Context, sessionID uuid.UUID, participantID int) (*model.SummaryReport, error) {
	s.mu.Lock()
	entry, exists := s.live[sessionID]
	s.mu.Unlock()

	if exists {
		snap := entry.ctrl.Snapshot()
		if snap.ParticipantID != participantID {
			return nil, ErrNotSessionOwner
		}
		if report := entry.ctrl.Report(); report != nil {
			return report, nil
		}
		return nil, ErrSummaryNotReady
	}

	rec, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if rec.ParticipantID != participantID {
		return nil, ErrNotSessionOwner
	}
	return s.sessionRepo.GetSummary(ctx, sessionID)
}

// ArchivedSummary returns the stored report without an ownership check.
// Operator endpoints use it.
func (s *StandupService) ArchivedSummary(ctx context.Context, sessionID uuid.UUID) (*model.SummaryReport, error) {
	return s.sessionRepo.GetSummary(ctx, sessionID)
}

// ListRecent pages through archived sessions for operators.
func (s *StandupService) ListRecent(ctx context.Context, page, perPage int) ([]repository.SessionRecord, int64, error) {
	return s.sessionRepo.ListRecent(ctx, page, perPage)
}

// finalize waits for a controller to terminate, archives the session, and
// hands deferred work to the background queues.
func (s *StandupService) finalize(entry *liveSession, participantID int) {
	<-entry.ctrl.Done()

	// The controller is done; nothing else writes the session now.
	snap := entry.ctrl.Snapshot()
	report := entry.ctrl.Report()
	if report == nil {
		report = summary.Build(snap)
	}

	// Outlive the service context: archival must survive shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	log := s.log.With().Str("session_id", snap.ID.String()).Logger()

	if err := s.sessionRepo.Archive(ctx, snap, report); err != nil {
		log.Error().Err(err).Msg("Failed to archive session")
	}

	s.queueProctorEvents(ctx, snap)
	s.queueFailedTurns(ctx, snap)
	s.announceTermination(ctx, snap, report)

	s.evict(snap.ID, participantID)

	log.Info().
		Str("reason", string(snap.Reason)).
		Int("turns", len(snap.Turns)).
		Msg("Session finalized")
}

// queueProctorEvents pushes the session's proctoring log to the
// persistence queue consumed by the proctor worker.
func (s *StandupService) queueProctorEvents(ctx context.Context, snap *model.Session) {
	if len(snap.Events) == 0 {
		return
	}

	pipe := s.rdb.Pipeline()
	for _, ev := range snap.Events {
		data, _ := json.Marshal(worker.ProctorEventPayload{
			SessionID: snap.ID.String(),
			At:        ev.At.UnixMilli(),
			Category:  ev.Category,
			Severity:  ev.Severity,
			Detail:    ev.Detail,
		})
		pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("session_id", snap.ID.String()).Msg("Failed to queue proctoring events")
	}
}

// queueFailedTurns pushes submit-failed turns to the reconcile queue so
// they are retried against the upstream after the session is gone.
func (s *StandupService) queueFailedTurns(ctx context.Context, snap *model.Session) {
	pipe := s.rdb.Pipeline()
	queued := 0
	for _, t := range snap.Turns {
		if !t.SubmitFailed {
			continue
		}
		data, _ := json.Marshal(worker.ReconcileTurnPayload{
			SessionID:  snap.ID.String(),
			UpstreamID: snap.UpstreamID,
			Ordinal:    t.Ordinal,
			QuestionID: t.QuestionID,
			Outcome:    t.Outcome,
			DurationMs: t.Duration.Milliseconds(),
			Audio:      base64.StdEncoding.EncodeToString(t.Audio),
			AudioRef:   t.AudioRef,
		})
		pipe.RPush(ctx, config.WorkerKey.ReconcileTurnsQueue, data)
		queued++
	}
	if queued == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("session_id", snap.ID.String()).Msg("Failed to queue submit-failed turns")
	}
}

// announceTermination publishes the final report on the session's PubSub
// channel for operator dashboards.
func (s *StandupService) announceTermination(ctx context.Context, snap *model.Session, report *model.SummaryReport) {
	data, _ := json.Marshal(report)
	channel := config.CacheKey.SessionEventsChannel(snap.ID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", snap.ID.String()).Msg("Failed to announce termination")
	}
}

// evict removes a session from the live registry and releases its
// one-active guard.
func (s *StandupService) evict(sessionID uuid.UUID, participantID int) {
	s.mu.Lock()
	entry, exists := s.live[sessionID]
	delete(s.live, sessionID)
	s.mu.Unlock()

	if exists {
		entry.hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key := config.CacheKey.ParticipantActiveSessionKey(participantID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Warn().Err(err).Int("participant_id", participantID).Msg("Failed to release active-session key")
	}
}

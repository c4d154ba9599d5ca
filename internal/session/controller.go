// Package session implements the standup session state machine:
//
//	Idle → Initializing → AwaitingPrompt → Capturing → Submitting →
//	(AwaitingPrompt | Completing); any state → Aborting → Terminated
//
// One goroutine owns all session state. Every suspension point (network
// round-trip, prompt playback, answer capture, backoff wait) is a select
// that also watches the proctoring stream and the cancellation context, so
// a critical violation or an explicit cancel takes effect within one
// scheduling step regardless of what the controller is waiting on.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/audio"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/summary"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/upstream"
)

// TurnPipeline is the audio turn-taking collaborator (see internal/audio).
type TurnPipeline interface {
	PlayPrompt(ctx context.Context, q model.Question) error
	CaptureAnswer(ctx context.Context) (*audio.Capture, error)
}

// ProctorSource is the supervision collaborator (see internal/proctor).
// It emits events only; termination policy lives here.
type ProctorSource interface {
	Attach(ctx context.Context) (<-chan model.ProctoringEvent, error)
	Detach()
}

// Options are the controller's tuning knobs. Zero values get defaults.
type Options struct {
	StartAttempts      int           // bounded retries for session start
	SubmitAttempts     int           // bounded retries per turn submission
	SummaryAttempts    int           // bounded retries for the server summary
	RetryBase          time.Duration // backoff base, doubled per attempt
	QuestionLimit      time.Duration // default per-question capture limit
	AbortSubmitTimeout time.Duration // best-effort submit window during abort
}

func (o Options) withDefaults() Options {
	if o.StartAttempts <= 0 {
		o.StartAttempts = 3
	}
	if o.SubmitAttempts <= 0 {
		o.SubmitAttempts = 3
	}
	if o.SummaryAttempts <= 0 {
		o.SummaryAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.QuestionLimit <= 0 {
		o.QuestionLimit = 30 * time.Second
	}
	if o.AbortSubmitTimeout <= 0 {
		o.AbortSubmitTimeout = 2 * time.Second
	}
	return o
}

// userOp is a presentation-layer signal into the running turn loop.
type userOp int

const (
	opSubmit userOp = iota // end capture now, seal as answered
	opSkip                 // seal current turn as skipped
)

// interrupt records why the turn loop must divert to Aborting.
type interrupt struct {
	reason model.TerminationReason
}

// Controller drives one participant's standup session.
type Controller struct {
	standupID string
	api       upstream.Client
	pipeline  TurnPipeline
	monitor   ProctorSource
	opts      Options
	log       zerolog.Logger

	mu           sync.Mutex
	sess         *model.Session
	report       *model.SummaryReport
	cancelReason model.TerminationReason

	events    chan Event
	userCh    chan userOp
	runCancel context.CancelFunc
	done      chan struct{}
}

// New creates a controller in Idle holding an unstarted session.
func New(standupID string, participantID int, api upstream.Client, pipeline TurnPipeline, monitor ProctorSource, opts Options, log zerolog.Logger) *Controller {
	id := uuid.New()
	return &Controller{
		standupID: standupID,
		api:       api,
		pipeline:  pipeline,
		monitor:   monitor,
		opts:      opts.withDefaults(),
		log: log.With().
			Str("component", "session_controller").
			Str("session_id", id.String()).
			Logger(),
		sess: &model.Session{
			ID:            id,
			ParticipantID: participantID,
			State:         model.StateIdle,
		},
		events: make(chan Event, 64),
		userCh: make(chan userOp, 4),
		done:   make(chan struct{}),
	}
}

// ID returns the routable local session identifier.
func (c *Controller) ID() uuid.UUID { return c.sess.ID }

// Events returns the lifecycle stream. Closed after termination.
func (c *Controller) Events() <-chan Event { return c.events }

// Done closes once the session has terminated and the final report exists.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State
}

// Snapshot returns a deep copy of the session safe for concurrent readers.
func (c *Controller) Snapshot() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Clone()
}

// Report returns the final report, or nil before termination.
func (c *Controller) Report() *model.SummaryReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Start begins the session. Valid only in Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.State != model.StateIdle {
		defer c.mu.Unlock()
		return &InvalidStateTransitionError{Op: "start", From: c.sess.State}
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.sess.State = model.StateInitializing
	c.mu.Unlock()

	c.publish(Event{Type: EventStateChanged, State: model.StateInitializing})
	go c.run(runCtx)
	return nil
}

// Submit ends the current capture early, sealing the turn as answered.
// Valid only while Capturing.
func (c *Controller) Submit() error {
	if err := c.requireState("submit", model.StateCapturing); err != nil {
		return err
	}
	c.signal(opSubmit)
	return nil
}

// Skip seals the current turn as skipped. Valid while the prompt plays or
// the answer is being captured.
func (c *Controller) Skip() error {
	if err := c.requireState("skip", model.StateAwaitingPrompt, model.StateCapturing); err != nil {
		return err
	}
	c.signal(opSkip)
	return nil
}

// Cancel aborts the session with reason user-cancelled. Valid in any
// non-terminal state after Start.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	st := c.sess.State
	if st == model.StateIdle || st.Terminal() {
		c.mu.Unlock()
		return &InvalidStateTransitionError{Op: "cancel", From: st}
	}
	if c.cancelReason == "" {
		c.cancelReason = model.ReasonUserCancelled
	}
	cancel := c.runCancel
	c.mu.Unlock()
	cancel()
	return nil
}

func (c *Controller) requireState(op string, valid ...model.SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range valid {
		if c.sess.State == s {
			return nil
		}
	}
	return &InvalidStateTransitionError{Op: op, From: c.sess.State}
}

func (c *Controller) signal(op userOp) {
	select {
	case c.userCh <- op:
	default:
		// The loop is between suspension points; the state check above
		// already raced. Dropping is safe — the user can re-issue.
	}
}

// ─── Run loop ──────────────────────────────────────────────────────

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	// Initializing: no proctoring stream yet, so suspension points here
	// watch only the context.
	start, intr := c.startWithRetry(ctx)
	if intr != nil {
		if intr.reason == model.ReasonStartFailed {
			// Start exhaustion/rejection terminates directly; there is
			// nothing to abort.
			c.terminate(intr.reason, nil)
		} else {
			c.abort(*intr, nil, nil)
		}
		return
	}

	c.mu.Lock()
	c.sess.UpstreamID = start.SessionID
	c.sess.Questions = start.Questions
	c.sess.StartedAt = time.Now()
	if start.QuestionLimitSeconds > 0 {
		c.sess.QuestionLimit = time.Duration(start.QuestionLimitSeconds) * time.Second
	} else {
		c.sess.QuestionLimit = c.opts.QuestionLimit
	}
	questions := append([]model.Question(nil), c.sess.Questions...)
	limit := c.sess.QuestionLimit
	c.mu.Unlock()

	c.log.Info().
		Str("upstream_id", start.SessionID).
		Int("questions", len(questions)).
		Msg("Session initialized")

	proctorCh, err := c.monitor.Attach(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Proctoring attach failed")
		c.abort(interrupt{reason: model.ReasonDeviceError}, nil, nil)
		return
	}
	defer c.monitor.Detach()

	for i := 0; i < len(questions); i++ {
		q := questions[i]
		turn := c.openTurn(q)

		sealed, intr := c.runTurn(ctx, proctorCh, q, turn, q.AnswerLimit(limit))
		if intr != nil {
			c.abort(*intr, turn, sealed)
			return
		}

		if intr := c.submitWithRetry(ctx, proctorCh, turn); intr != nil {
			// Sealed but not yet acked upstream; abort re-attempts it
			// best-effort and otherwise leaves it for reconciliation.
			c.abort(*intr, turn, nil)
			return
		}

		c.mu.Lock()
		c.sess.TurnIndex = i + 1
		c.mu.Unlock()
	}

	c.complete(ctx, proctorCh)
}

// startWithRetry performs the upstream start with bounded exponential
// backoff. One idempotency token spans all attempts so a lost response
// resolves to the same server-side session.
func (c *Controller) startWithRetry(ctx context.Context) (*upstream.StartResult, *interrupt) {
	token := uuid.New().String()
	participantID := c.sess.ParticipantID

	var lastErr error
	for attempt := 0; attempt < c.opts.StartAttempts; attempt++ {
		if attempt > 0 {
			if intr := c.backoff(ctx, nil, attempt-1); intr != nil {
				return nil, intr
			}
		}
		res, intr, err := await(c, ctx, nil, func(opCtx context.Context) (*upstream.StartResult, error) {
			return c.api.StartSession(opCtx, c.standupID, participantID, token)
		})
		if intr != nil {
			return nil, intr
		}
		if err == nil {
			return res, nil
		}
		if upstream.IsRejected(err) {
			c.log.Warn().Err(err).Msg("Session start rejected")
			return nil, &interrupt{reason: model.ReasonStartFailed}
		}
		lastErr = err
		c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Session start failed, will retry")
	}
	c.log.Error().Err(lastErr).Msg("Session start retries exhausted")
	return nil, &interrupt{reason: model.ReasonStartFailed}
}

// runTurn drives AwaitingPrompt and Capturing for one question and seals
// the turn. Returns the capture (possibly partial) and a non-nil interrupt
// when the session must abort; in that case the turn is left unsealed for
// abort to seal.
func (c *Controller) runTurn(ctx context.Context, proctorCh <-chan model.ProctoringEvent, q model.Question, turn *model.Turn, limit time.Duration) (*audio.Capture, *interrupt) {
	// ── AwaitingPrompt ──
	c.setState(model.StateAwaitingPrompt)

	promptCtx, promptCancel := context.WithCancel(ctx)
	defer promptCancel()
	promptDone := make(chan error, 1)
	go func() { promptDone <- c.pipeline.PlayPrompt(promptCtx, q) }()

	for waiting := true; waiting; {
		select {
		case err := <-promptDone:
			promptCancel()
			if err != nil {
				if errors.Is(err, audio.ErrDevice) {
					return nil, &interrupt{reason: model.ReasonDeviceError}
				}
				if ctx.Err() != nil {
					return nil, &interrupt{reason: c.cancelledReason()}
				}
				c.log.Warn().Err(err).Str("question_id", q.ID).Msg("Prompt playback failed, capturing anyway")
			}
			waiting = false
		case ev := <-proctorCh:
			if intr := c.noteProctor(ev); intr != nil {
				promptCancel()
				<-promptDone
				return nil, intr
			}
		case op := <-c.userCh:
			if op == opSkip {
				promptCancel()
				<-promptDone
				c.seal(turn, model.OutcomeSkipped, nil)
				return nil, nil
			}
		case <-ctx.Done():
			promptCancel()
			<-promptDone
			return nil, &interrupt{reason: c.cancelledReason()}
		}
	}

	// ── Capturing ──
	c.setState(model.StateCapturing)

	capCtx, capCancel := context.WithCancel(ctx)
	defer capCancel()

	type capResult struct {
		rec *audio.Capture
		err error
	}
	capDone := make(chan capResult, 1)
	go func() {
		rec, err := c.pipeline.CaptureAnswer(capCtx)
		capDone <- capResult{rec, err}
	}()

	// The capture deadline is a controller-owned wall-clock timer so it can
	// be cancelled or extended uniformly with every other timer.
	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	for {
		select {
		case res := <-capDone:
			if res.err != nil && errors.Is(res.err, audio.ErrDevice) {
				return res.rec, &interrupt{reason: model.ReasonDeviceError}
			}
			if res.err != nil && ctx.Err() != nil {
				return res.rec, &interrupt{reason: c.cancelledReason()}
			}
			// End-of-speech (or local cancel already handled above).
			c.seal(turn, model.OutcomeAnswered, res.rec)
			return res.rec, nil
		case <-deadline.C:
			capCancel()
			res := <-capDone
			c.seal(turn, model.OutcomeTimedOut, res.rec)
			return res.rec, nil
		case ev := <-proctorCh:
			if intr := c.noteProctor(ev); intr != nil {
				capCancel()
				res := <-capDone
				return res.rec, intr
			}
		case op := <-c.userCh:
			capCancel()
			res := <-capDone
			if op == opSkip {
				c.seal(turn, model.OutcomeSkipped, res.rec)
			} else {
				c.seal(turn, model.OutcomeAnswered, res.rec)
			}
			return res.rec, nil
		case <-ctx.Done():
			res := <-capDone
			return res.rec, &interrupt{reason: c.cancelledReason()}
		}
	}
}

// submitWithRetry sends the sealed turn upstream with bounded backoff.
// Exhaustion and rejection both mark the turn submit-failed and let the
// session advance — turn data already exists locally and is reconciled
// out-of-band, never lost.
func (c *Controller) submitWithRetry(ctx context.Context, proctorCh <-chan model.ProctoringEvent, turn *model.Turn) *interrupt {
	c.setState(model.StateSubmitting)

	c.mu.Lock()
	upstreamID := c.sess.UpstreamID
	turnCopy := *turn
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.opts.SubmitAttempts; attempt++ {
		if attempt > 0 {
			if intr := c.backoff(ctx, proctorCh, attempt-1); intr != nil {
				return intr
			}
		}
		ack, intr, err := await(c, ctx, proctorCh, func(opCtx context.Context) (*upstream.SubmitAck, error) {
			return c.api.SubmitTurn(opCtx, upstreamID, &turnCopy)
		})
		if intr != nil {
			return intr
		}
		if err == nil {
			c.applyAck(turn, ack)
			return nil
		}
		if upstream.IsRejected(err) {
			c.log.Warn().Err(err).Int("ordinal", turn.Ordinal).Msg("Turn submission rejected, keeping locally")
			c.markSubmitFailed(turn)
			return nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("ordinal", turn.Ordinal).Int("attempt", attempt+1).Msg("Turn submission failed, will retry")
	}

	c.log.Error().Err(lastErr).Int("ordinal", turn.Ordinal).Msg("Turn submission retries exhausted, keeping locally")
	c.markSubmitFailed(turn)
	return nil
}

// complete requests the authoritative summary and terminates. A server
// failure degrades to the locally derived summary rather than hanging.
func (c *Controller) complete(ctx context.Context, proctorCh <-chan model.ProctoringEvent) {
	c.setState(model.StateCompleting)

	c.mu.Lock()
	upstreamID := c.sess.UpstreamID
	c.mu.Unlock()

	for attempt := 0; attempt < c.opts.SummaryAttempts; attempt++ {
		if attempt > 0 {
			if intr := c.backoff(ctx, proctorCh, attempt-1); intr != nil {
				c.abort(*intr, nil, nil)
				return
			}
		}
		report, intr, err := await(c, ctx, proctorCh, func(opCtx context.Context) (*model.SummaryReport, error) {
			return c.api.GetSummary(opCtx, upstreamID)
		})
		if intr != nil {
			c.abort(*intr, nil, nil)
			return
		}
		if err == nil {
			c.terminate(model.ReasonCompleted, report)
			return
		}
		if upstream.IsRejected(err) {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Summary fetch failed, will retry")
	}

	c.log.Warn().Msg("Server summary unavailable, terminating with local summary")
	c.terminate(model.ReasonSummaryDegraded, nil)
}

// abort drives the Aborting state: seal the turn if it is still open, then
// best-effort submit whatever the upstream has not acked, without retry —
// aborts are time-critical. A turn the submit could not deliver is marked
// submit-failed so reconciliation picks it up; it is never dropped.
func (c *Controller) abort(intr interrupt, turn *model.Turn, partial *audio.Capture) {
	c.setState(model.StateAborting)

	if turn != nil {
		if !turn.Sealed() {
			c.seal(turn, model.OutcomeAborted, partial)
		}

		c.mu.Lock()
		upstreamID := c.sess.UpstreamID
		turnCopy := *turn
		c.mu.Unlock()

		if upstreamID != "" {
			sctx, cancel := context.WithTimeout(context.Background(), c.opts.AbortSubmitTimeout)
			ack, err := c.api.SubmitTurn(sctx, upstreamID, &turnCopy)
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Int("ordinal", turn.Ordinal).Msg("Best-effort abort submission failed")
				c.markSubmitFailed(turn)
			} else {
				c.applyAck(turn, ack)
			}
		}
	}

	c.terminate(intr.reason, nil)
}

// ─── Suspension-point plumbing ─────────────────────────────────────

// await runs op concurrently and waits for its result while watching the
// proctoring stream and the context. A critical event or cancellation
// cancels op, waits for it to unwind, and returns a non-nil interrupt;
// otherwise op's own result and error are passed through.
func await[T any](c *Controller, ctx context.Context, proctorCh <-chan model.ProctoringEvent, op func(context.Context) (T, error)) (T, *interrupt, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(opCtx)
		done <- result{v, err}
	}()

	for {
		select {
		case res := <-done:
			if res.err != nil && ctx.Err() != nil {
				return zero, &interrupt{reason: c.cancelledReason()}, nil
			}
			return res.v, nil, res.err
		case ev := <-proctorCh:
			if intr := c.noteProctor(ev); intr != nil {
				cancel()
				<-done
				return zero, intr, nil
			}
		case <-ctx.Done():
			cancel()
			<-done
			return zero, &interrupt{reason: c.cancelledReason()}, nil
		}
	}
}

func (c *Controller) backoff(ctx context.Context, proctorCh <-chan model.ProctoringEvent, attempt int) *interrupt {
	delay := c.opts.RetryBase << uint(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case ev := <-proctorCh:
			if intr := c.noteProctor(ev); intr != nil {
				return intr
			}
		case <-ctx.Done():
			return &interrupt{reason: c.cancelledReason()}
		}
	}
}

// ─── State bookkeeping ─────────────────────────────────────────────

func (c *Controller) setState(s model.SessionState) {
	c.mu.Lock()
	c.sess.State = s
	c.mu.Unlock()
	c.publish(Event{Type: EventStateChanged, State: s})
}

func (c *Controller) openTurn(q model.Question) *model.Turn {
	c.mu.Lock()
	c.sess.Turns = append(c.sess.Turns, model.Turn{
		QuestionID: q.ID,
		Ordinal:    q.Ordinal,
		StartedAt:  time.Now(),
	})
	turn := &c.sess.Turns[len(c.sess.Turns)-1]
	c.mu.Unlock()

	c.publish(Event{Type: EventTurnOpened, Question: &q})
	return turn
}

func (c *Controller) seal(turn *model.Turn, outcome model.TurnOutcome, rec *audio.Capture) {
	c.mu.Lock()
	now := time.Now()
	turn.Outcome = outcome
	turn.SealedAt = &now
	if rec != nil {
		turn.Audio = rec.Audio
		turn.Duration = rec.Duration
		if len(rec.Audio) > 0 {
			turn.AudioRef = fmt.Sprintf("capture:%s:%d", c.sess.ID, turn.Ordinal)
		}
	}
	if turn.Duration == 0 {
		turn.Duration = now.Sub(turn.StartedAt)
	}
	sealed := *turn
	c.mu.Unlock()

	c.log.Info().
		Int("ordinal", sealed.Ordinal).
		Str("outcome", string(outcome)).
		Dur("duration", sealed.Duration).
		Msg("Turn sealed")
	c.publish(Event{Type: EventTurnSealed, Turn: &sealed})
}

func (c *Controller) applyAck(turn *model.Turn, ack *upstream.SubmitAck) {
	c.mu.Lock()
	turn.Transcript = ack.Transcript
	turn.Score = ack.Score
	c.mu.Unlock()
}

func (c *Controller) markSubmitFailed(turn *model.Turn) {
	c.mu.Lock()
	turn.SubmitFailed = true
	c.mu.Unlock()
}

// noteProctor records the event and returns a non-nil interrupt when it is
// critical. Warnings only increment the tally.
func (c *Controller) noteProctor(ev model.ProctoringEvent) *interrupt {
	c.mu.Lock()
	c.sess.Events = append(c.sess.Events, ev)
	c.mu.Unlock()

	c.publish(Event{Type: EventProctor, Proctor: &ev})

	if ev.Severity != model.SeverityCritical {
		return nil
	}
	if ev.Category == model.ProctorDeviceError {
		return &interrupt{reason: model.ReasonDeviceError}
	}
	return &interrupt{reason: model.ReasonProctoringViolation}
}

func (c *Controller) cancelledReason() model.TerminationReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelReason != "" {
		return c.cancelReason
	}
	return model.ReasonUserCancelled
}

// terminate is the single exit: record the reason, produce the report
// (server copy or deterministic local build), and emit the final event.
// The session always reaches Terminated with a report — never a hang,
// never a silent disappearance.
func (c *Controller) terminate(reason model.TerminationReason, serverReport *model.SummaryReport) {
	c.mu.Lock()
	now := time.Now()
	c.sess.Reason = reason
	c.sess.FinishedAt = &now
	c.sess.State = model.StateTerminated
	report := serverReport
	if report == nil {
		report = summary.Build(c.sess)
	}
	for i := range c.sess.Turns {
		if c.sess.Turns[i].SubmitFailed {
			report.Degraded = true
			break
		}
	}
	c.report = report
	c.mu.Unlock()

	c.log.Info().Str("reason", string(reason)).Str("source", string(report.Source)).Msg("Session terminated")
	c.publish(Event{Type: EventStateChanged, State: model.StateTerminated})
	c.publish(Event{Type: EventTerminated, Report: report, Reason: reason})
}

// publish never blocks the state machine; a slow consumer loses events
// rather than stalling the session.
func (c *Controller) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Str("type", string(ev.Type)).Msg("Event buffer full, dropping")
	}
}

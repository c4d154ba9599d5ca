// Package upstream wraps the remote standup service: start a session,
// submit a turn, fetch the authoritative summary. It owns no session state
// beyond in-flight requests; retry policy belongs to the caller.
package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// StartResult is the upstream response to a session start.
type StartResult struct {
	SessionID string           `json:"session_id"`
	Questions []model.Question `json:"questions"`
	// QuestionLimitSeconds is the per-question default time limit.
	QuestionLimitSeconds int `json:"question_limit_seconds"`
}

// SubmitAck acknowledges one submitted turn. The upstream transcribes the
// audio, so the transcript arrives here rather than being computed locally.
type SubmitAck struct {
	Ordinal    int      `json:"ordinal"`
	Transcript string   `json:"transcript,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

// Client is the typed surface of the remote standup service.
type Client interface {
	// StartSession creates (or, with a repeated idempotency token, returns)
	// a session for the participant's standup.
	StartSession(ctx context.Context, standupID string, participantID int, idempotencyToken string) (*StartResult, error)
	// SubmitTurn uploads one sealed turn. Idempotent by turn ordinal.
	SubmitTurn(ctx context.Context, sessionID string, turn *model.Turn) (*SubmitAck, error)
	// GetSummary fetches the authoritative report. Read-only.
	GetSummary(ctx context.Context, sessionID string) (*model.SummaryReport, error)
}

// HTTPClient implements Client over the standup service's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewHTTPClient creates a client with a bounded per-request timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "upstream_client").Logger(),
	}
}

type startRequest struct {
	StandupID     string `json:"standup_id"`
	ParticipantID int    `json:"participant_id"`
}

// StartSession implements Client. The idempotency token travels as a header
// so a retried start after a lost response resolves to the same session
// instead of creating a duplicate server-side.
func (c *HTTPClient) StartSession(ctx context.Context, standupID string, participantID int, idempotencyToken string) (*StartResult, error) {
	body := startRequest{StandupID: standupID, ParticipantID: participantID}
	var out StartResult
	err := c.do(ctx, "start-session", http.MethodPost, "/v1/standup/sessions", idempotencyToken, body, &out)
	if err != nil {
		return nil, err
	}
	for i := range out.Questions {
		out.Questions[i].Ordinal = i
	}
	return &out, nil
}

type submitRequest struct {
	Ordinal    int    `json:"ordinal"`
	QuestionID string `json:"question_id"`
	Outcome    string `json:"outcome"`
	AudioB64   string `json:"audio_b64,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SubmitTurn implements Client.
func (c *HTTPClient) SubmitTurn(ctx context.Context, sessionID string, turn *model.Turn) (*SubmitAck, error) {
	body := submitRequest{
		Ordinal:    turn.Ordinal,
		QuestionID: turn.QuestionID,
		Outcome:    string(turn.Outcome),
		DurationMS: turn.Duration.Milliseconds(),
	}
	if len(turn.Audio) > 0 {
		body.AudioB64 = base64.StdEncoding.EncodeToString(turn.Audio)
	}
	var out SubmitAck
	path := fmt.Sprintf("/v1/standup/sessions/%s/turns", sessionID)
	if err := c.do(ctx, "submit-turn", http.MethodPost, path, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSummary implements Client.
func (c *HTTPClient) GetSummary(ctx context.Context, sessionID string) (*model.SummaryReport, error) {
	var out model.SummaryReport
	path := fmt.Sprintf("/v1/standup/sessions/%s/summary", sessionID)
	if err := c.do(ctx, "get-summary", http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	out.Source = model.SummaryFromServer
	return &out, nil
}

type rejectionBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, idempotencyToken string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("upstream %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("upstream %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyToken != "" {
		req.Header.Set("Idempotency-Key", idempotencyToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Preserve cancellation so callers can tell an abandoned call from
		// a transport failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Server-side trouble is transient from our point of view.
		return &NetworkError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		var rej rejectionBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&rej)
		c.log.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("code", rej.Code).
			Msg("Upstream rejected request")
		return &RejectedError{Op: op, Status: resp.StatusCode, Code: rej.Code, Message: rej.Message}
	}
}

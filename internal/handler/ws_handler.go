package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/media"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/middleware"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/service"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/session"
	ws "github.com/vineeshareddyy/eduapp-standup-service/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the device stream: audio frames and proctoring samples
// up, session lifecycle events down.
type WSHandler struct {
	svc      *service.StandupService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(svc *service.StandupService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		svc:      svc,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/standup/sessions/:session_id/stream
// Upgrades to WebSocket, attaches the device to its pending session, and
// starts the session run.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	link := newDeviceLink(conn)

	ctrl, hub, err := h.svc.Attach(sessionID, claims.UserID, link)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}

	wsLog := h.log.With().
		Int("participant_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Device connected")

	// Writer side: lifecycle events flow down until the controller
	// terminates and closes its event channel.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pumpEvents(link, ctrl.Events())
	}()

	h.readLoop(conn, link, hub, ctrl, wsLog)

	// The device is gone. If the session is still running this surfaces
	// as a device error through the capture feed.
	hub.CloseWithError(media.ErrFeedClosed)

	select {
	case <-pumpDone:
	case <-time.After(5 * time.Second):
	}

	wsLog.Info().Msg("Device disconnected")
}

func (h *WSHandler) readLoop(conn *websocket.Conn, link *deviceLink, hub *media.Hub, ctrl *session.Controller, wsLog zerolog.Logger) {
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAudio:
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				wsLog.Warn().Int("seq", msg.Seq).Msg("Dropping frame with invalid base64")
				continue
			}
			hub.PushAudio(media.AudioFrame{
				Seq:    msg.Seq,
				Data:   data,
				Energy: msg.Energy,
				At:     time.Now(),
			})

		case ws.ActionProctor:
			hub.PushVideo(model.VideoSample{
				At:        time.Now(),
				FaceCount: msg.FaceCount,
				Visible:   msg.Visible,
				FeedError: msg.FeedError,
			})

		case ws.ActionPlaybackDone:
			link.resolvePrompt(msg.Ordinal)

		case ws.ActionSubmit:
			if err := ctrl.Submit(); err != nil {
				ws.WriteError(conn, err.Error())
			}

		case ws.ActionSkip:
			if err := ctrl.Skip(); err != nil {
				ws.WriteError(conn, err.Error())
			}

		case ws.ActionCancel:
			if err := ctrl.Cancel(); err != nil {
				ws.WriteError(conn, err.Error())
			}

		case ws.ActionPing:
			link.write(ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// pumpEvents translates controller lifecycle events into wire messages.
func (h *WSHandler) pumpEvents(link *deviceLink, events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventStateChanged:
			link.write(ws.StateResponse{Event: ws.EventState, State: ev.State})
		case session.EventTurnSealed:
			if ev.Turn != nil {
				link.write(ws.TurnSealedResponse{
					Event:      ws.EventTurnSealed,
					Ordinal:    ev.Turn.Ordinal,
					Outcome:    ev.Turn.Outcome,
					Transcript: ev.Turn.Transcript,
				})
			}
		case session.EventProctor:
			if ev.Proctor != nil {
				link.write(ws.ProctorResponse{
					Event:    ws.EventProctor,
					Category: ev.Proctor.Category,
					Severity: ev.Proctor.Severity,
					Detail:   ev.Proctor.Detail,
				})
			}
		case session.EventTerminated:
			link.write(ws.TerminatedResponse{
				Event:  ws.EventTerminated,
				Reason: ev.Reason,
				Report: ev.Report,
			})
		}
	}
}

// deviceLink is the WebSocket-backed audio.Link. All writes to the
// connection go through it; the event pump and the pipeline share it.
type deviceLink struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	ackMu      sync.Mutex
	ackOrdinal int
	ack        chan struct{}
}

func newDeviceLink(conn *websocket.Conn) *deviceLink {
	return &deviceLink{conn: conn}
}

func (l *deviceLink) write(v interface{}) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = ws.WriteTyped(l.conn, v)
}

// SendPrompt tells the device to play a question and returns a channel
// closed when the device acknowledges playback completion.
func (l *deviceLink) SendPrompt(q model.Question) (<-chan struct{}, error) {
	l.ackMu.Lock()
	ack := make(chan struct{})
	l.ackOrdinal = q.Ordinal
	l.ack = ack
	l.ackMu.Unlock()

	l.write(ws.PromptResponse{
		Event:    ws.EventPrompt,
		Ordinal:  q.Ordinal,
		Prompt:   q.Prompt,
		AudioURL: q.PromptAudioURL,
	})
	return ack, nil
}

// SendCaptureCue toggles the device's capture indicator.
func (l *deviceLink) SendCaptureCue(active bool) {
	l.write(ws.CaptureResponse{Event: ws.EventCapture, Active: active})
}

func (l *deviceLink) resolvePrompt(ordinal int) {
	l.ackMu.Lock()
	defer l.ackMu.Unlock()
	if l.ack != nil && l.ackOrdinal == ordinal {
		close(l.ack)
		l.ack = nil
	}
}

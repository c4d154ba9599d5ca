package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/middleware"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/repository"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/response"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/service"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/session"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/validator"
)

// StandupHandler handles participant-facing session endpoints and the
// operator archive views.
type StandupHandler struct {
	svc         *service.StandupService
	proctorRepo *repository.ProctorRepository
}

// NewStandupHandler creates a new StandupHandler.
func NewStandupHandler(svc *service.StandupService, proctorRepo *repository.ProctorRepository) *StandupHandler {
	return &StandupHandler{
		svc:         svc,
		proctorRepo: proctorRepo,
	}
}

// CreateSession godoc
// POST /api/v1/standup/sessions
// Opens a session slot. The device must attach over WebSocket to start it.
func (h *StandupHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.svc.CreateSession(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": snap})
}

// GetSession godoc
// GET /api/v1/standup/sessions/:session_id
// Returns a live session snapshot.
func (h *StandupHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.svc.Get(sessionID, claims.UserID)
	if err != nil {
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// GetSummary godoc
// GET /api/v1/standup/sessions/:session_id/summary
// Returns the final report, live or archived.
func (h *StandupHandler) GetSummary(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.svc.Summary(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrSummaryNotReady) {
			response.Fail(c, http.StatusConflict, response.ErrSummaryUnavailable)
			return
		}
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": report})
}

// CancelSession godoc
// POST /api/v1/standup/sessions/:session_id/cancel
// Requests a user-initiated abort of a running session.
func (h *StandupHandler) CancelSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.svc.Cancel(sessionID, claims.UserID); err != nil {
		var invalid *session.InvalidStateTransitionError
		if errors.As(err, &invalid) {
			response.Fail(c, http.StatusConflict, response.ErrInvalidState)
			return
		}
		h.failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "cancelling"})
}

// ListSessions godoc
// GET /api/v1/operator/standup/sessions
// Pages through archived sessions, newest first.
func (h *StandupHandler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	records, total, err := h.svc.ListRecent(c.Request.Context(), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if records == nil {
		records = []repository.SessionRecord{}
	}

	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": records}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// GetSessionReport godoc
// GET /api/v1/operator/standup/sessions/:session_id/summary
// Returns the archived report for any session.
func (h *StandupHandler) GetSessionReport(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.svc.ArchivedSummary(c.Request.Context(), sessionID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": report})
}

// GetSessionViolations godoc
// GET /api/v1/operator/standup/sessions/:session_id/violations
// Returns aggregated proctoring violation counts for a session.
func (h *StandupHandler) GetSessionViolations(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	counts, err := h.proctorRepo.GetViolationCounts(c.Request.Context(), sessionID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if counts == nil {
		counts = []repository.ViolationCount{}
	}

	response.Success(c, http.StatusOK, gin.H{"violations": counts})
}

// failSessionError maps service sentinel errors to API error codes.
func (h *StandupHandler) failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotSessionOwner)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

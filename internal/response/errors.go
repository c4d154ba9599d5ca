package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrParticipantOnly    ErrCode = "PARTICIPANT_ACCESS_ONLY"
	ErrOperatorAccessOnly ErrCode = "OPERATOR_ACCESS_ONLY"
	ErrNotSessionOwner    ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotFound    ErrCode = "SESSION_NOT_FOUND"
	ErrSessionTerminated  ErrCode = "SESSION_TERMINATED"
	ErrInvalidState       ErrCode = "INVALID_STATE"
	ErrStreamBusy         ErrCode = "STREAM_ALREADY_ATTACHED"
	ErrSummaryUnavailable ErrCode = "SUMMARY_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrParticipantOnly:
		return "This resource is restricted to participants."
	case ErrOperatorAccessOnly:
		return "This resource is restricted to operators."
	case ErrNotSessionOwner:
		return "This session belongs to another participant."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionActive:
		return "You already have an active standup session."
	case ErrSessionNotFound:
		return "Standup session not found."
	case ErrSessionTerminated:
		return "This standup session has already finished."
	case ErrInvalidState:
		return "The session is not in a state that allows this action."
	case ErrStreamBusy:
		return "A device stream is already attached to this session."
	case ErrSummaryUnavailable:
		return "No summary is available for this session yet."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}

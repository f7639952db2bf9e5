package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Attempt token ─────────────────────────────────────────────────
	ErrTokenRequired   ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid    ErrCode = "TOKEN_INVALID"
	ErrAttemptMismatch ErrCode = "ATTEMPT_MISMATCH"
	ErrOpsTokenInvalid ErrCode = "OPS_TOKEN_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation       ErrCode = "VALIDATION_ERROR"
	ErrInvalidShortcode ErrCode = "INVALID_SHORTCODE"

	// ─── Shortcode redemption ──────────────────────────────────────────
	ErrShortcodeNotFound    ErrCode = "SHORTCODE_NOT_FOUND"
	ErrShortcodeExpired     ErrCode = "SHORTCODE_EXPIRED"
	ErrShortcodeAlreadyUsed ErrCode = "SHORTCODE_ALREADY_USED"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptNotLoaded ErrCode = "ATTEMPT_NOT_LOADED"
	ErrStreamActive     ErrCode = "STREAM_ALREADY_OPEN"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Attempt token ─────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An attempt token is required."
	case ErrTokenInvalid:
		return "The attempt token is invalid or expired."
	case ErrAttemptMismatch:
		return "The attempt token does not belong to this attempt."
	case ErrOpsTokenInvalid:
		return "Operator access denied."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The submitted data is invalid."
	case ErrInvalidShortcode:
		return "Invalid or expired test link."

	// ─── Shortcode redemption ──────────────────────────────────────────
	case ErrShortcodeNotFound:
		return "Invalid or expired test link."
	case ErrShortcodeExpired:
		return "This test link has expired."
	case ErrShortcodeAlreadyUsed:
		return "This test link has already been used."

	// ─── Attempt ───────────────────────────────────────────────────────
	case ErrAlreadySubmitted:
		return "This test has already been submitted."
	case ErrAttemptNotLoaded:
		return "Invalid or expired test link."
	case ErrStreamActive:
		return "This test is already open in another window."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please wait a moment and try again."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrBackendUnavailable:
		return "The test service is unavailable. Please try again."
	case ErrInternal:
		return "An internal error occurred."

	default:
		return "An unknown error occurred."
	}
}

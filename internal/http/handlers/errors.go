package handlers

// Error codes carried in ErrorResponse.Code. The image provider, bot
// replicas and ops tooling branch on these; the message text may change.
//
// unauthorized and too_many_requests are written by the webhook-secret and
// rate-limit middleware, which cannot import this package. They are listed
// here so every code a client can see is in one place.
const (
	ErrCodeBadRequest   = "bad_request"         // malformed JSON, path ids or query
	ErrCodeUnauthorized = "unauthorized"        // X-Webhook-Secret missing or wrong
	ErrCodeNotFound     = "not_found"           // unknown route or user
	ErrCodeConflict     = "conflict"            // request_id already registered
	ErrCodeRateLimited  = "too_many_requests"   // per-bot or per-IP bucket empty
	ErrCodeInternal     = "internal_error"      // session store failed unexpectedly
	ErrCodeUnavailable  = "service_unavailable" // job-status queue rejected the event

	// The provider's webhook had no request_id or an unknown status.
	ErrCodeInvalidEvent = "invalid_event"
	// Redis unreachable; session reads never degrade to empty answers.
	ErrCodeSessionUnavailable = "session_unavailable"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

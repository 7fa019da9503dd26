package handlers

// Error codes are lowercase snake_case and stable: clients branch on them. Every
// error response carries an HTTP status and one of these codes (see fail and
// failErr in response.go).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "content_policy_violation",
//	  "message": "prompt references real people (Elon Musk)",
//	  "suggestions": ["Describe the person generically, ..."],
//	  "matched_names": ["Elon Musk"]
//	}
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidation       = "validation_failed"
	ErrCodeContentPolicy    = "content_policy_violation"
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeProviderFailure  = "provider_failure"
	ErrCodeProviderRejected = "provider_rejected"
	ErrCodeOrphanedOrder    = "orphaned_order"
	ErrCodeExportFailed     = "export_failed"
)

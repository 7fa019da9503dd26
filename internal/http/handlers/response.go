package handlers

// Response envelope and the mapping from service
// errors to HTTP statuses and codes. Handlers call failErr with whatever the
// service returned; only transport-level problems (bad JSON, bad params) go
// through fail directly.

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/http/middleware"
	"github.com/tbourn/alfie-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
// The optional fields are filled for validation, content policy and quota
// errors.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`

	Fields       []services.FieldError `json:"fields,omitempty"`
	Suggestions  []string              `json:"suggestions,omitempty"`
	MatchedNames []string              `json:"matched_names,omitempty"`
	Required     *domain.Cost          `json:"required,omitempty"`
	Remaining    *domain.Cost          `json:"remaining,omitempty"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	abort(c, status, ErrorResponse{Code: code, Message: msg})
}

func abort(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = middleware.RequestIDFrom(c)
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the envelope.
func failErr(c *gin.Context, err error) {
	var (
		verr  *services.ValidationError
		cperr *services.ContentPolicyError
		qerr  *services.QuotaExceededError
	)
	switch {
	case errors.As(err, &verr):
		abort(c, http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidation, Message: err.Error(), Fields: verr.Fields})
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.As(err, &cperr):
		abort(c, http.StatusUnprocessableEntity, ErrorResponse{
			Code:         ErrCodeContentPolicy,
			Message:      cperr.Message,
			Suggestions:  cperr.Suggestions,
			MatchedNames: cperr.MatchedNames,
		})
	case errors.As(err, &qerr):
		abort(c, http.StatusPaymentRequired, ErrorResponse{
			Code:      ErrCodeQuotaExceeded,
			Message:   qerr.Error(),
			Required:  &qerr.Required,
			Remaining: &qerr.Remaining,
		})
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrProviderRejected):
		fail(c, http.StatusBadGateway, ErrCodeProviderRejected, err.Error())
	case errors.Is(err, services.ErrProviderFailure):
		fail(c, http.StatusBadGateway, ErrCodeProviderFailure, err.Error())
	case errors.Is(err, services.ErrOrphanedOrder):
		fail(c, http.StatusInternalServerError, ErrCodeOrphanedOrder, "order could not be created; nothing was queued")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

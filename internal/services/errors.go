// Package services holds the orchestration logic: planning intents into
// order pipelines, running queue entries through their stages, batch
// roll-ups and retries, and the metered quota protocol.
//
// This file centralizes the error taxonomy. Sentinels are what callers match
// with errors.Is; the typed errors carry the detail handlers need to build a
// useful response and match their sentinel through Is.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/alfie-backend/internal/domain"
)

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when no authenticated user is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrContentPolicy marks prompts blocked by the guard or rejected by a
	// provider for content reasons.
	ErrContentPolicy = errors.New("content policy violation")

	// ErrQuotaExceeded is returned when a brand cannot afford a render.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrProviderFailure wraps render failures unrelated to content policy.
	ErrProviderFailure = errors.New("provider failure")

	// ErrProviderRejected is a hard KO from the provider selector.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrNotFound indicates the resource does not exist or is not owned by
	// the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource is not in a state that allows
	// the operation (retrying a running entry, for example).
	ErrConflict = errors.New("conflict")

	// ErrOrphanedOrder is returned when the pipeline insert failed after the
	// order was created. The order has been deleted (or deletion was logged).
	ErrOrphanedOrder = errors.New("order pipeline could not be created")

	// ErrStuckJob is the cause recorded when the unlock sweep recovers a run.
	ErrStuckJob = errors.New("job stuck in running")
)

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed rule of an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ContentPolicyError carries the guard's findings or the provider's text.
type ContentPolicyError struct {
	Message      string
	Suggestions  []string
	MatchedNames []string
}

func (e *ContentPolicyError) Error() string { return e.Message }

func (e *ContentPolicyError) Is(target error) bool { return target == ErrContentPolicy }

// QuotaExceededError reports what was asked for against what is left.
type QuotaExceededError struct {
	BrandID   string
	Required  domain.Cost
	Remaining domain.Cost
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("insufficient budget for brand %s: need %d woofs/%d images/%d videos, have %d/%d/%d",
		e.BrandID, e.Required.Woofs, e.Required.Images, e.Required.Videos,
		e.Remaining.Woofs, e.Remaining.Images, e.Remaining.Videos)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// ProviderError is a failed render or selection call.
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return "provider failure: " + e.Err.Error()
	}
	return fmt.Sprintf("provider %s failure: %v", e.Provider, e.Err)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func (e *ProviderError) Unwrap() error { return e.Err }

// retryable reports whether a failed stage should go back to the queue.
// Content policy, quota and selector rejections fail immediately.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrContentPolicy),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrProviderRejected),
		errors.Is(err, ErrValidation):
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

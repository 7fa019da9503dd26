// Quota and planner-memory HTTP handlers.
//
//   - GET /quota/{brandId}    (monthly ledger, remaining budget, latest transactions)
//   - GET /memory/{scope}     (stored preferences of one scope)
//   - PUT /memory/{scope}     (replace or delete preference keys)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/services"
)

// MemoryRequest is the JSON payload for PUT /memory/{scope}. An empty value
// deletes its key.
type MemoryRequest struct {
	Values map[string]string `json:"values" binding:"required" example:"language:fr,ratio:9:16"`
}

// MemoryResponse returns the entries of one scope.
type MemoryResponse struct {
	Scope  string            `json:"scope"  example:"brand"`
	Values map[string]string `json:"values"`
}

// QuotaBalance godoc
// @ID          quotaBalance
// @Summary     Current quota of a brand
// @Tags        Quota
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       brandId        path    string  true  "Brand ID"
// @Success     200  {object}  services.QuotaBalance
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /quota/{brandId} [get]
func (h *Handlers) QuotaBalance(c *gin.Context) {
	if userID(c) == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}
	brandID := strings.TrimSpace(c.Param("brandId"))
	if brandID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "brandId required")
		return
	}
	bal, err := h.Quota.Balance(c.Request.Context(), brandID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, bal)
}

// GetMemory godoc
// @ID          getMemory
// @Summary     Read planner preferences
// @Tags        Memory
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       scope          path    string  true  "global|user|brand"
// @Param       brandId        query   string  false "Brand ID (brand scope)"
// @Success     200  {object}  handlers.MemoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Router      /memory/{scope} [get]
func (h *Handlers) GetMemory(c *gin.Context) {
	scope, scopeID, okScope := memoryScope(c)
	if !okScope {
		return
	}
	values, err := h.Memory.Get(c.Request.Context(), scope, scopeID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MemoryResponse{Scope: scope, Values: values})
}

// PutMemory godoc
// @ID          putMemory
// @Summary     Store planner preferences
// @Description Keys: language, ratio, cta, paletteLock, typographyLock, quality. Brand values override user values, which override global ones.
// @Tags        Memory
// @Accept      json
// @Produce     json
// @Param       Authorization  header  string                  false "Bearer token"
// @Param       scope          path    string                  true  "global|user|brand"
// @Param       brandId        query   string                  false "Brand ID (brand scope)"
// @Param       body           body    handlers.MemoryRequest  true  "Values"
// @Success     200  {object}  handlers.MemoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Router      /memory/{scope} [put]
func (h *Handlers) PutMemory(c *gin.Context) {
	scope, scopeID, okScope := memoryScope(c)
	if !okScope {
		return
	}
	var req MemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	if err := h.Memory.Put(ctx, scope, scopeID, req.Values); err != nil {
		failErr(c, err)
		return
	}
	values, err := h.Memory.Get(ctx, scope, scopeID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MemoryResponse{Scope: scope, Values: values})
}

// memoryScope resolves the scope id for the caller; it aborts the request
// when the caller is anonymous.
func memoryScope(c *gin.Context) (scope, scopeID string, valid bool) {
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return "", "", false
	}
	scope = strings.ToLower(strings.TrimSpace(c.Param("scope")))
	return scope, services.ScopeID(scope, uid, strings.TrimSpace(c.Query("brandId"))), true
}

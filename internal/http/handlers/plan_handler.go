// Planner HTTP handlers.
//
// This file exposes the entry point of the orchestration pipeline:
//   - POST /plan          (validate an intent, create an order and its jobs)
//   - GET  /orders/{id}   (order with its jobs and their stage outputs)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/domain"
)

const scopePlan = "plan"

// Plan godoc
// @ID          plan
// @Summary     Plan an intent into a queued order
// @Description Validates the intent, applies defaults and stored preferences, then creates an order with one job per pipeline stage. The first stage is queued immediately.
// @Description A repeated Idempotency-Key returns the original order with header Idempotency-Replayed: true.
// @Tags        Planner
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string         false "Bearer token"
// @Param       Idempotency-Key  header  string         false "Idempotency key for safe retries"  example(plan-2024-05-01-001)
// @Param       body             body    domain.Intent  true  "Intent"
//
// @Success     201  {object}  services.PlanResult
// @Success     200  {object}  services.PlanResult     "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /plan [post]
func (h *Handlers) Plan(c *gin.Context) {
	key, orderID, replay := h.replayID(c, scopePlan)
	if replay {
		res, err := h.Planner.Replay(c.Request.Context(), userID(c), orderID)
		if err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, res)
			return
		}
		// The order vanished; plan it again under the same key.
	}

	var in domain.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.Planner.Plan(c.Request.Context(), userID(c), in)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, scopePlan, key, res.OrderID, http.StatusCreated)
	ok(c, http.StatusCreated, res)
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order with its jobs
// @Tags        Planner
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Order ID (UUID)"
//
// @Success     200  {object}  services.OrderView
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return
	}
	view, err := h.Planner.GetOrder(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// Queue monitor HTTP handlers.
//
//   - GET  /queue/jobs               (paginated, filterable, ETag support)
//   - GET  /queue/stats              (counts per status)
//   - POST /queue/jobs/{id}/retry    (requeue one failed entry)
//
// Operator only (every tenant):
//   - POST /queue/trigger            (process up to ?max claimed entries now)
//   - POST /queue/unlock-stuck       (requeue running entries older than ?minutes)
//   - POST /queue/fail-expired       (fail queued entries older than ?hours)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/repo"
	"github.com/tbourn/alfie-backend/internal/utils"
)

// Sweep thresholds below these would catch renders that are still healthy.
const (
	MinStuckMinutes = 5
	MinExpiryHours  = 1
)

// ListJobsResponse wraps a page of queue entries.
type ListJobsResponse struct {
	Items      []domain.QueueEntry `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// TriggerResponse reports how many entries a manual trigger processed.
type TriggerResponse struct {
	Processed int `json:"processed" example:"3"`
}

// FailExpiredResponse reports how many stale entries were failed.
type FailExpiredResponse struct {
	Failed int `json:"failed" example:"2"`
}

// ListJobs godoc
// @ID          listQueueJobs
// @Summary     List queue entries (paginated)
// @Description Returns the caller's queue entries, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Queue
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       status         query   string  false "queued|blocked|running|completed|failed"
// @Param       type           query   string  false "Entry type (copy, vision, render, upload, thumb, publish, clip)"
// @Param       order_id       query   string  false "Only entries of this order"
// @Param       page           query   int     false "Page (>=1)"             default(1)
// @Param       page_size      query   int     false "Page size (1..100)"     default(20)
//
// @Success     200  {object}  handlers.ListJobsResponse
// @Success     304  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	pg := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	page, pageSize := pg.Number, pg.Size
	f := repo.QueueFilter{
		Status:  strings.TrimSpace(c.Query("status")),
		Type:    strings.TrimSpace(c.Query("type")),
		OrderID: strings.TrimSpace(c.Query("order_id")),
	}

	res, err := h.Queue.List(c.Request.Context(), userID(c), f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	// Weak ETag over the page shape and the newest update on it.
	var newest int64
	for _, it := range res.Items {
		if ts := it.UpdatedAt.UnixNano(); ts > newest {
			newest = ts
		}
	}
	etag := fmt.Sprintf(`W/"q-%s-%s-%s-%d-%d-%d-%d"`, f.Status, f.Type, f.OrderID, page, pageSize, res.Total, newest)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Header("ETag", etag)
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)

	ok(c, http.StatusOK, ListJobsResponse{Items: res.Items, Pagination: newPagination(page, pageSize, res.Total)})
}

// QueueStats godoc
// @ID          queueStats
// @Summary     Queue counts per status
// @Tags        Queue
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Success     200  {object}  services.QueueStats
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/stats [get]
func (h *Handlers) QueueStats(c *gin.Context) {
	st, err := h.Queue.Stats(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// TriggerWorker godoc
// @ID          triggerWorker
// @Summary     Process queued entries now
// @Description Claims up to max entries (default from config, at most 50) and runs them in this request.
// @Tags        Queue
// @Produce     json
// @Param       X-Operator-Token  header  string  false "Operator secret (or a bearer token with the operator role)"
// @Param       max  query  int  false "Entries to claim (1..50)"
// @Success     200  {object}  handlers.TriggerResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Operator access required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/trigger [post]
func (h *Handlers) TriggerWorker(c *gin.Context) {
	limit := utils.AtoiClamp(c.Query("max"), h.TriggerLimit, 1, 50)
	n, err := h.Queue.TriggerWorker(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, TriggerResponse{Processed: n})
}

// UnlockStuck godoc
// @ID          unlockStuck
// @Summary     Requeue stuck running entries
// @Description Entries running longer than the threshold are requeued, or failed once they are out of attempts.
// @Tags        Queue
// @Produce     json
// @Param       X-Operator-Token  header  string  false "Operator secret (or a bearer token with the operator role)"
// @Param       minutes  query  int  false "Threshold in minutes (at least 5)"
// @Success     200  {object}  services.SweepReport
// @Failure     400  {object}  handlers.ErrorResponse  "Threshold below the minimum"
// @Failure     403  {object}  handlers.ErrorResponse  "Operator access required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/unlock-stuck [post]
func (h *Handlers) UnlockStuck(c *gin.Context) {
	minutes := utils.AtoiDefault(c.Query("minutes"), h.StuckMinutes)
	if minutes < MinStuckMinutes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("minutes must be >= %d", MinStuckMinutes))
		return
	}
	rep, err := h.Queue.UnlockStuck(c.Request.Context(), minutes)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// FailExpired godoc
// @ID          failExpired
// @Summary     Fail entries that waited too long
// @Tags        Queue
// @Produce     json
// @Param       X-Operator-Token  header  string  false "Operator secret (or a bearer token with the operator role)"
// @Param       hours  query  int  false "Maximum age in hours"
// @Success     200  {object}  handlers.FailExpiredResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Threshold below the minimum"
// @Failure     403  {object}  handlers.ErrorResponse  "Operator access required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/fail-expired [post]
func (h *Handlers) FailExpired(c *gin.Context) {
	hours := utils.AtoiDefault(c.Query("hours"), h.MaxAgeHours)
	if hours < MinExpiryHours {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("hours must be >= %d", MinExpiryHours))
		return
	}
	n, err := h.Queue.FailExpired(c.Request.Context(), hours)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, FailExpiredResponse{Failed: n})
}

// RetryJob godoc
// @ID          retryQueueJob
// @Summary     Retry a failed queue entry
// @Tags        Queue
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Queue entry ID"
// @Success     200  {object}  domain.QueueEntry
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Entry is not failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/jobs/{id}/retry [post]
func (h *Handlers) RetryJob(c *gin.Context) {
	e, err := h.Queue.Retry(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

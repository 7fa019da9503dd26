// Batch HTTP handlers.
//
// This file exposes the multi-video batch surface:
//   - POST /batches                    (create N videos of M clips)
//   - GET  /batches                    (explicit and virtual batches of a brand)
//   - GET  /batches/{id}               (one batch with videos and roll-ups)
//   - GET  /batches/{id}/clips         (clip-level sub-status)
//   - POST /clips/{id}/retry           (re-render one clip)
//   - POST /videos/{id}/retry          (re-render every clip of a video)
//   - GET  /batches/{id}/export.csv    (Canva bulk-create CSV)
//   - GET  /batches/{id}/export.zip    (texts, manifest and rendered media)
//   - GET  /batches/{id}/texts         (all texts as plain text)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/services"
)

const scopeBatches = "batches"

// AcceptedResponse acknowledges an asynchronous retry.
type AcceptedResponse struct {
	Status string `json:"status" example:"queued"`
}

// CreateBatch godoc
// @ID          createBatch
// @Summary     Create a batch of videos
// @Description Checks every clip prompt with the celebrity gate, then persists the batch and queues one render per clip.
// @Description A repeated Idempotency-Key returns the original batch with header Idempotency-Replayed: true.
// @Tags        Batches
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string                       false "Bearer token"
// @Param       Idempotency-Key  header  string                       false "Idempotency key for safe retries"
// @Param       body             body    services.CreateBatchRequest  true  "Batch request"
//
// @Success     201  {object}  services.BatchView
// @Success     200  {object}  services.BatchView      "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     422  {object}  handlers.ErrorResponse  "Content policy violation"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /batches [post]
func (h *Handlers) CreateBatch(c *gin.Context) {
	key, batchID, replay := h.replayID(c, scopeBatches)
	if replay {
		if b, err := h.Batches.GetBatch(c.Request.Context(), userID(c), batchID); err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, b)
			return
		}
	}

	var req services.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	b, err := h.Batches.CreateBatch(c.Request.Context(), userID(c), req)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, scopeBatches, key, b.ID, http.StatusCreated)
	ok(c, http.StatusCreated, b)
}

// ListBatches godoc
// @ID          listBatches
// @Summary     List batches of a brand
// @Description Returns explicit batches merged with virtual batches grouped from standalone generation records, newest first.
// @Tags        Batches
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       brandId        query   string  true  "Brand ID"
// @Success     200  {array}   services.BatchView
// @Failure     400  {object}  handlers.ErrorResponse  "brandId required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /batches [get]
func (h *Handlers) ListBatches(c *gin.Context) {
	brandID := strings.TrimSpace(c.Query("brandId"))
	if brandID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "brandId required")
		return
	}
	list, err := h.Batches.LoadBatches(c.Request.Context(), userID(c), brandID)
	if err != nil {
		failErr(c, err)
		return
	}
	if list == nil {
		list = []services.BatchView{}
	}
	ok(c, http.StatusOK, list)
}

// GetBatch godoc
// @ID          getBatch
// @Summary     Get one batch
// @Tags        Batches
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Batch ID or virtual group key"
// @Success     200  {object}  services.BatchView
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /batches/{id} [get]
func (h *Handlers) GetBatch(c *gin.Context) {
	b, err := h.Batches.GetBatch(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// ClipStatuses godoc
// @ID          clipStatuses
// @Summary     Clip-level status of a batch
// @Tags        Batches
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Batch ID"
// @Success     200  {object}  services.ClipStatusView
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /batches/{id}/clips [get]
func (h *Handlers) ClipStatuses(c *gin.Context) {
	v, err := h.Batches.ClipStatuses(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// RetryClip godoc
// @ID          retryClip
// @Summary     Re-render one clip
// @Description Resets only the target clip and queues a new render. Sibling clips are untouched.
// @Tags        Batches
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Clip ID"
// @Success     202  {object}  handlers.AcceptedResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Clip not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Clip render already in flight"
// @Router      /clips/{id}/retry [post]
func (h *Handlers) RetryClip(c *gin.Context) {
	if err := h.Batches.RetryClip(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, AcceptedResponse{Status: "queued"})
}

// RetryVideo godoc
// @ID          retryVideo
// @Summary     Re-render every clip of a video
// @Tags        Batches
// @Produce     json
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Video ID"
// @Success     202  {object}  handlers.AcceptedResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Video not found"
// @Failure     409  {object}  handlers.ErrorResponse  "A clip render is already in flight"
// @Router      /videos/{id}/retry [post]
func (h *Handlers) RetryVideo(c *gin.Context) {
	if err := h.Batches.RetryVideo(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, AcceptedResponse{Status: "queued"})
}

// ExportCSV godoc
// @ID          exportBatchCSV
// @Summary     Download the Canva bulk-create CSV
// @Tags        Batches
// @Produce     text/csv
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Batch ID"
// @Success     200  {file}    file
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /batches/{id}/export.csv [get]
func (h *Handlers) ExportCSV(c *gin.Context) {
	exp, err := h.Batches.DownloadCSV(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	attachment(c, exp)
}

// ExportZIP godoc
// @ID          exportBatchZIP
// @Summary     Download texts, manifest and media as a ZIP
// @Description Media that cannot be fetched is left out; the texts and manifest are always present.
// @Tags        Batches
// @Produce     application/zip
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Batch ID"
// @Success     200  {file}    file
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Export failed"
// @Router      /batches/{id}/export.zip [get]
func (h *Handlers) ExportZIP(c *gin.Context) {
	exp, err := h.Batches.DownloadZIP(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	attachment(c, exp)
}

// CopyTexts godoc
// @ID          copyBatchTexts
// @Summary     All texts of a batch as plain text
// @Tags        Batches
// @Produce     plain
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Batch ID"
// @Success     200  {string}  string
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /batches/{id}/texts [get]
func (h *Handlers) CopyTexts(c *gin.Context) {
	txt, err := h.Batches.CopyAllTexts(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.String(http.StatusOK, txt)
}

func attachment(c *gin.Context, exp *services.Export) {
	if exp == nil || exp.Filename == "" {
		fail(c, http.StatusInternalServerError, ErrCodeExportFailed, "export produced no file")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+exp.Filename+`"`)
	c.Data(http.StatusOK, exp.ContentType, exp.Data)
}

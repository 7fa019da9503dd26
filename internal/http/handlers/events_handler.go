package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/services"
)

// maxBatchSubscriptions bounds the batch channels one stream may follow.
const maxBatchSubscriptions = 20

// Events godoc
// @ID          events
// @Summary     Server-sent change events
// @Description Streams job, order, clip, video and batch updates for the caller. Pass batch=<id> (repeatable or comma separated) to follow specific batches as well; batches the caller does not own are ignored.
// @Tags        Events
// @Produce     text/event-stream
// @Param       Authorization  header  string    false "Bearer token"
// @Param       batch          query   []string  false "Batch IDs"  collectionFormat(multi)
// @Success     200  {string}  string  "event stream"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     503  {object}  handlers.ErrorResponse  "Streaming disabled"
// @Router      /events [get]
func (h *Handlers) Events(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}
	if h.Hub == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "event stream unavailable")
		return
	}

	channels := []string{realtime.UserChannel(uid)}
	for _, raw := range c.QueryArray("batch") {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" || len(channels) > maxBatchSubscriptions {
				continue
			}
			// Only batches the caller owns.
			if h.Batches != nil {
				if _, err := h.Batches.GetBatch(c.Request.Context(), uid, id); err != nil {
					continue
				}
			}
			channels = append(channels, realtime.BatchChannel(id))
		}
	}

	client := h.Hub.NewClient(uid)
	defer h.Hub.Close(client)
	h.Hub.Subscribe(client, channels...)
	h.Hub.ServeHTTP(c.Writer, c.Request, client)
}

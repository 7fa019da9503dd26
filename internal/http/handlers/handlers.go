// Package handlers exposes the REST surface of the orchestration backend:
// planning, order status, the queue monitor and its sweeps, batches with
// their retries and exports, quota balances, planner memory, and the SSE
// event stream.
//
// Handlers are transport-thin: they bind and check input, call a service
// through the narrow interfaces below, and translate results into HTTP
// responses.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/http/middleware"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
	"github.com/tbourn/alfie-backend/internal/services"
	"github.com/tbourn/alfie-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// Planner turns intents into queued orders.
type Planner interface {
	Plan(ctx context.Context, userID string, in domain.Intent) (*services.PlanResult, error)
	Replay(ctx context.Context, userID, orderID string) (*services.PlanResult, error)
	GetOrder(ctx context.Context, userID, orderID string) (*services.OrderView, error)
}

// Queue is the worker queue: monitor, manual trigger, sweeps and retry.
type Queue interface {
	TriggerWorker(ctx context.Context, limit int) (int, error)
	UnlockStuck(ctx context.Context, minutes int) (services.SweepReport, error)
	FailExpired(ctx context.Context, hours int) (int, error)
	List(ctx context.Context, userID string, f repo.QueueFilter, page, pageSize int) (*services.QueuePage, error)
	Stats(ctx context.Context, userID string) (*services.QueueStats, error)
	Retry(ctx context.Context, userID, id string) (*domain.QueueEntry, error)
}

// Batches covers batch creation, read models, retries and exports.
type Batches interface {
	CreateBatch(ctx context.Context, userID string, req services.CreateBatchRequest) (*services.BatchView, error)
	LoadBatches(ctx context.Context, userID, brandID string) ([]services.BatchView, error)
	GetBatch(ctx context.Context, userID, batchID string) (*services.BatchView, error)
	ClipStatuses(ctx context.Context, userID, batchID string) (*services.ClipStatusView, error)
	RetryClip(ctx context.Context, userID, clipID string) error
	RetryVideo(ctx context.Context, userID, videoID string) error
	DownloadCSV(ctx context.Context, userID, batchID string) (*services.Export, error)
	DownloadZIP(ctx context.Context, userID, batchID string) (*services.Export, error)
	CopyAllTexts(ctx context.Context, userID, batchID string) (string, error)
}

// Quota reads brand ledgers.
type Quota interface {
	Balance(ctx context.Context, brandID string) (*services.QuotaBalance, error)
}

// Memory stores planner preferences per scope.
type Memory interface {
	Get(ctx context.Context, scope, scopeID string) (map[string]string, error)
	Put(ctx context.Context, scope, scopeID string, values map[string]string) error
}

// IdempotencyStore remembers which resource a (user, scope, key) produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, found bool)
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int)
}

// RepoIdempotency is the gorm-backed IdempotencyStore.
type RepoIdempotency struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Lookup returns the resource recorded for an unexpired key.
func (r RepoIdempotency) Lookup(ctx context.Context, userID, scope, key string) (string, bool) {
	rec, err := repo.GetIdempotency(ctx, r.DB, userID, scope, key, time.Now().UTC())
	if err != nil {
		return "", false
	}
	return rec.ResourceID, true
}

// Remember stores a key. A concurrent duplicate is not an error: the first
// writer wins and later replays resolve to its resource.
func (r RepoIdempotency) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID: uuid.NewString(), UserID: userID, Scope: scope, Key: key,
		ResourceID: resourceID, Status: status, CreatedAt: now, ExpiresAt: now.Add(ttl),
	}
	if err := repo.SaveIdempotency(ctx, r.DB, rec); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Warn().Err(err).Str("scope", scope).Str("user_id", userID).Msg("idempotency record not stored")
	}
}

//
// Handler wiring
//

// Deps groups what the handlers need. Sweep defaults apply when a request
// does not name its own threshold.
type Deps struct {
	Planner     Planner
	Queue       Queue
	Batches     Batches
	Quota       Quota
	Memory      Memory
	Hub         *realtime.Hub
	Idempotency IdempotencyStore

	TriggerLimit int
	StuckMinutes int
	MaxAgeHours  int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	Deps
}

// New constructs Handlers bound to the given services.
func New(d Deps) *Handlers {
	if d.TriggerLimit < 1 {
		d.TriggerLimit = 5
	}
	if d.StuckMinutes < 1 {
		d.StuckMinutes = 10
	}
	d.StuckMinutes = max(d.StuckMinutes, MinStuckMinutes)
	if d.MaxAgeHours < 1 {
		d.MaxAgeHours = 24
	}
	return &Handlers{Deps: d}
}

// userID returns the caller set by the auth middleware, or "" when the
// request is anonymous. Services reject "" with ErrUnauthorized.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	p := utils.Page{Number: page, Size: pageSize}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: p.Pages(total), HasNext: p.HasNext(total)}
}

// replayID returns the resource a previous request with the same
// Idempotency-Key produced, if any.
func (h *Handlers) replayID(c *gin.Context, scope string) (key, resourceID string, found bool) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok {
		return "", "", false
	}
	if rid, hit := middleware.ReplayResource(c); hit {
		return key, rid, true
	}
	if h.Idempotency == nil {
		return key, "", false
	}
	resourceID, found = h.Idempotency.Lookup(c.Request.Context(), userID(c), scope, key)
	return key, resourceID, found
}

func (h *Handlers) remember(c *gin.Context, scope, key, resourceID string, status int) {
	if key == "" || h.Idempotency == nil {
		return
	}
	h.Idempotency.Remember(c.Request.Context(), userID(c), scope, key, resourceID, status)
}

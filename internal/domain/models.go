// Package domain defines the persistence models for orders, pipeline jobs,
// the worker queue, video batches, quota ledgers, and planner memory. These
// types are mapped with GORM and shared by the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Order lifecycle statuses.
const (
	OrderDraft      = "draft"
	OrderQueued     = "queued"
	OrderProcessing = "processing"
	OrderDone       = "done"
	OrderFailed     = "failed"
)

// Job stage kinds, in pipeline order.
const (
	StageCopy    = "copy"
	StageVision  = "vision"
	StageRender  = "render"
	StageUpload  = "upload"
	StageThumb   = "thumb"
	StagePublish = "publish"
)

// Job and queue entry statuses. Blocked entries wait on their predecessor.
const (
	JobQueued    = "queued"
	JobBlocked   = "blocked"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Queue entry types.
const (
	QueueTypeStage = "stage" // one pipeline Job of an Order
	QueueTypeClip  = "clip"  // one BatchClip render
)

// Order is a durable record of one planned generation request. It owns an
// immutable snapshot of the Intent (after defaults) and the derived Jobs.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID / BrandID: owner and brand scope; indexed for listing.
//   - IntentJSON: Intent snapshot taken at plan time.
//   - Status: draft → queued → processing → done|failed.
//   - Error: terminal error copied from the failing Job, if any.
type Order struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID     string         `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_orders_user"`
	BrandID    string         `json:"brand_id"    gorm:"type:varchar(64);not null;index"`
	IntentJSON datatypes.JSON `json:"intent"      swaggertype:"object"`
	Status     string         `json:"status"      gorm:"type:varchar(16);not null;default:'draft'"`
	Error      string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Job is one pipeline stage of an Order. Position orders stages within the
// Order; PredecessorID points at the stage that must complete first.
type Job struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	OrderID       string         `json:"order_id"       gorm:"type:char(36);not null;index:idx_jobs_order,priority:1"`
	Position      int            `json:"position"       gorm:"not null;index:idx_jobs_order,priority:2"`
	Kind          string         `json:"kind"           gorm:"type:varchar(16);not null"`
	Payload       datatypes.JSON `json:"payload"        swaggertype:"object"`
	Output        datatypes.JSON `json:"output,omitempty" swaggertype:"object"`
	Status        string         `json:"status"         gorm:"type:varchar(16);not null;default:'queued'"`
	Attempt       int            `json:"attempt"        gorm:"not null;default:0"`
	MaxAttempts   int            `json:"max_attempts"   gorm:"not null;default:3"`
	PredecessorID *string        `json:"predecessor_id,omitempty" gorm:"type:char(36)"`
	Error         string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Order is the owning order. Jobs are cascade-deleted with it.
	Order Order `json:"-" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// QueueEntry is an atomic unit of work for the worker (the job_queue table
// the monitor reads). Stage entries mirror one Job; clip entries render one
// BatchClip.
//
// Fields:
//   - Type: "stage" or "clip".
//   - Kind: stage kind for stage entries, "render" for clips.
//   - Status: queued|blocked|running|completed|failed.
//   - Attempts / MaxAttempts: claim counter and its ceiling.
//   - PredecessorID: queue entry gating this one while blocked.
//   - StartedAt: time of the latest claim; used by the stuck sweep.
type QueueEntry struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	Type          string     `json:"type"           gorm:"type:varchar(16);not null"`
	Kind          string     `json:"kind"           gorm:"type:varchar(16);not null"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null;index:idx_queue_status_created,priority:1"`
	Attempts      int        `json:"attempts"       gorm:"not null;default:0"`
	MaxAttempts   int        `json:"max_attempts"   gorm:"not null;default:3"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
	UserID        string     `json:"user_id"        gorm:"type:varchar(64);not null;index"`
	BrandID       string     `json:"brand_id"       gorm:"type:varchar(64)"`
	OrderID       *string    `json:"order_id,omitempty"       gorm:"type:char(36);index"`
	JobID         *string    `json:"job_id,omitempty"         gorm:"type:char(36);index"`
	ClipID        *string    `json:"clip_id,omitempty"        gorm:"type:char(36);index"`
	PredecessorID *string    `json:"predecessor_id,omitempty" gorm:"type:char(36);index"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"     gorm:"index:idx_queue_status_created,priority:2"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for QueueEntry.
func (QueueEntry) TableName() string { return "job_queue" }

// Terminal reports whether the entry reached completed or failed.
func (q QueueEntry) Terminal() bool {
	return q.Status == JobCompleted || q.Status == JobFailed
}

// MemoryEntry is one remembered preference used by the planner to fill
// still-empty Intent fields. ScopeID is empty for the global scope.
type MemoryEntry struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Scope     string    `json:"scope"     gorm:"type:varchar(16);not null;uniqueIndex:ux_memory_scope_key,priority:1"`
	ScopeID   string    `json:"scope_id"  gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_memory_scope_key,priority:2"`
	Key       string    `json:"key"       gorm:"type:varchar(64);not null;uniqueIndex:ux_memory_scope_key,priority:3"`
	Value     string    `json:"value"     gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for MemoryEntry.
func (MemoryEntry) TableName() string { return "memories" }

// Memory scopes, read in increasing precedence.
const (
	MemoryGlobal = "global"
	MemoryUser   = "user"
	MemoryBrand  = "brand"
)

// Memory keys understood by the planner. Ratio preferences are stored per
// content kind as "ratio.<kind>".
const (
	MemoryKeyCTA            = "cta"
	MemoryKeyPaletteLock    = "palette_lock"
	MemoryKeyTypographyLock = "typography_lock"
	MemoryKeyRatioPrefix    = "ratio."
)

package domain

import (
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Clip statuses as stored. Legacy aliases (pending, done, error) are accepted
// on read and folded by NormalizeClipStatus.
const (
	ClipQueued     = "queued"
	ClipPending    = "pending"
	ClipProcessing = "processing"
	ClipCompleted  = "completed"
	ClipDone       = "done"
	ClipFailed     = "failed"
	ClipError      = "error"
)

// Derived video/batch statuses.
const (
	RollupPending    = "pending"
	RollupProcessing = "processing"
	RollupDone       = "done"
	RollupFailed     = "failed"
)

// VideoBatch is an explicitly created batch of N videos with M clips each.
//
// Fields:
//   - Settings: generation settings snapshot (videos, clips per video, ratio, style).
//   - Status: last persisted roll-up; read models always recompute from clips.
type VideoBatch struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_batches_user"`
	BrandID   string         `json:"brand_id"   gorm:"type:varchar(64);index"`
	Title     string         `json:"title"      gorm:"type:varchar(255)"`
	Settings  datatypes.JSON `json:"settings"   swaggertype:"object"`
	Status    string         `json:"status"     gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	Videos []BatchVideo `json:"videos,omitempty" gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for VideoBatch.
func (VideoBatch) TableName() string { return "video_batches" }

// BatchVideo is one video of a batch, with the texts used for export.
type BatchVideo struct {
	ID        string    `json:"id"          gorm:"type:char(36);primaryKey"`
	BatchID   string    `json:"batch_id"    gorm:"type:char(36);not null;index:idx_videos_batch,priority:1"`
	Index     int       `json:"video_index" gorm:"column:video_index;not null;index:idx_videos_batch,priority:2"`
	Title     string    `json:"title"       gorm:"type:varchar(255)"`
	Hook      string    `json:"hook"        gorm:"type:text"`
	Script    string    `json:"script"      gorm:"type:text"`
	CTA       string    `json:"cta"         gorm:"type:varchar(255)"`
	Caption   string    `json:"caption"     gorm:"type:text"`
	Status    string    `json:"status"      gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Clips []BatchClip `json:"clips,omitempty" gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for BatchVideo.
func (BatchVideo) TableName() string { return "batch_videos" }

// BatchClip is the atomic render unit. Its status is authoritative for every
// roll-up above it.
type BatchClip struct {
	ID        string    `json:"id"          gorm:"type:char(36);primaryKey"`
	BatchID   string    `json:"batch_id"    gorm:"type:char(36);not null;index"`
	VideoID   string    `json:"video_id"    gorm:"type:char(36);not null;index:idx_clips_video,priority:1"`
	Index     int       `json:"clip_index"  gorm:"column:clip_index;not null;index:idx_clips_video,priority:2"`
	Prompt    string    `json:"prompt"      gorm:"type:text"`
	Status    string    `json:"status"      gorm:"type:varchar(16);not null;default:'queued'"`
	URL       string    `json:"url,omitempty"       gorm:"type:text"`
	ThumbURL  string    `json:"thumb_url,omitempty" gorm:"type:text"`
	Duration  float64   `json:"duration,omitempty"`
	Error     string    `json:"error,omitempty"     gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for BatchClip.
func (BatchClip) TableName() string { return "batch_clips" }

// GenerationRecord is a standalone generation (outside any explicit batch).
// Records sharing a ScriptGroup are presented together as a virtual batch.
type GenerationRecord struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;index"`
	BrandID     string    `json:"brand_id"     gorm:"type:varchar(64);index"`
	ScriptGroup string    `json:"script_group" gorm:"type:varchar(128);index"`
	Title       string    `json:"title"        gorm:"type:varchar(255)"`
	Prompt      string    `json:"prompt"       gorm:"type:text"`
	Script      string    `json:"script"       gorm:"type:text"`
	Status      string    `json:"status"       gorm:"type:varchar(16);not null"`
	URL         string    `json:"url,omitempty" gorm:"type:text"`
	Duration    float64   `json:"duration,omitempty"`
	Error       string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for GenerationRecord.
func (GenerationRecord) TableName() string { return "generation_records" }

// NormalizeClipStatus folds stored status aliases into pending, processing,
// completed or failed. Unknown values count as pending.
func NormalizeClipStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ClipProcessing, "running":
		return ClipProcessing
	case ClipCompleted, ClipDone:
		return ClipCompleted
	case ClipFailed, ClipError:
		return ClipFailed
	default:
		return ClipPending
	}
}

// Rollup is the derived progress of a video or a batch.
type Rollup struct {
	Status         string `json:"status"`
	TotalClips     int    `json:"total_clips"`
	CompletedClips int    `json:"completed_clips"`
	ErrorClips     int    `json:"error_clips"`
	Progress       int    `json:"progress"`
}

// Progress returns round(completed/total*100), or 0 when total is 0.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// RollupClips derives a video's status from its clips: failed if any clip
// failed, done if every clip completed, processing otherwise. A video with
// no clips is never done, so an empty result cannot report a finished
// batch; batch creation rejects empty videos.
func RollupClips(clips []BatchClip) Rollup {
	r := Rollup{TotalClips: len(clips)}
	for _, c := range clips {
		switch NormalizeClipStatus(c.Status) {
		case ClipCompleted:
			r.CompletedClips++
		case ClipFailed:
			r.ErrorClips++
		}
	}
	r.Status = rollupStatus(r.ErrorClips > 0, r.TotalClips > 0 && r.CompletedClips == r.TotalClips)
	r.Progress = Progress(r.CompletedClips, r.TotalClips)
	return r
}

// RollupVideos applies the same rule one level up over video roll-ups while
// summing clip counts across all videos.
func RollupVideos(videos []Rollup) Rollup {
	r := Rollup{}
	anyFailed := false
	allDone := len(videos) > 0
	for _, v := range videos {
		r.TotalClips += v.TotalClips
		r.CompletedClips += v.CompletedClips
		r.ErrorClips += v.ErrorClips
		if v.Status == RollupFailed {
			anyFailed = true
		}
		if v.Status != RollupDone {
			allDone = false
		}
	}
	r.Status = rollupStatus(anyFailed, allDone)
	r.Progress = Progress(r.CompletedClips, r.TotalClips)
	return r
}

func rollupStatus(anyFailed, allDone bool) string {
	switch {
	case anyFailed:
		return RollupFailed
	case allDone:
		return RollupDone
	default:
		return RollupProcessing
	}
}

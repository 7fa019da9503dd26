package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/observability"
	"github.com/tbourn/alfie-backend/internal/promptguard"
	"github.com/tbourn/alfie-backend/internal/providers"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
)

// Batch sources.
const (
	SourceExplicit = "explicit"
	SourceVirtual  = "virtual"
)

// BatchSettings is the generation snapshot stored on a batch.
type BatchSettings struct {
	Videos        int    `json:"videos"`
	ClipsPerVideo int    `json:"clips_per_video"`
	Ratio         string `json:"ratio"`
	Style         string `json:"style,omitempty"`
	Quality       string `json:"quality"`
	ClipDurationS int    `json:"clip_duration_s"`
}

// VideoSpec is one requested video: its texts and one prompt per clip.
type VideoSpec struct {
	Title   string   `json:"title"   validate:"max=255"`
	Hook    string   `json:"hook"    validate:"max=1000"`
	Script  string   `json:"script"  validate:"max=8000"`
	CTA     string   `json:"cta"     validate:"max=255"`
	Caption string   `json:"caption" validate:"max=2200"`
	Clips   []string `json:"clips"   validate:"required,min=1,max=10,dive,required,max=4000"`
}

// CreateBatchRequest describes N videos of M clips each.
type CreateBatchRequest struct {
	BrandID       string      `json:"brandId"       validate:"required,max=64"`
	Title         string      `json:"title"         validate:"max=255"`
	Ratio         string      `json:"ratio"         validate:"omitempty,oneof=1:1 9:16 16:9 3:4"`
	Style         string      `json:"style"         validate:"max=200"`
	Quality       string      `json:"quality"       validate:"omitempty,oneof=fast high"`
	ClipDurationS int         `json:"clipDurationS" validate:"omitempty,min=2,max=30"`
	Videos        []VideoSpec `json:"videos"        validate:"required,min=1,max=10,dive"`
}

// VideoView is a video with its derived roll-up.
type VideoView struct {
	ID      string `json:"id"`
	Index   int    `json:"video_index"`
	Title   string `json:"title"`
	Hook    string `json:"hook,omitempty"`
	Script  string `json:"script,omitempty"`
	CTA     string `json:"cta,omitempty"`
	Caption string `json:"caption,omitempty"`
	domain.Rollup
	Clips []domain.BatchClip `json:"clips"`
}

// BatchView is either an explicit batch record or a virtual batch built from
// generation records sharing a script group. For virtual batches ID is the
// group key.
type BatchView struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	UserID    string         `json:"-"`
	BrandID   string         `json:"brand_id"`
	Title     string         `json:"title"`
	Settings  *BatchSettings `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	domain.Rollup
	Videos []VideoView `json:"videos"`
}

// ClipStatusView is the clip-level sub-status of one batch.
type ClipStatusView struct {
	BatchID string `json:"batch_id"`
	domain.Rollup
	Clips []domain.BatchClip `json:"clips"`
}

// BatchService coordinates batch creation, read models, retries and export.
type BatchService struct {
	DB          *gorm.DB
	Guard       *promptguard.Guard
	Fetcher     providers.Fetcher
	Events      realtime.Publisher
	MaxAttempts int

	validate *validator.Validate
}

// NewBatchService wires a batch service with its validator.
func NewBatchService(db *gorm.DB, guard *promptguard.Guard, fetcher providers.Fetcher, events realtime.Publisher, maxAttempts int) *BatchService {
	if guard == nil {
		guard = promptguard.Default()
	}
	if events == nil {
		events = realtime.Nop{}
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return &BatchService{DB: db, Guard: guard, Fetcher: fetcher, Events: events, MaxAttempts: maxAttempts, validate: v}
}

// CreateBatch validates req, gates every clip prompt for named people, and
// stores the batch with one render entry per clip.
func (s *BatchService) CreateBatch(ctx context.Context, userID string, req CreateBatchRequest) (*BatchView, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "CreateBatch", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("batch.videos", len(req.Videos)),
	))
	defer span.End()

	if userID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	var names []string
	var suggestions []string
	for _, v := range req.Videos {
		for _, p := range v.Clips {
			if viol := s.Guard.DetectCelebrityViolation(p); viol != nil {
				names = append(names, viol.MatchedNames...)
				suggestions = viol.Suggestions
			}
		}
	}
	if len(names) > 0 {
		return nil, &ContentPolicyError{
			Message:      "clip prompts reference real people: " + strings.Join(dedupe(names), ", "),
			Suggestions:  suggestions,
			MatchedNames: dedupe(names),
		}
	}

	settings := BatchSettings{
		Videos:        len(req.Videos),
		ClipsPerVideo: len(req.Videos[0].Clips),
		Ratio:         orDefault(req.Ratio, domain.Ratio9x16),
		Style:         req.Style,
		Quality:       orDefault(req.Quality, domain.QualityFast),
		ClipDurationS: req.ClipDurationS,
	}
	if settings.ClipDurationS == 0 {
		settings.ClipDurationS = 8
	}
	rawSettings, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b := &domain.VideoBatch{
		ID:        uuid.NewString(),
		UserID:    userID,
		BrandID:   req.BrandID,
		Title:     orDefault(strings.TrimSpace(req.Title), "Untitled batch"),
		Settings:  datatypes.JSON(rawSettings),
		Status:    domain.RollupPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var entries []domain.QueueEntry
	for vi, spec := range req.Videos {
		v := domain.BatchVideo{
			ID:        uuid.NewString(),
			BatchID:   b.ID,
			Index:     vi,
			Title:     orDefault(strings.TrimSpace(spec.Title), fmt.Sprintf("Video %d", vi+1)),
			Hook:      spec.Hook,
			Script:    spec.Script,
			CTA:       spec.CTA,
			Caption:   spec.Caption,
			Status:    domain.RollupPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for ci, prompt := range spec.Clips {
			c := domain.BatchClip{
				ID:        uuid.NewString(),
				BatchID:   b.ID,
				VideoID:   v.ID,
				Index:     ci,
				Prompt:    prompt,
				Status:    domain.ClipQueued,
				CreatedAt: now,
				UpdatedAt: now,
			}
			v.Clips = append(v.Clips, c)
			entries = append(entries, s.clipEntry(userID, b.BrandID, c.ID, now.Add(time.Duration(len(entries))*time.Microsecond)))
		}
		b.Videos = append(b.Videos, v)
	}

	if err := repo.CreateBatch(ctx, s.DB, b, entries); err != nil {
		return nil, observability.SpanError(span, err)
	}
	log.Info().Str("batch_id", b.ID).Str("user_id", userID).Int("clips", len(entries)).Msg("batch created")
	s.publish(ctx, realtime.UserChannel(userID), realtime.EventBatchUpdated, map[string]string{"batch_id": b.ID, "status": b.Status})

	view := explicitView(*b)
	return &view, nil
}

func (s *BatchService) validateRequest(req CreateBatchRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return &ValidationError{Fields: []FieldError{{Field: "batch", Message: err.Error()}}}
		}
		out := &ValidationError{}
		for _, fe := range ves {
			out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe.Namespace()), Message: ruleMessage(fe)})
		}
		return out
	}
	n := len(req.Videos[0].Clips)
	for i, v := range req.Videos {
		if len(v.Clips) != n {
			return &ValidationError{Fields: []FieldError{{
				Field:   fmt.Sprintf("videos[%d].clips", i),
				Message: fmt.Sprintf("every video needs the same clip count (%d)", n),
			}}}
		}
	}
	return nil
}

func (s *BatchService) clipEntry(userID, brandID, clipID string, created time.Time) domain.QueueEntry {
	id := clipID
	return domain.QueueEntry{
		ID:          uuid.NewString(),
		Type:        domain.QueueTypeClip,
		Kind:        domain.StageRender,
		Status:      domain.JobQueued,
		MaxAttempts: s.MaxAttempts,
		UserID:      userID,
		BrandID:     brandID,
		ClipID:      &id,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// LoadBatches returns the user's explicit and virtual batches, newest first.
// A virtual batch whose group key equals an explicit batch id is dropped.
func (s *BatchService) LoadBatches(ctx context.Context, userID, brandID string) ([]BatchView, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "LoadBatches", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("brand.id", brandID),
	))
	defer span.End()

	var (
		explicit []domain.VideoBatch
		records  []domain.GenerationRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		explicit, err = repo.ListBatches(gctx, s.DB, userID, brandID)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = repo.ListGroupedRecords(gctx, s.DB, userID, brandID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return MergeBatches(explicit, GroupRecords(records)), nil
}

// VirtualGroup is the records sharing one script group.
type VirtualGroup struct {
	Key     string
	Records []domain.GenerationRecord
}

// GroupRecords groups records by script group, keeping first-seen order.
func GroupRecords(records []domain.GenerationRecord) []VirtualGroup {
	idx := map[string]int{}
	var out []VirtualGroup
	for _, r := range records {
		if r.ScriptGroup == "" {
			continue
		}
		i, ok := idx[r.ScriptGroup]
		if !ok {
			i = len(out)
			idx[r.ScriptGroup] = i
			out = append(out, VirtualGroup{Key: r.ScriptGroup})
		}
		out[i].Records = append(out[i].Records, r)
	}
	return out
}

// MergeBatches combines explicit batches and virtual groups into one list
// ordered newest first. Explicit batches win on id collisions.
func MergeBatches(explicit []domain.VideoBatch, groups []VirtualGroup) []BatchView {
	out := make([]BatchView, 0, len(explicit)+len(groups))
	seen := make(map[string]bool, len(explicit))
	for _, b := range explicit {
		seen[b.ID] = true
		out = append(out, explicitView(b))
	}
	for _, g := range groups {
		if seen[g.Key] {
			continue
		}
		out = append(out, virtualView(g))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func explicitView(b domain.VideoBatch) BatchView {
	v := BatchView{
		ID:        b.ID,
		Source:    SourceExplicit,
		UserID:    b.UserID,
		BrandID:   b.BrandID,
		Title:     b.Title,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
		Videos:    make([]VideoView, 0, len(b.Videos)),
	}
	if len(b.Settings) > 0 {
		var st BatchSettings
		if json.Unmarshal(b.Settings, &st) == nil {
			v.Settings = &st
		}
	}
	rollups := make([]domain.Rollup, 0, len(b.Videos))
	for _, bv := range b.Videos {
		r := domain.RollupClips(bv.Clips)
		rollups = append(rollups, r)
		v.Videos = append(v.Videos, VideoView{
			ID: bv.ID, Index: bv.Index, Title: bv.Title, Hook: bv.Hook, Script: bv.Script,
			CTA: bv.CTA, Caption: bv.Caption, Rollup: r, Clips: normalizeClips(bv.Clips),
		})
	}
	v.Rollup = domain.RollupVideos(rollups)
	return v
}

// virtualView maps every record of a group to a one-clip video.
func virtualView(g VirtualGroup) BatchView {
	v := BatchView{ID: g.Key, Source: SourceVirtual, Title: g.Key, Videos: make([]VideoView, 0, len(g.Records))}
	rollups := make([]domain.Rollup, 0, len(g.Records))
	for i, r := range g.Records {
		if i == 0 {
			v.UserID, v.BrandID, v.CreatedAt = r.UserID, r.BrandID, r.CreatedAt
		}
		if r.UpdatedAt.After(v.UpdatedAt) {
			v.UpdatedAt = r.UpdatedAt
		}
		clip := domain.BatchClip{
			ID: r.ID, BatchID: g.Key, VideoID: r.ID, Prompt: r.Prompt,
			Status: domain.NormalizeClipStatus(r.Status), URL: r.URL, Duration: r.Duration, Error: r.Error,
			CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
		ru := domain.RollupClips([]domain.BatchClip{clip})
		rollups = append(rollups, ru)
		title := r.Title
		if title == "" {
			title = fmt.Sprintf("Video %d", i+1)
		}
		v.Videos = append(v.Videos, VideoView{ID: r.ID, Index: i, Title: title, Script: r.Script, Rollup: ru, Clips: []domain.BatchClip{clip}})
	}
	v.Rollup = domain.RollupVideos(rollups)
	return v
}

func normalizeClips(in []domain.BatchClip) []domain.BatchClip {
	out := make([]domain.BatchClip, len(in))
	for i, c := range in {
		c.Status = domain.NormalizeClipStatus(c.Status)
		out[i] = c
	}
	return out
}

// GetBatch returns one batch by id. Explicit batches are looked up first,
// then virtual groups.
func (s *BatchService) GetBatch(ctx context.Context, userID, batchID string) (*BatchView, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "GetBatch", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	b, err := repo.GetBatch(ctx, s.DB, batchID, userID)
	if err == nil {
		v := explicitView(*b)
		return &v, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	recs, err := repo.ListGroupRecords(ctx, s.DB, userID, batchID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	v := virtualView(VirtualGroup{Key: batchID, Records: recs})
	return &v, nil
}

// ClipStatuses reloads only the clip rows of a batch and their roll-up.
func (s *BatchService) ClipStatuses(ctx context.Context, userID, batchID string) (*ClipStatusView, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "ClipStatuses", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	if _, err := repo.GetBatch(ctx, s.DB, batchID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	clips, err := repo.ListBatchClips(ctx, s.DB, batchID)
	if err != nil {
		return nil, err
	}
	return &ClipStatusView{BatchID: batchID, Rollup: rollupByVideo(clips), Clips: normalizeClips(clips)}, nil
}

// rollupByVideo groups clips by video (they arrive in video order) and
// rolls them up level by level.
func rollupByVideo(clips []domain.BatchClip) domain.Rollup {
	var (
		rollups []domain.Rollup
		cur     []domain.BatchClip
	)
	for i, c := range clips {
		if i > 0 && c.VideoID != clips[i-1].VideoID {
			rollups = append(rollups, domain.RollupClips(cur))
			cur = nil
		}
		cur = append(cur, c)
	}
	if len(cur) > 0 {
		rollups = append(rollups, domain.RollupClips(cur))
	}
	return domain.RollupVideos(rollups)
}

// RetryClip resets exactly one clip to pending and queues a new render for
// it. Sibling clips are not touched.
func (s *BatchService) RetryClip(ctx context.Context, userID, clipID string) error {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "RetryClip", trace.WithAttributes(attribute.String("clip.id", clipID)))
	defer span.End()

	clip, err := repo.GetOwnedClip(ctx, s.DB, clipID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	b, err := repo.GetBatch(ctx, s.DB, clip.BatchID, userID)
	if err != nil {
		return err
	}

	// The reset only matches a settled clip, so concurrent retries of the
	// same clip queue exactly one render.
	now := time.Now().UTC()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := repo.ActiveClipEntries(ctx, tx, []string{clip.ID})
		if err != nil {
			return err
		}
		if active[clip.ID] {
			return repo.ErrConflict
		}
		if err := repo.ResetClip(ctx, tx, clip.ID, now); err != nil {
			return err
		}
		return repo.EnqueueEntries(ctx, tx, []domain.QueueEntry{s.clipEntry(userID, b.BrandID, clip.ID, now)})
	})
	if errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("%w: clip is already queued or rendering", ErrConflict)
	}
	if err != nil {
		return err
	}

	log.Info().Str("clip_id", clip.ID).Str("batch_id", clip.BatchID).Msg("clip requeued")
	s.RefreshRollup(ctx, userID, clip.BatchID, clip.VideoID)
	return nil
}

// RetryVideo resets every clip of a video to pending, persists the video as
// pending, and queues one render per clip.
func (s *BatchService) RetryVideo(ctx context.Context, userID, videoID string) error {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "RetryVideo", trace.WithAttributes(attribute.String("video.id", videoID)))
	defer span.End()

	v, err := repo.GetOwnedVideo(ctx, s.DB, videoID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	ids := make([]string, 0, len(v.Clips))
	for _, c := range v.Clips {
		ids = append(ids, c.ID)
	}
	b, err := repo.GetBatch(ctx, s.DB, v.BatchID, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entries := make([]domain.QueueEntry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, s.clipEntry(userID, b.BrandID, id, now.Add(time.Duration(i)*time.Microsecond)))
	}
	var busy int
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := repo.ActiveClipEntries(ctx, tx, ids)
		if err != nil {
			return err
		}
		if busy = len(active); busy > 0 {
			return repo.ErrConflict
		}
		if err := repo.ResetVideo(ctx, tx, v.ID, now); err != nil {
			return err
		}
		return repo.EnqueueEntries(ctx, tx, entries)
	})
	if errors.Is(err, repo.ErrConflict) {
		if busy > 0 {
			return fmt.Errorf("%w: %d clips are still queued or rendering", ErrConflict, busy)
		}
		return fmt.Errorf("%w: video has clips that are not settled", ErrConflict)
	}
	if err != nil {
		return err
	}

	log.Info().Str("video_id", v.ID).Int("clips", len(ids)).Msg("video requeued")
	s.RefreshRollup(ctx, userID, v.BatchID, "")
	return nil
}

// RefreshRollup recomputes and persists the status of one video (when
// videoID is set) and of its batch, then notifies subscribers. Failures are
// logged; clip rows stay authoritative either way.
func (s *BatchService) RefreshRollup(ctx context.Context, userID, batchID, videoID string) {
	clips, err := repo.ListBatchClips(ctx, s.DB, batchID)
	if err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("batch roll-up reload failed")
		return
	}
	if videoID != "" {
		var own []domain.BatchClip
		for _, c := range clips {
			if c.VideoID == videoID {
				own = append(own, c)
			}
		}
		vr := domain.RollupClips(own)
		if err := repo.SaveVideoStatus(ctx, s.DB, videoID, vr.Status); err != nil {
			log.Warn().Err(err).Str("video_id", videoID).Msg("video status save failed")
		}
		s.publish(ctx, realtime.BatchChannel(batchID), realtime.EventVideoUpdated, map[string]any{"video_id": videoID, "rollup": vr})
	}
	br := rollupByVideo(clips)
	if err := repo.SaveBatchStatus(ctx, s.DB, batchID, br.Status); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("batch status save failed")
	}
	data := map[string]any{"batch_id": batchID, "rollup": br}
	s.publish(ctx, realtime.BatchChannel(batchID), realtime.EventBatchUpdated, data)
	if userID != "" {
		s.publish(ctx, realtime.UserChannel(userID), realtime.EventBatchUpdated, data)
	}
}

// PublishClip notifies subscribers of a clip transition.
func (s *BatchService) PublishClip(ctx context.Context, userID string, clip domain.BatchClip) {
	clip.Status = domain.NormalizeClipStatus(clip.Status)
	s.publish(ctx, realtime.BatchChannel(clip.BatchID), realtime.EventClipUpdated, clip)
	if userID != "" {
		s.publish(ctx, realtime.UserChannel(userID), realtime.EventClipUpdated, clip)
	}
}

func (s *BatchService) publish(ctx context.Context, channel string, typ realtime.EventType, data any) {
	if err := s.Events.Publish(ctx, realtime.Event{Channel: channel, Type: typ, Data: data}); err != nil {
		log.Warn().Err(err).Str("channel", channel).Str("type", string(typ)).Msg("event publish failed")
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

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
	"github.com/tbourn/alfie-backend/internal/utils"
)

// Worker outcomes, used as metric labels.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeReleased  = "released"
	OutcomeError     = "error"
)

var policySuggestions = []string{
	"Remove brand names and describe the product generically.",
	"Describe people by role or style instead of by name.",
	"Simplify the prompt and try again.",
}

// StageOutput is what a finished entry stores on its Job. Later stages read
// the outputs of the stages before them.
type StageOutput struct {
	Prompt       string                    `json:"prompt,omitempty"`
	Replacements []promptguard.Replacement `json:"replacements,omitempty"`
	Warnings     []string                  `json:"warnings,omitempty"`
	Copy         *providers.CopyResult     `json:"copy,omitempty"`
	Provider     string                    `json:"provider,omitempty"`
	CostWoofs    int                       `json:"cost_woofs,omitempty"`
	URLs         []string                  `json:"urls,omitempty"`
	ThumbURL     string                    `json:"thumb_url,omitempty"`
	Duration     float64                   `json:"duration,omitempty"`
	PublishedAt  *time.Time                `json:"published_at,omitempty"`
}

// QueuePage is one page of the queue monitor.
type QueuePage struct {
	Items    []domain.QueueEntry `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// QueueStats summarizes a user's queue.
type QueueStats struct {
	Counts      map[string]int64 `json:"counts"`
	Total       int64            `json:"total"`
	LastUpdated *time.Time       `json:"last_updated,omitempty"`
}

// SweepReport counts what a recovery sweep moved.
type SweepReport struct {
	Unlocked int `json:"unlocked"`
	Failed   int `json:"failed"`
}

// QueueService runs claimed queue entries through their stage handlers and
// owns the recovery sweeps and the monitor read model.
//
// Retry policy differs by entry type. Pipeline stage entries go back to the
// queue on retryable provider errors until max_attempts. Clip entries fail
// on the first provider error and are refunded; the user retries them
// through BatchService.RetryClip or RetryVideo. An entry interrupted by
// cancellation is released to queued without charging an attempt.
//
// Store may be nil, in which case provider URLs are kept as-is and the thumb
// stage is skipped.
type QueueService struct {
	DB          *gorm.DB
	Guard       *promptguard.Guard
	Selector    providers.Selector
	Renderer    providers.Renderer
	Store       providers.AssetStore
	Fetcher     providers.Fetcher
	Thumbs      providers.Thumbnailer
	Quota       *QuotaService
	Batches     *BatchService
	Events      realtime.Publisher
	Concurrency int
	Now         func() time.Time
}

func (s *QueueService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *QueueService) guard() *promptguard.Guard {
	if s.Guard == nil {
		return promptguard.Default()
	}
	return s.Guard
}

// TriggerWorker claims up to limit due entries and processes them. It returns
// the number of entries claimed. Per-entry failures are recorded on the
// entries, not returned.
func (s *QueueService) TriggerWorker(ctx context.Context, limit int) (int, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "TriggerWorker", trace.WithAttributes(attribute.Int("queue.limit", limit)))
	defer span.End()

	if limit < 1 {
		limit = 1
	}
	claimed, err := repo.ClaimQueueEntries(ctx, s.DB, limit, s.now())
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.Concurrency))
	for _, e := range claimed {
		g.Go(func() error {
			s.process(gctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// process runs one claimed entry and records the outcome.
func (s *QueueService) process(ctx context.Context, e domain.QueueEntry) string {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "process", trace.WithAttributes(
		attribute.String("entry.id", e.ID),
		attribute.String("entry.type", e.Type),
		attribute.String("entry.kind", e.Kind),
	))
	defer span.End()

	l := log.With().Str("component", "worker").Str("entry_id", e.ID).Str("type", e.Type).Str("kind", e.Kind).Logger()
	start := time.Now()

	var (
		out StageOutput
		err error
	)
	if e.Type == domain.QueueTypeClip {
		out, err = s.runClip(ctx, e)
	} else {
		out, err = s.runStage(ctx, e)
	}

	// A run cut short by shutdown or a dropped trigger request says nothing
	// about the provider: hand the entry back untouched.
	stopped := err != nil && ctx.Err() != nil

	// Outcomes are recorded even when the worker is shutting down.
	ctx = context.WithoutCancel(ctx)
	outcome := OutcomeCompleted
	errMsg := ""
	if stopped {
		if _, rerr := repo.ReleaseQueueEntry(ctx, s.DB, e.ID, s.now()); rerr != nil {
			l.Error().Err(rerr).Msg("release entry failed")
			outcome = OutcomeError
		} else {
			outcome = OutcomeReleased
			l.Info().Err(err).Msg("entry released, worker stopped")
		}
		err = nil
	}
	if err == nil && !stopped {
		raw, merr := json.Marshal(out)
		if merr != nil {
			err = merr
		} else if _, cerr := repo.CompleteQueueEntry(ctx, s.DB, e.ID, datatypes.JSON(raw), s.now()); cerr != nil {
			l.Error().Err(cerr).Msg("complete entry failed")
			outcome = OutcomeError
		}
	}
	if err != nil {
		observability.SpanError(span, err)
		span.SetAttributes(attribute.Int("entry.attempts", e.Attempts))
		errMsg = err.Error()
		retry := retryable(err)
		if e.Type == domain.QueueTypeClip && errors.Is(err, ErrProviderFailure) {
			retry = false
		}
		fo, ferr := repo.FailQueueEntry(ctx, s.DB, e.ID, errMsg, retry, s.now())
		switch {
		case ferr != nil:
			l.Error().Err(ferr).Msg("fail entry failed")
			outcome = OutcomeError
		case fo.Requeued:
			outcome = OutcomeRetried
		default:
			outcome = OutcomeFailed
		}
		ev := l.Warn()
		if outcome == OutcomeFailed {
			ev = l.Error()
		}
		ev.Err(err).Str("outcome", outcome).Int("attempts", fo.Entry.Attempts).Msg("entry failed")
	} else if outcome == OutcomeCompleted {
		l.Info().Dur("took", time.Since(start)).Msg("entry completed")
	}

	span.SetAttributes(attribute.String("entry.outcome", outcome))
	observability.JobsProcessed.WithLabelValues(metricKind(e), outcome).Inc()
	if e.Type == domain.QueueTypeClip {
		s.afterClip(ctx, e, outcome, errMsg)
	} else {
		s.afterStage(ctx, e, outcome)
	}
	return outcome
}

func metricKind(e domain.QueueEntry) string {
	if e.Type == domain.QueueTypeClip {
		return "clip"
	}
	return e.Kind
}

// stageRun is the context a stage handler works with.
type stageRun struct {
	entry  domain.QueueEntry
	job    *domain.Job
	intent domain.Intent
	tags   map[string]string
	prior  map[string]StageOutput
}

func (s *QueueService) runStage(ctx context.Context, e domain.QueueEntry) (StageOutput, error) {
	if e.JobID == nil || e.OrderID == nil {
		return StageOutput{}, fmt.Errorf("%w: stage entry without job", ErrValidation)
	}
	job, err := repo.GetJob(ctx, s.DB, *e.JobID)
	if err != nil {
		return StageOutput{}, err
	}
	var p StagePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return StageOutput{}, fmt.Errorf("%w: bad stage payload: %v", ErrValidation, err)
	}
	prior, err := s.priorOutputs(ctx, *e.OrderID)
	if err != nil {
		return StageOutput{}, err
	}
	run := stageRun{entry: e, job: job, intent: p.Intent, tags: p.Tags, prior: prior}

	switch e.Kind {
	case domain.StageCopy:
		return s.copyStage(ctx, run)
	case domain.StageVision:
		return s.visionStage(run)
	case domain.StageRender:
		return s.renderStage(ctx, run)
	case domain.StageUpload:
		return s.uploadStage(ctx, run)
	case domain.StageThumb:
		return s.thumbStage(ctx, run)
	case domain.StagePublish:
		return s.publishStage(run), nil
	default:
		return StageOutput{}, fmt.Errorf("%w: unknown stage %q", ErrValidation, e.Kind)
	}
}

// priorOutputs decodes the outputs of the order's completed jobs by kind.
func (s *QueueService) priorOutputs(ctx context.Context, orderID string) (map[string]StageOutput, error) {
	jobs, err := repo.ListOrderJobs(ctx, s.DB, orderID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]StageOutput, len(jobs))
	for _, j := range jobs {
		if j.Status != domain.JobCompleted || len(j.Output) == 0 {
			continue
		}
		var o StageOutput
		if err := json.Unmarshal(j.Output, &o); err == nil {
			out[j.Kind] = o
		}
	}
	return out, nil
}

func (s *QueueService) copyStage(ctx context.Context, run stageRun) (StageOutput, error) {
	in := run.intent
	brief := s.guard().Sanitize(in.CopyBrief)
	res, err := s.Renderer.GenerateCopy(ctx, providers.CopyRequest{
		BrandID:  in.BrandID,
		Kind:     in.Kind,
		Language: in.Language,
		Goal:     in.Goal,
		Audience: in.Audience,
		Brief:    brief.SanitizedPrompt,
		CTA:      in.CTA,
		Slides:   in.SlideCount(),
	})
	if err != nil {
		return StageOutput{}, s.classify("copy", err)
	}
	return StageOutput{Copy: &res, Replacements: brief.Replacements}, nil
}

// visionStage gates the user's brief for named people and builds the
// sanitized visual prompt.
func (s *QueueService) visionStage(run stageRun) (StageOutput, error) {
	in := run.intent
	brief := briefText(in)
	if v := s.guard().DetectCelebrityViolation(brief); v != nil {
		return StageOutput{}, &ContentPolicyError{Message: v.Message, Suggestions: v.Suggestions, MatchedNames: v.MatchedNames}
	}
	res := s.guard().Sanitize(brief)

	parts := []string{res.SanitizedPrompt}
	if in.Ratio != "" {
		parts = append(parts, "aspect ratio "+in.Ratio)
	}
	if in.PaletteLock != nil && *in.PaletteLock {
		parts = append(parts, "use only the brand palette")
	}
	if in.TypographyLock != nil && *in.TypographyLock {
		parts = append(parts, "use the brand typography")
	}
	return StageOutput{
		Prompt:       strings.Join(parts, ", "),
		Replacements: res.Replacements,
		Warnings:     res.Warnings,
	}, nil
}

func briefText(in domain.Intent) string {
	if b := strings.TrimSpace(in.CopyBrief); b != "" {
		return b
	}
	parts := []string{in.Kind + " content"}
	if in.Audience != "" {
		parts = append(parts, "for "+in.Audience)
	}
	if in.Goal != "" {
		parts = append(parts, "focused on "+in.Goal)
	}
	return strings.Join(parts, " ")
}

func (s *QueueService) renderStage(ctx context.Context, run stageRun) (StageOutput, error) {
	in := run.intent
	if in.Kind == domain.KindText {
		if c, ok := run.prior[domain.StageCopy]; ok && c.Copy != nil {
			return StageOutput{Copy: c.Copy}, nil
		}
		return s.copyStage(ctx, run)
	}

	prompt := run.prior[domain.StageVision].Prompt
	if prompt == "" {
		prompt = s.guard().Sanitize(briefText(in)).SanitizedPrompt
	}
	if c := run.prior[domain.StageCopy].Copy; c != nil && c.Headline != "" {
		prompt += ". Headline: " + c.Headline
	}

	dur := 0
	if in.DurationS != nil {
		dur = *in.DurationS
	}
	sel, err := s.selectProvider(ctx, in.BrandID, providers.SelectRequest{
		Brief:     providers.Brief{UseCase: orDefault(in.Goal, in.Kind), Style: in.TemplateID},
		Modality:  in.Modality(),
		Format:    in.Ratio,
		DurationS: dur,
		Quality:   in.Quality,
	})
	if err != nil {
		return StageOutput{}, err
	}

	out := StageOutput{Provider: sel.Provider, CostWoofs: sel.CostWoofs}
	cost := domain.Cost{Woofs: sel.CostWoofs}
	count := max(1, in.SlideCount())
	if in.Kind == domain.KindVideo {
		cost.Videos = 1
	} else {
		cost.Images = count
	}

	meta := QuotaMeta{Reference: run.job.ID, Note: "render " + in.Kind}
	err = s.Quota.Metered(ctx, in.BrandID, cost, meta, func(ctx context.Context) error {
		return s.classify(sel.Provider, s.withPolicyRetry(ctx, prompt, func(ctx context.Context, p string) error {
			out.Prompt = p
			if in.Kind == domain.KindVideo {
				res, err := s.Renderer.RenderVideo(ctx, providers.VideoRequest{
					Provider: sel.Provider, Prompt: p, AspectRatio: in.Ratio,
					BrandID: in.BrandID, DurationS: dur, Quality: in.Quality,
				})
				out.URLs, out.Duration = []string{res.VideoURL}, res.Duration
				return err
			}
			res, err := s.Renderer.RenderImage(ctx, providers.ImageRequest{
				Provider: sel.Provider, Prompt: p, AspectRatio: in.Ratio,
				BrandID: in.BrandID, Count: count, Quality: in.Quality,
			})
			out.URLs = res.ImageURLs
			return err
		}))
	})
	if err != nil {
		return StageOutput{}, err
	}
	return out, nil
}

// selectProvider asks the selector for a provider within the brand's
// remaining woofs. A KO decision fails with ErrProviderRejected.
func (s *QueueService) selectProvider(ctx context.Context, brandID string, req providers.SelectRequest) (providers.SelectResponse, error) {
	chk, err := s.Quota.Check(ctx, brandID, domain.Cost{})
	if err != nil {
		return providers.SelectResponse{}, err
	}
	req.BudgetWoofs = chk.Remaining.Woofs
	resp, err := s.Selector.Select(ctx, req)
	if err != nil {
		return providers.SelectResponse{}, s.classify("selector", err)
	}
	if resp.Rejected() {
		msg := "no provider fits the request"
		if len(resp.Suggestions) > 0 {
			msg = strings.Join(resp.Suggestions, "; ")
		}
		return providers.SelectResponse{}, fmt.Errorf("%w: %s", ErrProviderRejected, msg)
	}
	return resp, nil
}

// withPolicyRetry calls render with prompt. On a content-policy rejection it
// sanitizes the prompt and tries once more, but only if sanitizing changed it.
func (s *QueueService) withPolicyRetry(ctx context.Context, prompt string, render func(ctx context.Context, prompt string) error) error {
	err := render(ctx, prompt)
	if err == nil || !s.isPolicyRejection(err) {
		return err
	}
	res := s.guard().Sanitize(prompt)
	if !res.WasModified {
		return err
	}
	log.Info().Str("component", "worker").Int("replacements", len(res.Replacements)).
		Msg("content policy rejection, retrying with sanitized prompt")
	return render(ctx, res.SanitizedPrompt)
}

func (s *QueueService) isPolicyRejection(err error) bool {
	var re *providers.RenderError
	return errors.As(err, &re) && s.guard().IsContentPolicyViolation(re.Body)
}

// classify maps a provider call error onto the service error taxonomy.
func (s *QueueService) classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Retryable: true, Err: err}
	}
	var re *providers.RenderError
	if errors.As(err, &re) {
		if s.guard().IsContentPolicyViolation(re.Body) {
			return &ContentPolicyError{Message: "provider rejected the prompt: " + re.Body, Suggestions: policySuggestions}
		}
		return &ProviderError{Provider: provider, Retryable: re.Retryable(), Err: err}
	}
	return &ProviderError{Provider: provider, Retryable: true, Err: err}
}

func (s *QueueService) uploadStage(ctx context.Context, run stageRun) (StageOutput, error) {
	in := run.intent
	rendered := run.prior[domain.StageRender]
	if s.Store == nil {
		return StageOutput{URLs: rendered.URLs, Copy: rendered.Copy}, nil
	}
	base := path.Join(in.BrandID, run.job.OrderID)

	if in.Kind == domain.KindText {
		if rendered.Copy == nil {
			return StageOutput{}, fmt.Errorf("%w: no copy to upload", ErrValidation)
		}
		data, err := json.Marshal(rendered.Copy)
		if err != nil {
			return StageOutput{}, err
		}
		url, err := s.Store.Put(ctx, base+"/copy.json", "application/json", data, run.tags)
		if err != nil {
			return StageOutput{}, err
		}
		return StageOutput{URLs: []string{url}, Copy: rendered.Copy}, nil
	}

	urls := make([]string, 0, len(rendered.URLs))
	for i, src := range rendered.URLs {
		url, err := s.mirror(ctx, src, fmt.Sprintf("%s/%d", base, i), run.tags)
		if err != nil {
			return StageOutput{}, err
		}
		urls = append(urls, url)
	}
	return StageOutput{URLs: urls, Duration: rendered.Duration}, nil
}

// mirror copies src into the asset store under key plus an extension
// derived from the content type.
func (s *QueueService) mirror(ctx context.Context, src, key string, tags map[string]string) (string, error) {
	data, ct, err := s.Fetcher.Fetch(ctx, src)
	if err != nil {
		return "", s.classify("fetch", err)
	}
	return s.Store.Put(ctx, key+"."+extFor(ct, src), ct, data, tags)
}

func extFor(contentType, src string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	}
	p := src
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if ext := strings.TrimPrefix(path.Ext(p), "."); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return "bin"
}

func (s *QueueService) thumbStage(ctx context.Context, run stageRun) (StageOutput, error) {
	in := run.intent
	uploaded := run.prior[domain.StageUpload]
	if s.Store == nil || len(uploaded.URLs) == 0 {
		return StageOutput{}, nil
	}

	var (
		png []byte
		err error
	)
	if in.Kind == domain.KindVideo {
		title := "Video"
		if c := run.prior[domain.StageCopy].Copy; c != nil && c.Headline != "" {
			title = c.Headline
		}
		png, err = s.Thumbs.VideoPoster(title, in.Ratio)
	} else {
		var data []byte
		data, _, err = s.Fetcher.Fetch(ctx, uploaded.URLs[0])
		if err != nil {
			return StageOutput{}, s.classify("fetch", err)
		}
		png, err = s.Thumbs.ImageThumb(data)
	}
	if err != nil {
		return StageOutput{}, err
	}
	url, err := s.Store.Put(ctx, path.Join(in.BrandID, run.job.OrderID, "thumb.png"), "image/png", png, run.tags)
	if err != nil {
		return StageOutput{}, err
	}
	return StageOutput{ThumbURL: url}, nil
}

// publishStage records the publication. Pushing to a social network happens
// outside this service.
func (s *QueueService) publishStage(run stageRun) StageOutput {
	now := s.now()
	return StageOutput{
		URLs:        run.prior[domain.StageUpload].URLs,
		ThumbURL:    run.prior[domain.StageThumb].ThumbURL,
		PublishedAt: &now,
	}
}

func (s *QueueService) runClip(ctx context.Context, e domain.QueueEntry) (StageOutput, error) {
	if e.ClipID == nil {
		return StageOutput{}, fmt.Errorf("%w: clip entry without clip", ErrValidation)
	}
	clip, err := repo.GetClip(ctx, s.DB, *e.ClipID)
	if err != nil {
		return StageOutput{}, err
	}
	b, err := repo.GetBatch(ctx, s.DB, clip.BatchID, e.UserID)
	if err != nil {
		return StageOutput{}, err
	}
	var st BatchSettings
	if len(b.Settings) > 0 {
		if err := json.Unmarshal(b.Settings, &st); err != nil {
			return StageOutput{}, fmt.Errorf("%w: batch %s settings: %v", ErrValidation, b.ID, err)
		}
	}
	st.Ratio = orDefault(st.Ratio, domain.Ratio9x16)
	st.Quality = orDefault(st.Quality, domain.QualityFast)

	if err := repo.SetClipStatus(ctx, s.DB, clip.ID, domain.ClipProcessing, s.now()); err != nil {
		return StageOutput{}, err
	}
	clip.Status = domain.ClipProcessing
	s.Batches.PublishClip(ctx, e.UserID, *clip)

	if v := s.guard().DetectCelebrityViolation(clip.Prompt); v != nil {
		return StageOutput{}, &ContentPolicyError{Message: v.Message, Suggestions: v.Suggestions, MatchedNames: v.MatchedNames}
	}
	prompt := s.guard().Sanitize(clip.Prompt).SanitizedPrompt
	if st.Style != "" {
		prompt += ". Style: " + st.Style
	}

	sel, err := s.selectProvider(ctx, b.BrandID, providers.SelectRequest{
		Brief:     providers.Brief{UseCase: "batch clip", Style: st.Style},
		Modality:  "video",
		Format:    st.Ratio,
		DurationS: st.ClipDurationS,
		Quality:   st.Quality,
	})
	if err != nil {
		return StageOutput{}, err
	}

	var res providers.VideoResult
	cost := domain.Cost{Woofs: sel.CostWoofs, Videos: 1}
	err = s.Quota.Metered(ctx, b.BrandID, cost, QuotaMeta{Reference: clip.ID, Note: "batch clip"}, func(ctx context.Context) error {
		return s.classify(sel.Provider, s.withPolicyRetry(ctx, prompt, func(ctx context.Context, p string) error {
			r, err := s.Renderer.RenderVideo(ctx, providers.VideoRequest{
				Provider: sel.Provider, Prompt: p, AspectRatio: st.Ratio,
				BrandID: b.BrandID, DurationS: st.ClipDurationS, Quality: st.Quality,
			})
			res = r
			return err
		}))
	})
	if err != nil {
		return StageOutput{}, err
	}

	url, thumb := res.VideoURL, ""
	if s.Store != nil {
		url, thumb = s.storeClip(ctx, b, clip, st.Ratio, res.VideoURL)
	}
	err = repo.UpdateClipResult(ctx, s.DB, clip.ID, repo.ClipResult{
		Status: domain.ClipCompleted, URL: url, ThumbURL: thumb, Duration: res.Duration,
	}, s.now())
	if err != nil {
		return StageOutput{}, err
	}
	return StageOutput{Provider: sel.Provider, CostWoofs: sel.CostWoofs, URLs: []string{url}, ThumbURL: thumb, Duration: res.Duration}, nil
}

// storeClip mirrors a rendered clip and its poster. The render is already
// paid for, so storage failures keep the provider URL instead of failing.
func (s *QueueService) storeClip(ctx context.Context, b *domain.VideoBatch, clip *domain.BatchClip, ratio, src string) (string, string) {
	l := log.With().Str("component", "worker").Str("clip_id", clip.ID).Logger()
	tags := map[string]string{TagBrand: b.BrandID, "batch_id": b.ID, TagKind: domain.KindVideo, TagRatio: ratio}
	key := path.Join(b.BrandID, "batches", b.ID, clip.ID)

	url, err := s.mirror(ctx, src, key, tags)
	if err != nil {
		l.Warn().Err(err).Msg("clip mirror failed, keeping provider url")
		url = src
	}
	poster, err := s.Thumbs.VideoPoster(fmt.Sprintf("Clip %d", clip.Index+1), ratio)
	if err != nil {
		l.Warn().Err(err).Msg("poster render failed")
		return url, ""
	}
	thumb, err := s.Store.Put(ctx, key+"-poster.png", "image/png", poster, tags)
	if err != nil {
		l.Warn().Err(err).Msg("poster upload failed")
		return url, ""
	}
	return url, thumb
}

// afterClip mirrors a clip entry's outcome onto the clip row, then refreshes
// the roll-ups and notifies subscribers.
func (s *QueueService) afterClip(ctx context.Context, e domain.QueueEntry, outcome, errMsg string) {
	if e.ClipID == nil {
		return
	}
	l := log.With().Str("component", "worker").Str("clip_id", *e.ClipID).Logger()
	switch outcome {
	case OutcomeRetried, OutcomeReleased:
		if err := repo.SetClipStatus(ctx, s.DB, *e.ClipID, domain.ClipQueued, s.now()); err != nil {
			l.Warn().Err(err).Msg("clip requeue status failed")
		}
	case OutcomeFailed:
		if err := repo.UpdateClipResult(ctx, s.DB, *e.ClipID, repo.ClipResult{Status: domain.ClipFailed, Error: errMsg}, s.now()); err != nil {
			l.Warn().Err(err).Msg("clip failure status failed")
		}
	}
	clip, err := repo.GetClip(ctx, s.DB, *e.ClipID)
	if err != nil {
		l.Warn().Err(err).Msg("clip reload failed")
		return
	}
	if outcome == OutcomeCompleted || outcome == OutcomeFailed {
		observability.ClipRenders.WithLabelValues(outcome).Inc()
	}
	s.Batches.PublishClip(ctx, e.UserID, *clip)
	s.Batches.RefreshRollup(ctx, e.UserID, clip.BatchID, clip.VideoID)
}

// afterStage recomputes the order status and notifies the owner.
func (s *QueueService) afterStage(ctx context.Context, e domain.QueueEntry, outcome string) {
	if e.OrderID == nil {
		return
	}
	status, err := repo.RefreshOrderStatus(ctx, s.DB, *e.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", *e.OrderID).Msg("order status refresh failed")
	}
	ch := realtime.UserChannel(e.UserID)
	s.publish(ctx, ch, realtime.EventJobUpdated, map[string]any{
		"entry_id": e.ID, "job_id": e.JobID, "order_id": *e.OrderID, "kind": e.Kind, "outcome": outcome,
	})
	if status != "" {
		s.publish(ctx, ch, realtime.EventOrderUpdated, map[string]string{"order_id": *e.OrderID, "status": status})
	}
}

func (s *QueueService) publish(ctx context.Context, channel string, typ realtime.EventType, data any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, realtime.Event{Channel: channel, Type: typ, Data: data}); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("event publish failed")
	}
}

// UnlockStuck returns entries running for longer than minutes to the queue.
// Entries out of attempts fail instead.
func (s *QueueService) UnlockStuck(ctx context.Context, minutes int) (SweepReport, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "UnlockStuck", trace.WithAttributes(attribute.Int("sweep.minutes", minutes)))
	defer span.End()

	if minutes < 1 {
		return SweepReport{}, &ValidationError{Fields: []FieldError{{Field: "minutes", Message: "must be at least 1"}}}
	}
	now := s.now()
	res, err := repo.UnlockStuck(ctx, s.DB, now.Add(-time.Duration(minutes)*time.Minute), now)
	if err != nil {
		return SweepReport{}, err
	}
	observability.JobSweeps.WithLabelValues("unlock").Add(float64(len(res.Unlocked)))
	observability.JobSweeps.WithLabelValues("unlock_exhausted").Add(float64(len(res.Failed)))

	for _, e := range res.Unlocked {
		s.afterSweep(ctx, e, OutcomeRetried)
	}
	for _, e := range res.Failed {
		s.afterSweep(ctx, e, OutcomeFailed)
	}
	if n := len(res.Unlocked) + len(res.Failed); n > 0 {
		log.Warn().Str("component", "sweep").Err(ErrStuckJob).
			Int("unlocked", len(res.Unlocked)).Int("failed", len(res.Failed)).Msg("stuck entries recovered")
	}
	return SweepReport{Unlocked: len(res.Unlocked), Failed: len(res.Failed)}, nil
}

// FailExpired fails every unresolved entry older than hours and returns how
// many it failed.
func (s *QueueService) FailExpired(ctx context.Context, hours int) (int, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "FailExpired", trace.WithAttributes(attribute.Int("sweep.hours", hours)))
	defer span.End()

	if hours < 1 {
		return 0, &ValidationError{Fields: []FieldError{{Field: "hours", Message: "must be at least 1"}}}
	}
	now := s.now()
	failed, err := repo.FailExpired(ctx, s.DB, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		return 0, err
	}
	observability.JobSweeps.WithLabelValues("expire").Add(float64(len(failed)))
	for _, e := range failed {
		s.afterSweep(ctx, e, OutcomeFailed)
	}
	if len(failed) > 0 {
		log.Warn().Str("component", "sweep").Int("failed", len(failed)).Msg("expired entries failed")
	}
	return len(failed), nil
}

func (s *QueueService) afterSweep(ctx context.Context, e domain.QueueEntry, outcome string) {
	if e.Type == domain.QueueTypeClip {
		s.afterClip(ctx, e, outcome, e.Error)
		return
	}
	s.afterStage(ctx, e, outcome)
}

// List returns a page of the user's queue, newest first.
func (s *QueueService) List(ctx context.Context, userID string, f repo.QueueFilter, page, pageSize int) (*QueuePage, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	pg := utils.Page{Number: page, Size: pageSize}.Normalize()
	f.UserID = userID

	out := &QueuePage{Items: []domain.QueueEntry{}, Page: pg.Number, PageSize: pg.Size}
	total, err := repo.CountQueue(ctx, s.DB, f)
	if err != nil {
		return nil, err
	}
	out.Total = total
	if total == 0 {
		return out, nil
	}
	items, err := repo.ListQueuePage(ctx, s.DB, f, pg.Offset(), pg.Size)
	if err != nil {
		return nil, err
	}
	out.Items = items
	return out, nil
}

// Stats returns per-status counts and the latest update time.
func (s *QueueService) Stats(ctx context.Context, userID string) (*QueueStats, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Stats", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	counts, err := repo.QueueStatusCounts(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	total, last, err := repo.QueueStats(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return &QueueStats{Counts: counts, Total: total, LastUpdated: last}, nil
}

// Retry requeues one failed entry with a fresh attempt budget. A failed order
// is reopened so the pipeline can finish.
func (s *QueueService) Retry(ctx context.Context, userID, id string) (*domain.QueueEntry, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Retry", trace.WithAttributes(attribute.String("entry.id", id)))
	defer span.End()

	e, err := repo.RequeueFailed(ctx, s.DB, id, userID, s.now())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repo.ErrConflict):
		return nil, fmt.Errorf("%w: only failed entries can be retried", ErrConflict)
	case err != nil:
		return nil, err
	}

	l := log.With().Str("component", "worker").Str("entry_id", e.ID).Logger()
	switch {
	case e.Type == domain.QueueTypeClip && e.ClipID != nil:
		if err := repo.ResetClip(ctx, s.DB, *e.ClipID, s.now()); err != nil {
			l.Warn().Err(err).Msg("clip reset failed")
		}
		s.afterClip(ctx, *e, "", "")
	case e.OrderID != nil:
		if err := repo.ReopenOrder(ctx, s.DB, *e.OrderID); err != nil {
			l.Warn().Err(err).Msg("order reopen failed")
		}
		s.afterStage(ctx, *e, OutcomeRetried)
	}
	l.Info().Str("user_id", userID).Msg("entry requeued manually")
	return e, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/observability"
	"github.com/tbourn/alfie-backend/internal/repo"
)

// Upload tag keys. Every upload stage carries all of them.
const (
	TagBrand    = "brand_id"
	TagOrder    = "order_id"
	TagKind     = "kind"
	TagRatio    = "ratio"
	TagLanguage = "language"
	TagCampaign = "campaign"
)

// PlanResult is returned by Plan.
type PlanResult struct {
	OrderID   string        `json:"orderId"`
	PlanKinds []string      `json:"planKinds"`
	Warnings  []string      `json:"warnings"`
	Intent    domain.Intent `json:"intent"`
}

// StagePayload is stored on every Job and read back by the worker.
type StagePayload struct {
	Intent domain.Intent     `json:"intent"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// OrderView is an order with its pipeline.
type OrderView struct {
	domain.Order
	Jobs []domain.Job `json:"jobs"`
}

// PlannerService turns intents into orders and their job pipelines.
type PlannerService struct {
	DB          *gorm.DB
	Memory      *MemoryService
	MaxAttempts int

	validate *validator.Validate
}

// NewPlannerService builds a planner with its validator.
func NewPlannerService(db *gorm.DB, mem *MemoryService, maxAttempts int) *PlannerService {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &PlannerService{DB: db, Memory: mem, MaxAttempts: maxAttempts, validate: v}
}

// Plan validates in, applies defaults and memory, then creates the order
// and its pipeline. Nothing is written when validation fails. If the
// pipeline insert fails the order is deleted before returning.
func (s *PlannerService) Plan(ctx context.Context, userID string, in domain.Intent) (*PlanResult, error) {
	tr := otel.Tracer("services/PlannerService")
	ctx, span := tr.Start(ctx, "Plan", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("intent.kind", in.Kind),
		attribute.String("brand.id", in.BrandID),
	))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	if err := s.Validate(in); err != nil {
		return nil, err
	}

	planned := ApplyDefaults(in)
	warnings := PlanWarnings(planned)

	if s.Memory != nil {
		mem, err := s.Memory.Resolve(ctx, userID, planned.BrandID)
		if err != nil {
			return nil, err
		}
		planned = applyMemory(planned, mem)
	}

	kinds := PipelineKinds(planned)
	snapshot, err := json.Marshal(planned)
	if err != nil {
		return nil, err
	}

	var order *domain.Order
	err = RunSaga(ctx, "plan",
		SagaStep{
			Name: "create order",
			Do: func(ctx context.Context) error {
				o, err := repo.CreateOrder(ctx, s.DB, userID, planned.BrandID, datatypes.JSON(snapshot))
				order = o
				return err
			},
			Undo: func(ctx context.Context) error {
				return repo.DeleteOrder(ctx, s.DB, order.ID)
			},
		},
		SagaStep{
			Name: "insert jobs",
			Do: func(ctx context.Context) error {
				jobs, entries, err := s.buildPipeline(order, userID, planned, kinds)
				if err != nil {
					return err
				}
				return repo.InsertPipeline(ctx, s.DB, jobs, entries)
			},
		},
		SagaStep{
			Name: "queue order",
			Do: func(ctx context.Context) error {
				err := repo.SetOrderStatus(ctx, s.DB, order.ID, domain.OrderDraft, domain.OrderQueued)
				if errors.Is(err, repo.ErrConflict) {
					// A worker already started the first stage.
					return nil
				}
				return err
			},
		},
	)
	if err != nil {
		var serr *SagaError
		if errors.As(err, &serr) && serr.Step != "create order" {
			log.Error().Err(err).
				Str("user_id", userID).
				Str("brand_id", planned.BrandID).
				Bool("compensated", serr.Compensated()).
				Msg("plan rolled back")
			return nil, observability.SpanError(span, errors.Join(ErrOrphanedOrder, err))
		}
		return nil, observability.SpanError(span, err)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("kind", planned.Kind).
		Strs("stages", kinds).
		Int("warnings", len(warnings)).
		Msg("order planned")

	return &PlanResult{OrderID: order.ID, PlanKinds: kinds, Warnings: warnings, Intent: planned}, nil
}

// GetOrder returns an order owned by userID with its jobs.
func (s *PlannerService) GetOrder(ctx context.Context, userID, orderID string) (*OrderView, error) {
	tr := otel.Tracer("services/PlannerService")
	ctx, span := tr.Start(ctx, "GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	o, err := repo.GetOrder(ctx, s.DB, orderID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	jobs, err := repo.ListOrderJobs(ctx, s.DB, o.ID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: *o, Jobs: jobs}, nil
}

// Replay rebuilds the PlanResult of an existing order, for requests retried
// with an idempotency key that was already used.
func (s *PlannerService) Replay(ctx context.Context, userID, orderID string) (*PlanResult, error) {
	view, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	var in domain.Intent
	if err := json.Unmarshal(view.IntentJSON, &in); err != nil {
		return nil, fmt.Errorf("order %s: decode intent: %w", orderID, err)
	}
	kinds := make([]string, 0, len(view.Jobs))
	for _, j := range view.Jobs {
		kinds = append(kinds, j.Kind)
	}
	return &PlanResult{OrderID: view.ID, PlanKinds: kinds, Warnings: PlanWarnings(in), Intent: in}, nil
}

// Validate checks in against the Intent schema.
func (s *PlannerService) Validate(in domain.Intent) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &ValidationError{Fields: []FieldError{{Field: "intent", Message: err.Error()}}}
	}
	out := &ValidationError{}
	for _, fe := range ves {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe.Namespace()), Message: ruleMessage(fe)})
	}
	return out
}

func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "bcp47_language_tag":
		return "must be a BCP 47 language tag"
	default:
		return "failed " + fe.Tag()
	}
}

// ApplyDefaults returns a copy of in with per-kind defaults filled into
// unset fields. Explicit values are never replaced.
func ApplyDefaults(in domain.Intent) domain.Intent {
	out := in.Clone()
	switch out.Kind {
	case domain.KindCarousel:
		if out.Slides == nil {
			out.Slides = intPtr(5)
		}
		if out.Ratio == "" {
			out.Ratio = domain.Ratio9x16
		}
	case domain.KindImage:
		if out.Slides == nil {
			out.Slides = intPtr(1)
		}
		if out.Ratio == "" {
			out.Ratio = domain.Ratio1x1
		}
	case domain.KindVideo:
		if out.Ratio == "" {
			out.Ratio = domain.Ratio16x9
		}
		if out.DurationS == nil {
			out.DurationS = intPtr(8)
		}
	}
	if out.Language == "" {
		out.Language = "en"
	} else if tag, err := language.Parse(out.Language); err == nil {
		out.Language = tag.String()
	}
	if out.Quality == "" {
		out.Quality = domain.QualityFast
	}
	return out
}

// PlanWarnings flags accepted but questionable intents.
func PlanWarnings(in domain.Intent) []string {
	w := []string{}
	n := in.SlideCount()
	switch in.Kind {
	case domain.KindCarousel:
		if n < 3 {
			w = append(w, "carousels with fewer than 3 slides tend to underperform")
		}
		if n > 10 {
			w = append(w, "some networks cap carousels at 10 slides")
		}
	case domain.KindImage:
		if n > 4 {
			w = append(w, "more than 4 images multiplies render cost")
		}
	case domain.KindVideo:
		if in.DurationS != nil && *in.DurationS > 60 {
			w = append(w, "videos longer than 60s render slowly and cost more")
		}
		if in.Slides != nil {
			w = append(w, "slides are ignored for videos")
		}
	case domain.KindText:
		if len(in.AssetsRefs) > 0 {
			w = append(w, "asset references are ignored for text")
		}
	}
	if in.Publish && in.Campaign == "" {
		w = append(w, "publishing without a campaign name")
	}
	return w
}

// applyMemory fills fields still empty after defaults.
func applyMemory(in domain.Intent, mem map[string]string) domain.Intent {
	if in.CTA == "" {
		in.CTA = mem[domain.MemoryKeyCTA]
	}
	if in.PaletteLock == nil {
		if b, err := strconv.ParseBool(mem[domain.MemoryKeyPaletteLock]); err == nil {
			in.PaletteLock = &b
		}
	}
	if in.TypographyLock == nil {
		if b, err := strconv.ParseBool(mem[domain.MemoryKeyTypographyLock]); err == nil {
			in.TypographyLock = &b
		}
	}
	if in.Ratio == "" {
		in.Ratio = mem[domain.MemoryKeyRatioPrefix+in.Kind]
	}
	return in
}

// PipelineKinds derives the ordered stage list from the intent kind.
func PipelineKinds(in domain.Intent) []string {
	var out []string
	if in.Kind != domain.KindText || strings.TrimSpace(in.CopyBrief) != "" {
		out = append(out, domain.StageCopy)
	}
	switch in.Kind {
	case domain.KindImage, domain.KindCarousel, domain.KindVideo:
		out = append(out, domain.StageVision)
	}
	out = append(out, domain.StageRender, domain.StageUpload)
	switch in.Kind {
	case domain.KindCarousel, domain.KindVideo:
		out = append(out, domain.StageThumb)
	}
	if in.Publish {
		out = append(out, domain.StagePublish)
	}
	return out
}

// UploadTags is the mandatory tag set attached to uploaded assets.
func UploadTags(orderID string, in domain.Intent) map[string]string {
	ratio := in.Ratio
	if ratio == "" {
		ratio = "none"
	}
	return map[string]string{
		TagBrand:    in.BrandID,
		TagOrder:    orderID,
		TagKind:     in.Kind,
		TagRatio:    ratio,
		TagLanguage: in.Language,
		TagCampaign: Slugify(in.Campaign),
	}
}

func (s *PlannerService) buildPipeline(o *domain.Order, userID string, in domain.Intent, kinds []string) ([]domain.Job, []domain.QueueEntry, error) {
	now := time.Now().UTC()
	jobs := make([]domain.Job, 0, len(kinds))
	entries := make([]domain.QueueEntry, 0, len(kinds))
	var prevJob, prevEntry *string
	for i, k := range kinds {
		p := StagePayload{Intent: in}
		if k == domain.StageUpload {
			p.Tags = UploadTags(o.ID, in)
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, nil, err
		}
		status := domain.JobQueued
		if i > 0 {
			status = domain.JobBlocked
		}
		jobID, entryID := uuid.NewString(), uuid.NewString()
		orderID := o.ID
		jobs = append(jobs, domain.Job{
			ID:            jobID,
			OrderID:       o.ID,
			Position:      i,
			Kind:          k,
			Payload:       datatypes.JSON(raw),
			Status:        status,
			MaxAttempts:   s.MaxAttempts,
			PredecessorID: prevJob,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		entries = append(entries, domain.QueueEntry{
			ID:            entryID,
			Type:          domain.QueueTypeStage,
			Kind:          k,
			Status:        status,
			MaxAttempts:   s.MaxAttempts,
			UserID:        userID,
			BrandID:       in.BrandID,
			OrderID:       &orderID,
			JobID:         &jobID,
			PredecessorID: prevEntry,
			// Distinct timestamps keep claim order stable within an order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
		j, e := jobID, entryID
		prevJob, prevEntry = &j, &e
	}
	return jobs, entries, nil
}

// Slugify lowercases s, strips diacritics and joins words with '-'. Empty
// input yields "uncategorized".
func Slugify(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 64 {
		out = strings.TrimRight(out[:64], "-")
	}
	if out == "" {
		return "uncategorized"
	}
	return out
}

func intPtr(v int) *int { return &v }

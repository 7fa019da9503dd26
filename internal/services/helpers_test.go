package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/providers"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
)

// newServiceDB opens a private in-memory database with the full schema.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// ----- Fakes -----

type fakeSelector struct {
	mu   sync.Mutex
	resp providers.SelectResponse
	err  error
	reqs []providers.SelectRequest
}

func (f *fakeSelector) Select(ctx context.Context, req providers.SelectRequest) (providers.SelectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func okSelector(cost int) *fakeSelector {
	return &fakeSelector{resp: providers.SelectResponse{Decision: providers.DecisionOK, Provider: "prov-a", CostWoofs: cost}}
}

type fakeRenderer struct {
	mu sync.Mutex

	imageErrs []error // consumed in order, nil when exhausted
	videoErrs []error
	copyErr   error
	headline  string

	imagePrompts []string
	videoPrompts []string
	copyReqs     []providers.CopyRequest
}

func (f *fakeRenderer) next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeRenderer) RenderImage(ctx context.Context, req providers.ImageRequest) (providers.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imagePrompts = append(f.imagePrompts, req.Prompt)
	if err := f.next(&f.imageErrs); err != nil {
		return providers.ImageResult{}, err
	}
	urls := make([]string, max(1, req.Count))
	for i := range urls {
		urls[i] = fmt.Sprintf("https://provider.test/img-%d.png", i)
	}
	return providers.ImageResult{ImageURLs: urls}, nil
}

func (f *fakeRenderer) RenderVideo(ctx context.Context, req providers.VideoRequest) (providers.VideoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoPrompts = append(f.videoPrompts, req.Prompt)
	if err := f.next(&f.videoErrs); err != nil {
		return providers.VideoResult{}, err
	}
	return providers.VideoResult{VideoURL: fmt.Sprintf("https://provider.test/clip-%d.mp4", len(f.videoPrompts)), Duration: 8}, nil
}

func (f *fakeRenderer) GenerateCopy(ctx context.Context, req providers.CopyRequest) (providers.CopyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyReqs = append(f.copyReqs, req)
	if f.copyErr != nil {
		return providers.CopyResult{}, f.copyErr
	}
	headline := f.headline
	if headline == "" {
		headline = "Fresh drop"
	}
	return providers.CopyResult{Headline: headline, Slides: []string{"one"}, Caption: "caption", CTA: req.CTA}, nil
}

type storedObject struct {
	contentType string
	size        int
	tags        map[string]string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	err     error
}

func (f *fakeStore) Put(ctx context.Context, key, contentType string, data []byte, tags map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.objects == nil {
		f.objects = map[string]storedObject{}
	}
	f.objects[key] = storedObject{contentType: contentType, size: len(data), tags: tags}
	return "https://cdn.test/" + key, nil
}

type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
	failURLs    map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if f.failURLs[url] {
		return nil, "", &providers.RenderError{Status: 404, Body: "fetch " + url}
	}
	return f.data, f.contentType, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(typ realtime.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// ----- Fixtures -----

type harness struct {
	db       *gorm.DB
	quota    *QuotaService
	planner  *PlannerService
	batches  *BatchService
	queue    *QueueService
	selector *fakeSelector
	renderer *fakeRenderer
	events   *recordingPublisher
}

func newHarness(t *testing.T, budget domain.Cost) *harness {
	t.Helper()
	db := newServiceDB(t)
	h := &harness{
		db:       db,
		quota:    &QuotaService{DB: db, Defaults: budget},
		selector: okSelector(10),
		renderer: &fakeRenderer{},
		events:   &recordingPublisher{},
	}
	h.planner = NewPlannerService(db, &MemoryService{DB: db}, 3)
	h.batches = NewBatchService(db, nil, nil, h.events, 3)
	h.queue = &QueueService{
		DB:       db,
		Selector: h.selector,
		Renderer: h.renderer,
		Quota:    h.quota,
		Batches:  h.batches,
		Events:   h.events,
	}
	return h
}

// drain runs the worker until nothing is claimable.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := h.queue.TriggerWorker(context.Background(), 10)
		if err != nil {
			t.Fatalf("TriggerWorker: %v", err)
		}
		if n == 0 {
			return
		}
	}
	t.Fatalf("queue did not drain")
}

func (h *harness) ledger(t *testing.T, brandID string) domain.QuotaLedger {
	t.Helper()
	b, err := h.quota.Balance(context.Background(), brandID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b.Ledger
}

func batchRequest(videos, clips int) CreateBatchRequest {
	req := CreateBatchRequest{BrandID: "brand-1", Title: "Spring Drop", Ratio: domain.Ratio9x16}
	for v := 0; v < videos; v++ {
		spec := VideoSpec{
			Title:  fmt.Sprintf("Video %d", v+1),
			Hook:   "Stop scrolling",
			Script: "Line one\nLine two",
			CTA:    "Shop now",
		}
		for c := 0; c < clips; c++ {
			spec.Clips = append(spec.Clips, fmt.Sprintf("a sunlit kitchen, shot %d", c+1))
		}
		req.Videos = append(req.Videos, spec)
	}
	return req
}

func intp(v int) *int { return &v }

package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/providers"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
)

var testBudget = domain.Cost{Woofs: 1000, Images: 50, Videos: 20}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		img.Set(x, 50, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func mustOrder(t *testing.T, h *harness, orderID string) *OrderView {
	t.Helper()
	v, err := h.planner.GetOrder(context.Background(), "u1", orderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return v
}

func orderEntries(t *testing.T, h *harness, orderID string) []domain.QueueEntry {
	t.Helper()
	page, err := h.queue.List(context.Background(), "u1", repo.QueueFilter{OrderID: orderID}, 1, 50)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return page.Items
}

func TestWorker_ImageOrderRunsToDone(t *testing.T) {
	h := newHarness(t, testBudget)
	store := &fakeStore{}
	h.queue.Store = store
	h.queue.Fetcher = &fakeFetcher{data: testPNG(t), contentType: "image/png"}
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1", CopyBrief: "a latte on a marble table", Campaign: "Spring"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	h.drain(t)

	view := mustOrder(t, h, res.OrderID)
	if view.Status != domain.OrderDone {
		t.Fatalf("order status %s, error %q", view.Status, view.Error)
	}
	for _, j := range view.Jobs {
		if j.Status != domain.JobCompleted || len(j.Output) == 0 {
			t.Fatalf("job %s not completed with output: %+v", j.Kind, j)
		}
	}

	l := h.ledger(t, "b1")
	if l.WoofsUsed != 10 || l.ImagesUsed != 1 || l.VideosUsed != 0 {
		t.Fatalf("unexpected charge: %+v", l)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one uploaded asset, got %v", store.objects)
	}
	for key, obj := range store.objects {
		if !strings.HasSuffix(key, ".png") || obj.tags[TagCampaign] != "spring" || obj.tags[TagOrder] != res.OrderID {
			t.Fatalf("unexpected object %s: %+v", key, obj)
		}
	}
	if h.events.count(realtime.EventOrderUpdated) == 0 {
		t.Fatalf("no order events published")
	}
	sel := h.selector.reqs[0]
	if sel.Modality != "image" || sel.Format != domain.Ratio1x1 || sel.BudgetWoofs != 1000 {
		t.Fatalf("unexpected selector request: %+v", sel)
	}
}

func TestWorker_CarouselThumbAndVideoPoster(t *testing.T) {
	h := newHarness(t, testBudget)
	store := &fakeStore{}
	h.queue.Store = store
	h.queue.Fetcher = &fakeFetcher{data: testPNG(t), contentType: "image/png"}
	h.queue.Thumbs = providers.Thumbnailer{Width: 64}
	ctx := context.Background()

	car, _ := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindCarousel, BrandID: "b1", Slides: intp(3)})
	h.drain(t)
	if v := mustOrder(t, h, car.OrderID); v.Status != domain.OrderDone {
		t.Fatalf("carousel status %s: %s", v.Status, v.Error)
	}
	if l := h.ledger(t, "b1"); l.ImagesUsed != 3 {
		t.Fatalf("carousel should charge 3 images, got %d", l.ImagesUsed)
	}
	if _, ok := store.objects["b1/"+car.OrderID+"/thumb.png"]; !ok {
		t.Fatalf("thumbnail missing: %v", store.objects)
	}

	h.queue.Fetcher = &fakeFetcher{data: []byte("mp4"), contentType: "video/mp4"}
	vid, _ := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindVideo, BrandID: "b1"})
	h.drain(t)
	if v := mustOrder(t, h, vid.OrderID); v.Status != domain.OrderDone {
		t.Fatalf("video status %s: %s", v.Status, v.Error)
	}
	if _, ok := store.objects["b1/"+vid.OrderID+"/0.mp4"]; !ok {
		t.Fatalf("video upload missing: %v", store.objects)
	}
	if obj, ok := store.objects["b1/"+vid.OrderID+"/thumb.png"]; !ok || obj.size == 0 {
		t.Fatalf("poster missing: %v", store.objects)
	}
}

func TestWorker_TextOrderUploadsCopy(t *testing.T) {
	h := newHarness(t, testBudget)
	store := &fakeStore{}
	h.queue.Store = store
	res, _ := h.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindText, BrandID: "b1", CTA: "Join us"})
	h.drain(t)

	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderDone {
		t.Fatalf("status %s: %s", v.Status, v.Error)
	}
	if obj, ok := store.objects["b1/"+res.OrderID+"/copy.json"]; !ok || obj.contentType != "application/json" {
		t.Fatalf("copy not uploaded: %v", store.objects)
	}
	if len(h.selector.reqs) != 0 || h.ledger(t, "b1").WoofsUsed != 0 {
		t.Fatalf("text orders must not go through paid rendering")
	}
}

func TestWorker_CelebrityGateFailsBeforePaidCall(t *testing.T) {
	h := newHarness(t, testBudget)
	res, err := h.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1", CopyBrief: "Elon Musk drinking our coffee"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	h.drain(t)

	if len(h.renderer.imagePrompts) != 0 || len(h.selector.reqs) != 0 {
		t.Fatalf("paid path reached despite gate")
	}
	if l := h.ledger(t, "b1"); l.WoofsUsed != 0 {
		t.Fatalf("quota consumed: %+v", l)
	}
	view := mustOrder(t, h, res.OrderID)
	if view.Status != domain.OrderFailed || !strings.Contains(view.Error, "Elon Musk") {
		t.Fatalf("order not failed with the violation: %s %q", view.Status, view.Error)
	}
	for _, e := range orderEntries(t, h, res.OrderID) {
		if e.Kind == domain.StageVision && e.Attempts != 1 {
			t.Fatalf("policy failure retried: attempts=%d", e.Attempts)
		}
		if e.Status != domain.JobCompleted && e.Status != domain.JobFailed {
			t.Fatalf("entry %s left %s", e.Kind, e.Status)
		}
	}
}

func TestWorker_PolicyRejectionRetriesOnceSanitized(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.headline = "Run faster in Nike shoes"
	h.renderer.imageErrs = []error{&providers.RenderError{Status: 400, Body: "rejected by our content policy"}}

	res, _ := h.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1", CopyBrief: "running shoes on a track"})
	h.drain(t)

	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderDone {
		t.Fatalf("status %s: %s", v.Status, v.Error)
	}
	if len(h.renderer.imagePrompts) != 2 {
		t.Fatalf("expected 2 render calls, got %d", len(h.renderer.imagePrompts))
	}
	if strings.Contains(strings.ToLower(h.renderer.imagePrompts[1]), "nike") {
		t.Fatalf("retry prompt not sanitized: %q", h.renderer.imagePrompts[1])
	}
	if l := h.ledger(t, "b1"); l.WoofsUsed != 10 || l.ImagesUsed != 1 {
		t.Fatalf("retry must be charged once: %+v", l)
	}
}

func TestWorker_PolicyRejectionOfCleanPromptFailsAndRefunds(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.imageErrs = []error{&providers.RenderError{Status: 400, Body: "content policy violation"}}

	res, _ := h.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1", CopyBrief: "a quiet lake"})
	h.drain(t)

	if len(h.renderer.imagePrompts) != 1 {
		t.Fatalf("unchanged prompt must not be resent, calls=%d", len(h.renderer.imagePrompts))
	}
	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderFailed {
		t.Fatalf("status %s", v.Status)
	}
	if l := h.ledger(t, "b1"); l.WoofsUsed != 0 || l.ImagesUsed != 0 {
		t.Fatalf("not refunded: %+v", l)
	}
}

func TestWorker_TransientFailureRequeuesAndRefunds(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.imageErrs = []error{&providers.RenderError{Status: 503, Body: "upstream unavailable"}}
	ctx := context.Background()

	res, _ := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1"})
	h.drain(t)

	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderDone {
		t.Fatalf("status %s: %s", v.Status, v.Error)
	}
	for _, e := range orderEntries(t, h, res.OrderID) {
		if e.Kind == domain.StageRender && e.Attempts != 1 {
			t.Fatalf("render attempts = %d, want 1", e.Attempts)
		}
	}
	bal, _ := h.quota.Balance(ctx, "b1")
	if bal.Ledger.WoofsUsed != 10 {
		t.Fatalf("net charge %d, want 10", bal.Ledger.WoofsUsed)
	}
	refunds := 0
	for _, tx := range bal.Transactions {
		if tx.Type == domain.QuotaRefund {
			refunds++
		}
	}
	if refunds != 1 {
		t.Fatalf("expected one refund, got %d", refunds)
	}
}

func TestWorker_SelectorKOAndQuotaExceededFailFast(t *testing.T) {
	h := newHarness(t, testBudget)
	h.selector.resp = providers.SelectResponse{Decision: providers.DecisionKO, Suggestions: []string{"lower the quality"}}
	ko, _ := h.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1"})
	h.drain(t)
	view := mustOrder(t, h, ko.OrderID)
	if view.Status != domain.OrderFailed || !strings.Contains(view.Error, "lower the quality") {
		t.Fatalf("KO not surfaced: %s %q", view.Status, view.Error)
	}

	h2 := newHarness(t, domain.Cost{Woofs: 5, Images: 1})
	poor, _ := h2.planner.Plan(context.Background(), "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1"})
	h2.drain(t)
	if v := mustOrder(t, h2, poor.OrderID); v.Status != domain.OrderFailed {
		t.Fatalf("status %s", v.Status)
	}
	if len(h2.renderer.imagePrompts) != 0 {
		t.Fatalf("render called without budget")
	}
	for _, e := range orderEntries(t, h2, poor.OrderID) {
		if e.Kind == domain.StageRender && e.Attempts != 1 {
			t.Fatalf("quota failure retried: attempts=%d", e.Attempts)
		}
	}
}

func TestQueue_RetryReopensFailedOrder(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.imageErrs = []error{&providers.RenderError{Status: 400, Body: "content policy"}}
	ctx := context.Background()
	res, _ := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1"})
	h.drain(t)
	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderFailed {
		t.Fatalf("precondition: status %s", v.Status)
	}

	var renderID string
	for _, e := range orderEntries(t, h, res.OrderID) {
		if e.Kind == domain.StageRender {
			renderID = e.ID
		}
	}
	if _, err := h.queue.Retry(ctx, "u2", renderID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	e, err := h.queue.Retry(ctx, "u1", renderID)
	if err != nil || e.Status != domain.JobQueued || e.Attempts != 0 {
		t.Fatalf("Retry: %v %+v", err, e)
	}
	if _, err := h.queue.Retry(ctx, "u1", renderID); !errors.Is(err, ErrConflict) {
		t.Fatalf("retrying a queued entry should conflict, got %v", err)
	}

	h.drain(t)
	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderDone || v.Error != "" {
		t.Fatalf("order not finished after retry: %s %q", v.Status, v.Error)
	}
}

func TestQueue_SweepsAndStats(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	res, _ := h.planner.Plan(ctx, "u1", domain.Intent{Kind: domain.KindImage, BrandID: "b1"})

	old := time.Now().UTC().Add(-time.Hour)
	if _, err := repo.ClaimQueueEntries(ctx, h.db, 1, old); err != nil {
		t.Fatalf("claim: %v", err)
	}
	h.db.Model(&domain.QueueEntry{}).Where("status = ?", domain.JobRunning).Update("updated_at", old)

	rep, err := h.queue.UnlockStuck(ctx, 30)
	if err != nil || rep.Unlocked != 1 || rep.Failed != 0 {
		t.Fatalf("UnlockStuck: %+v %v", rep, err)
	}
	if _, err := h.queue.UnlockStuck(ctx, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	h.db.Model(&domain.QueueEntry{}).Where("order_id = ?", res.OrderID).Update("created_at", time.Now().UTC().Add(-48*time.Hour))
	n, err := h.queue.FailExpired(ctx, 24)
	if err != nil || n != len(res.PlanKinds) {
		t.Fatalf("FailExpired: n=%d err=%v", n, err)
	}
	if v := mustOrder(t, h, res.OrderID); v.Status != domain.OrderFailed || v.Error != repo.MsgExpired {
		t.Fatalf("order not failed by expiry: %s %q", v.Status, v.Error)
	}

	st, err := h.queue.Stats(ctx, "u1")
	if err != nil || st.Counts[domain.JobFailed] != int64(len(res.PlanKinds)) || st.Total != int64(len(res.PlanKinds)) || st.LastUpdated == nil {
		t.Fatalf("Stats: %+v %v", st, err)
	}
	page, err := h.queue.List(ctx, "u1", repo.QueueFilter{Status: domain.JobFailed}, 1, 2)
	if err != nil || len(page.Items) != 2 || page.Total != int64(len(res.PlanKinds)) {
		t.Fatalf("List: %+v %v", page, err)
	}
}

func TestExtFor(t *testing.T) {
	cases := []struct{ ct, url, want string }{
		{"image/jpeg", "https://x/a", "jpg"},
		{"video/mp4; codecs=avc1", "https://x/a", "mp4"},
		{"", "https://x/a.WEBP?sig=1", "webp"},
		{"application/octet-stream", "https://x/a", "bin"},
	}
	for _, c := range cases {
		if got := extFor(c.ct, c.url); got != c.want {
			t.Fatalf("extFor(%q,%q)=%q want %q", c.ct, c.url, got, c.want)
		}
	}
}

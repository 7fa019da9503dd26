package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/providers"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
)

func TestCreateBatch_QueuesOneRenderPerClip(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()

	b, err := h.batches.CreateBatch(ctx, "u1", batchRequest(2, 3))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.Source != SourceExplicit || len(b.Videos) != 2 || b.TotalClips != 6 || b.Progress != 0 {
		t.Fatalf("unexpected view: %+v", b)
	}
	if b.Settings == nil || b.Settings.ClipsPerVideo != 3 || b.Settings.ClipDurationS != 8 || b.Settings.Quality != domain.QualityFast {
		t.Fatalf("settings snapshot: %+v", b.Settings)
	}
	n, err := repo.CountQueue(ctx, h.db, repo.QueueFilter{UserID: "u1", Type: domain.QueueTypeClip, Status: domain.JobQueued})
	if err != nil || n != 6 {
		t.Fatalf("expected 6 queued clip entries, got %d (%v)", n, err)
	}
	if h.events.count(realtime.EventBatchUpdated) != 1 {
		t.Fatalf("batch creation not published")
	}
}

func TestCreateBatch_Validation(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()

	uneven := batchRequest(2, 2)
	uneven.Videos[1].Clips = uneven.Videos[1].Clips[:1]
	tooMany := batchRequest(11, 1)
	noClips := batchRequest(1, 1)
	noClips.Videos[0].Clips = nil

	for name, req := range map[string]CreateBatchRequest{"uneven": uneven, "too many videos": tooMany, "no clips": noClips} {
		if _, err := h.batches.CreateBatch(ctx, "u1", req); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := h.batches.CreateBatch(ctx, "", batchRequest(1, 1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateBatch_CelebrityGate(t *testing.T) {
	h := newHarness(t, testBudget)
	req := batchRequest(1, 2)
	req.Videos[0].Clips[1] = "Lionel Messi juggling a ball"

	_, err := h.batches.CreateBatch(context.Background(), "u1", req)
	var cp *ContentPolicyError
	if !errors.As(err, &cp) || len(cp.MatchedNames) != 1 || len(cp.Suggestions) == 0 {
		t.Fatalf("expected content policy error, got %v", err)
	}
	var n int64
	h.db.Model(&domain.VideoBatch{}).Count(&n)
	if n != 0 {
		t.Fatalf("gated batch was stored")
	}
}

func TestBatchWorker_RendersAllClipsAndRollsUp(t *testing.T) {
	h := newHarness(t, testBudget)
	store := &fakeStore{}
	h.queue.Store = store
	h.queue.Fetcher = &fakeFetcher{data: []byte("mp4"), contentType: "video/mp4"}
	ctx := context.Background()

	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(2, 2))
	h.drain(t)

	got, err := h.batches.GetBatch(ctx, "u1", b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != domain.RollupDone || got.Progress != 100 || got.CompletedClips != 4 {
		t.Fatalf("batch not done: %+v", got.Rollup)
	}
	for _, v := range got.Videos {
		for _, c := range v.Clips {
			if !strings.HasPrefix(c.URL, "https://cdn.test/brand-1/batches/"+b.ID+"/") {
				t.Fatalf("clip not mirrored: %q", c.URL)
			}
			if c.ThumbURL == "" {
				t.Fatalf("clip poster missing")
			}
		}
	}
	if l := h.ledger(t, "brand-1"); l.VideosUsed != 4 || l.WoofsUsed != 40 {
		t.Fatalf("unexpected charge: %+v", l)
	}
	var persisted domain.VideoBatch
	h.db.First(&persisted, "id = ?", b.ID)
	if persisted.Status != domain.RollupDone {
		t.Fatalf("persisted batch status %q", persisted.Status)
	}
	if h.events.count(realtime.EventClipUpdated) < 8 {
		t.Fatalf("expected processing and completed events per clip, got %d", h.events.count(realtime.EventClipUpdated))
	}
}

func TestBatchWorker_ClipFailureIsIsolatedAndRefunded(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.videoErrs = []error{&providers.RenderError{Status: 503, Body: "busy"}}
	ctx := context.Background()

	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(1, 3))
	h.drain(t)

	got, _ := h.batches.GetBatch(ctx, "u1", b.ID)
	v := got.Videos[0]
	if v.Clips[0].Status != domain.ClipFailed || v.Clips[0].Error == "" {
		t.Fatalf("first clip should fail without automatic retry: %+v", v.Clips[0])
	}
	for _, c := range v.Clips[1:] {
		if c.Status != domain.ClipCompleted {
			t.Fatalf("sibling affected: %+v", c)
		}
	}
	if v.Status != domain.RollupFailed || got.Status != domain.RollupFailed || got.ErrorClips != 1 || got.Progress != 67 {
		t.Fatalf("roll-up: video=%+v batch=%+v", v.Rollup, got.Rollup)
	}
	if l := h.ledger(t, "brand-1"); l.VideosUsed != 2 {
		t.Fatalf("failed clip not refunded: %+v", l)
	}
}

// stoppingRenderer cancels the worker's context mid-render, the way a
// shutdown or a dropped trigger request would.
type stoppingRenderer struct {
	*fakeRenderer
	stop context.CancelFunc
}

func (r *stoppingRenderer) RenderVideo(ctx context.Context, req providers.VideoRequest) (providers.VideoResult, error) {
	r.stop()
	<-ctx.Done()
	return providers.VideoResult{}, ctx.Err()
}

func TestBatchWorker_StoppedRenderGoesBackToQueue(t *testing.T) {
	h := newHarness(t, testBudget)
	b, err := h.batches.CreateBatch(context.Background(), "u1", batchRequest(1, 2))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Renderer = &stoppingRenderer{fakeRenderer: h.renderer, stop: cancel}
	if n, err := h.queue.TriggerWorker(ctx, 1); err != nil || n != 1 {
		t.Fatalf("TriggerWorker: n=%d err=%v", n, err)
	}

	bg := context.Background()
	entries, err := repo.ListQueuePage(bg, h.db, repo.QueueFilter{UserID: "u1", Type: domain.QueueTypeClip}, 0, 10)
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries: %d %v", len(entries), err)
	}
	for _, e := range entries {
		if e.Status != domain.JobQueued || e.Attempts != 0 || e.Error != "" {
			t.Fatalf("interrupted entry should be queued with no attempt charged: %+v", e)
		}
	}
	clips, _ := repo.ListBatchClips(bg, h.db, b.ID)
	for _, c := range clips {
		if c.Status == domain.ClipFailed || c.Error != "" {
			t.Fatalf("clip failed by a stopped worker: %+v", c)
		}
	}
	if l := h.ledger(t, "brand-1"); l.VideosUsed != 0 {
		t.Fatalf("interrupted render kept its charge: %+v", l)
	}

	h.queue.Renderer = h.renderer
	h.drain(t)
	got, _ := h.batches.GetBatch(bg, "u1", b.ID)
	if got.Status != domain.RollupDone || got.Progress != 100 {
		t.Fatalf("batch did not finish after restart: %+v", got.Rollup)
	}
	if l := h.ledger(t, "brand-1"); l.VideosUsed != 2 {
		t.Fatalf("ledger after restart: %+v", l)
	}
}

func TestBatchWorker_UnreadableSettingsFailTheClip(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(1, 1))
	if err := h.db.Model(&domain.VideoBatch{}).Where("id = ?", b.ID).Update("settings", "{not json").Error; err != nil {
		t.Fatalf("corrupt settings: %v", err)
	}
	h.drain(t)

	clips, _ := repo.ListBatchClips(ctx, h.db, b.ID)
	if len(clips) != 1 || clips[0].Status != domain.ClipFailed || !strings.Contains(clips[0].Error, "settings") {
		t.Fatalf("clip should fail on unreadable settings: %+v", clips)
	}
	if len(h.renderer.videoPrompts) != 0 {
		t.Fatalf("renderer called with unknown settings")
	}
	if l := h.ledger(t, "brand-1"); l.VideosUsed != 0 {
		t.Fatalf("charged for a clip that never rendered: %+v", l)
	}
}

func TestRetryClip_ResetsOnlyTarget(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.videoErrs = []error{&providers.RenderError{Status: 500, Body: "boom"}}
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(1, 3))
	h.drain(t)

	before, _ := repo.ListBatchClips(ctx, h.db, b.ID)
	target := before[0]

	if err := h.batches.RetryClip(ctx, "u2", target.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if err := h.batches.RetryClip(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.batches.RetryClip(ctx, "u1", target.ID); err != nil {
		t.Fatalf("RetryClip: %v", err)
	}
	if err := h.batches.RetryClip(ctx, "u1", target.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second retry while queued should conflict, got %v", err)
	}

	after, _ := repo.ListBatchClips(ctx, h.db, b.ID)
	if after[0].Status != domain.ClipPending || after[0].URL != "" || after[0].Error != "" {
		t.Fatalf("target not reset: %+v", after[0])
	}
	for i := 1; i < len(after); i++ {
		a, p := after[i], before[i]
		if a.Status != p.Status || a.URL != p.URL || a.ThumbURL != p.ThumbURL || a.Duration != p.Duration ||
			a.Error != p.Error || !a.UpdatedAt.Equal(p.UpdatedAt) {
			t.Fatalf("sibling %d changed:\nbefore %+v\nafter  %+v", i, p, a)
		}
	}

	h.drain(t)
	got, _ := h.batches.GetBatch(ctx, "u1", b.ID)
	if got.Status != domain.RollupDone || got.Progress != 100 {
		t.Fatalf("batch not recovered: %+v", got.Rollup)
	}
}

func TestRetry_ConcurrentCallsQueueOneRender(t *testing.T) {
	h := newHarness(t, testBudget)
	h.renderer.videoErrs = []error{&providers.RenderError{Status: 500, Body: "boom"}}
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(1, 2))
	h.drain(t)
	clips, _ := repo.ListBatchClips(ctx, h.db, b.ID)
	target := clips[0]
	for _, c := range clips {
		if c.Status == domain.ClipFailed {
			target = c
		}
	}

	active := func(clipID string) int64 {
		t.Helper()
		var n int64
		if err := h.db.Model(&domain.QueueEntry{}).
			Where("clip_id = ? AND status IN ?", clipID, []string{domain.JobQueued, domain.JobBlocked, domain.JobRunning}).
			Count(&n).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	run := func(n int, call func() error) (ok, conflicts int) {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := call()
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		return ok, conflicts
	}

	ok, conflicts := run(6, func() error { return h.batches.RetryClip(ctx, "u1", target.ID) })
	if ok != 1 || conflicts != 5 {
		t.Fatalf("clip retries: ok=%d conflicts=%d", ok, conflicts)
	}
	if n := active(target.ID); n != 1 {
		t.Fatalf("active entries for clip = %d, want 1", n)
	}

	h.drain(t)
	ok, conflicts = run(4, func() error { return h.batches.RetryVideo(ctx, "u1", target.VideoID) })
	if ok != 1 || conflicts != 3 {
		t.Fatalf("video retries: ok=%d conflicts=%d", ok, conflicts)
	}
	for _, c := range clips {
		if n := active(c.ID); n != 1 {
			t.Fatalf("active entries for clip %s = %d, want 1", c.ID, n)
		}
	}
}

func TestRetryVideo_ResetsEveryClipAndVideo(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(2, 2))
	h.drain(t)

	videoID := b.Videos[0].ID
	if err := h.batches.RetryVideo(ctx, "u1", videoID); err != nil {
		t.Fatalf("RetryVideo: %v", err)
	}
	v, _ := repo.GetVideo(ctx, h.db, videoID)
	if v.Status != domain.RollupPending {
		t.Fatalf("video status %q, want pending", v.Status)
	}
	for _, c := range v.Clips {
		if c.Status != domain.ClipPending || c.URL != "" {
			t.Fatalf("clip not reset: %+v", c)
		}
	}
	other, _ := repo.GetVideo(ctx, h.db, b.Videos[1].ID)
	for _, c := range other.Clips {
		if c.Status != domain.ClipCompleted {
			t.Fatalf("other video touched: %+v", c)
		}
	}
	if err := h.batches.RetryVideo(ctx, "u1", videoID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict while clips are queued, got %v", err)
	}
	n, _ := repo.CountQueue(ctx, h.db, repo.QueueFilter{Type: domain.QueueTypeClip, Status: domain.JobQueued})
	if n != 2 {
		t.Fatalf("expected 2 new clip entries, got %d", n)
	}
}

func TestRollup_StatusAndProgress(t *testing.T) {
	clips := func(statuses ...string) []domain.BatchClip {
		out := make([]domain.BatchClip, len(statuses))
		for i, s := range statuses {
			out[i] = domain.BatchClip{Status: s}
		}
		return out
	}
	cases := []struct {
		name     string
		clips    []domain.BatchClip
		status   string
		progress int
	}{
		{"all done", clips("completed", "done", "completed"), domain.RollupDone, 100},
		{"one error", clips("completed", "error", "pending"), domain.RollupFailed, 33},
		{"in flight", clips("completed", "processing", "queued"), domain.RollupProcessing, 33},
		{"two of three", clips("completed", "completed", "pending"), domain.RollupProcessing, 67},
		{"empty", nil, domain.RollupProcessing, 0},
	}
	for _, c := range cases {
		r := domain.RollupClips(c.clips)
		if r.Status != c.status || r.Progress != c.progress {
			t.Fatalf("%s: got %s/%d want %s/%d", c.name, r.Status, r.Progress, c.status, c.progress)
		}
	}

	batch := domain.RollupVideos([]domain.Rollup{
		domain.RollupClips(clips("completed", "completed")),
		domain.RollupClips(clips("completed", "failed")),
	})
	if batch.Status != domain.RollupFailed || batch.TotalClips != 4 || batch.CompletedClips != 3 || batch.Progress != 75 {
		t.Fatalf("batch roll-up: %+v", batch)
	}
}

func TestLoadBatches_MergesVirtualGroups(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(1, 1))

	now := time.Now().UTC()
	recs := []domain.GenerationRecord{
		{ID: "r1", UserID: "u1", BrandID: "brand-1", ScriptGroup: "summer", Title: "Beach", Status: "done", URL: "https://x/1.mp4", CreatedAt: now.Add(time.Hour)},
		{ID: "r2", UserID: "u1", BrandID: "brand-1", ScriptGroup: "summer", Status: "running", CreatedAt: now.Add(time.Hour + time.Second)},
		{ID: "r3", UserID: "u1", BrandID: "brand-1", ScriptGroup: b.ID, Status: "done", CreatedAt: now},
	}
	if err := h.db.Create(&recs).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	list, err := h.batches.LoadBatches(ctx, "u1", "brand-1")
	if err != nil {
		t.Fatalf("LoadBatches: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected explicit + one virtual batch, got %d", len(list))
	}
	if list[0].Source != SourceVirtual || list[0].ID != "summer" || list[1].ID != b.ID {
		t.Fatalf("unexpected order: %s/%s, %s", list[0].Source, list[0].ID, list[1].ID)
	}
	virt := list[0]
	if virt.TotalClips != 2 || virt.CompletedClips != 1 || virt.Status != domain.RollupProcessing || virt.Progress != 50 {
		t.Fatalf("virtual roll-up: %+v", virt.Rollup)
	}
	if virt.Videos[1].Title != "Video 2" || virt.Videos[1].Clips[0].Status != domain.ClipProcessing {
		t.Fatalf("virtual video mapping: %+v", virt.Videos[1])
	}

	got, err := h.batches.GetBatch(ctx, "u1", "summer")
	if err != nil || got.Source != SourceVirtual {
		t.Fatalf("GetBatch virtual: %v %+v", err, got)
	}
	if _, err := h.batches.GetBatch(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClipStatuses(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(2, 2))

	st, err := h.batches.ClipStatuses(ctx, "u1", b.ID)
	if err != nil || len(st.Clips) != 4 || st.Status != domain.RollupProcessing {
		t.Fatalf("ClipStatuses: %+v %v", st, err)
	}
	for _, c := range st.Clips {
		if c.Status != domain.ClipPending {
			t.Fatalf("queued clip should read as pending, got %q", c.Status)
		}
	}
	if _, err := h.batches.ClipStatuses(ctx, "u2", b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCanvaCSV_Format(t *testing.T) {
	texts := []VideoText{
		{Index: 0, Title: "Launch", Hook: "Wait for it", Script: "Line one\nLine two", CTA: "Shop", Caption: "New, now", ClipURLs: []string{"https://x/a.mp4", "https://x/b.mp4"}},
		{Index: 1, Title: "Teaser", Hook: "Soon", Script: "Short", CTA: "Follow", Caption: ""},
	}
	data, err := CanvaCSV("batch-42", texts)
	if err != nil {
		t.Fatalf("CanvaCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(texts)+1 {
		t.Fatalf("expected %d lines, got %d:\n%s", len(texts)+1, len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "batch_key,video_index,video_title") {
		t.Fatalf("unexpected header %q", lines[0])
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := rows[1]
	if r[0] != "batch-42" || r[1] != "1" || r[2] != "Launch" || r[4] != "Line one Line two" || r[6] != "New, now" {
		t.Fatalf("row 1 fields: %q", r)
	}
	if r[7] != "2" || r[8] != "https://x/a.mp4|https://x/b.mp4" {
		t.Fatalf("clip columns: %q", r)
	}
	if rows[2][1] != "2" || rows[2][7] != "0" {
		t.Fatalf("row 2 fields: %q", rows[2])
	}
}

func TestExports_CSVTextsAndZIP(t *testing.T) {
	h := newHarness(t, testBudget)
	ctx := context.Background()
	b, _ := h.batches.CreateBatch(ctx, "u1", batchRequest(2, 2))
	h.drain(t)

	csvOut, err := h.batches.DownloadCSV(ctx, "u1", b.ID)
	if err != nil {
		t.Fatalf("DownloadCSV: %v", err)
	}
	if !strings.HasPrefix(csvOut.Filename, "batch-spring-drop-") || !strings.HasSuffix(csvOut.Filename, ".csv") {
		t.Fatalf("filename %q", csvOut.Filename)
	}

	texts, err := h.batches.CopyAllTexts(ctx, "u1", b.ID)
	if err != nil || !strings.Contains(texts, "Video 2: Video 2") || !strings.Contains(texts, "CTA: Shop now") {
		t.Fatalf("CopyAllTexts: %v\n%s", err, texts)
	}

	// The second clip of the first video cannot be fetched.
	got, _ := h.batches.GetBatch(ctx, "u1", b.ID)
	missing := got.Videos[0].Clips[1].URL
	h.batches.Fetcher = &fakeFetcher{data: []byte("mp4"), contentType: "video/mp4", failURLs: map[string]bool{missing: true}}

	zipOut, err := h.batches.DownloadZIP(ctx, "u1", b.ID)
	if err != nil {
		t.Fatalf("DownloadZIP: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(zipOut.Data), int64(len(zipOut.Data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"texts.csv", "texts.txt", "manifest.json", "video-01/clip-01.mp4", "video-02/clip-02.mp4"} {
		if !names[want] {
			t.Fatalf("zip missing %s: %v", want, names)
		}
	}
	if names["video-01/clip-02.mp4"] {
		t.Fatalf("unfetchable clip should be listed in the manifest, not zipped")
	}

	if _, err := h.batches.DownloadCSV(ctx, "u2", b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

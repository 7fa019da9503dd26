package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/alfie-backend/internal/config"
)

func TestSelectorClient_Select(t *testing.T) {
	var got SelectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"decision":"ok","provider":"veo","cost_woofs":4,"eta_s":90,"quality_score":0.8}`))
	}))
	defer srv.Close()

	c := &SelectorClient{URL: srv.URL, APIKey: "k", HTTP: NewHTTPClient(5 * time.Second)}
	resp, err := c.Select(context.Background(), SelectRequest{
		Brief: Brief{UseCase: "ad"}, Modality: "video", Format: "9:16", DurationS: 8, Quality: "standard", BudgetWoofs: 10,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if resp.Decision != DecisionOK || resp.Provider != "veo" || resp.CostWoofs != 4 || resp.Rejected() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Modality != "video" || got.BudgetWoofs != 10 || got.Brief.UseCase != "ad" {
		t.Fatalf("request not forwarded: %+v", got)
	}
}

func TestSelectorClient_KOAndMissingDecision(t *testing.T) {
	body := `{"decision":"KO","suggestions":["lower quality"]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := &SelectorClient{URL: srv.URL}

	resp, err := c.Select(context.Background(), SelectRequest{})
	if err != nil || !resp.Rejected() || len(resp.Suggestions) != 1 {
		t.Fatalf("expected KO with suggestions, got %+v err=%v", resp, err)
	}

	body = `{"provider":"x"}`
	if _, err := c.Select(context.Background(), SelectRequest{}); err == nil {
		t.Fatalf("expected error for missing decision")
	}
}

func TestRenderClient_Endpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/render/image":
			_, _ = w.Write([]byte(`{"image_urls":["https://cdn/a.png","https://cdn/b.png"]}`))
		case "/render/video":
			_, _ = w.Write([]byte(`{"video_url":"https://cdn/v.mp4","duration_s":8}`))
		case "/render/copy":
			_, _ = w.Write([]byte(`{"headline":"Hi","slides":["one","two"],"caption":"c","cta":"Buy"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := &RenderClient{BaseURL: srv.URL + "/render/"}
	ctx := context.Background()

	img, err := c.RenderImage(ctx, ImageRequest{Prompt: "p", Count: 2})
	if err != nil || len(img.ImageURLs) != 2 {
		t.Fatalf("RenderImage: %+v %v", img, err)
	}
	vid, err := c.RenderVideo(ctx, VideoRequest{Prompt: "p"})
	if err != nil || vid.VideoURL == "" || vid.Duration != 8 {
		t.Fatalf("RenderVideo: %+v %v", vid, err)
	}
	cp, err := c.GenerateCopy(ctx, CopyRequest{Slides: 2})
	if err != nil || len(cp.Slides) != 2 || cp.CTA != "Buy" {
		t.Fatalf("GenerateCopy: %+v %v", cp, err)
	}
}

func TestRenderClient_ErrorsCarryProviderText(t *testing.T) {
	status := http.StatusBadRequest
	body := `content policy violation: public figure`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := &RenderClient{BaseURL: srv.URL}

	_, err := c.RenderVideo(context.Background(), VideoRequest{})
	var re *RenderError
	if !errors.As(err, &re) || re.Status != 400 || !strings.Contains(re.Body, "public figure") || re.Retryable() {
		t.Fatalf("unexpected error %#v", err)
	}

	status, body = http.StatusOK, `{"error":{"code":"content_policy_violation","message":"blocked"}}`
	_, err = c.RenderImage(context.Background(), ImageRequest{})
	if !errors.As(err, &re) || !strings.Contains(re.Body, "content_policy_violation") {
		t.Fatalf("error payload on 200 not surfaced: %#v", err)
	}

	status, body = http.StatusServiceUnavailable, "busy"
	_, err = c.GenerateCopy(context.Background(), CopyRequest{})
	if !errors.As(err, &re) || !re.Retryable() {
		t.Fatalf("503 should be retryable: %#v", err)
	}

	status, body = http.StatusOK, `{"image_urls":[]}`
	if _, err := c.RenderImage(context.Background(), ImageRequest{}); err == nil {
		t.Fatalf("expected error for empty url list")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 100))
	}))
	defer srv.Close()

	f := &HTTPFetcher{}
	data, ct, err := f.Fetch(context.Background(), srv.URL+"/v.mp4")
	if err != nil || len(data) != 100 || ct != "video/mp4" {
		t.Fatalf("Fetch: len=%d ct=%q err=%v", len(data), ct, err)
	}
	if _, _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
	small := &HTTPFetcher{MaxBytes: 10}
	if _, _, err := small.Fetch(context.Background(), srv.URL+"/v.mp4"); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailer_ImageThumbKeepsAspect(t *testing.T) {
	th := Thumbnailer{Width: 100}
	out, err := th.ImageThumb(pngBytes(t, 400, 200))
	if err != nil {
		t.Fatalf("ImageThumb: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil || cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("thumb size %dx%d err=%v", cfg.Width, cfg.Height, err)
	}

	out, _ = th.ImageThumb(pngBytes(t, 40, 40))
	cfg, _ = png.DecodeConfig(bytes.NewReader(out))
	if cfg.Width != 40 {
		t.Fatalf("small image should not be upscaled, got %d", cfg.Width)
	}
	if _, err := th.ImageThumb([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestThumbnailer_VideoPosterUsesRatio(t *testing.T) {
	th := Thumbnailer{Width: 90}
	out, err := th.VideoPoster("Spring drop", "9:16")
	if err != nil {
		t.Fatalf("VideoPoster: %v", err)
	}
	cfg, _ := png.DecodeConfig(bytes.NewReader(out))
	if cfg.Width != 90 || cfg.Height != 160 {
		t.Fatalf("poster size %dx%d", cfg.Width, cfg.Height)
	}

	out, _ = Thumbnailer{Width: 160}.VideoPoster("", "bogus")
	cfg, _ = png.DecodeConfig(bytes.NewReader(out))
	if cfg.Height != 90 {
		t.Fatalf("bad ratio should fall back to 16:9, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestNewMinioStore(t *testing.T) {
	if _, err := NewMinioStore(config.AssetsConfig{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	s, err := NewMinioStore(config.AssetsConfig{Endpoint: "localhost:9000", Bucket: "assets", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}
	if got := s.URL("/brand/x.png"); got != "http://localhost:9000/assets/brand/x.png" {
		t.Fatalf("URL=%q", got)
	}
	s, _ = NewMinioStore(config.AssetsConfig{Endpoint: "localhost:9000", Bucket: "assets", PublicBaseURL: "https://cdn.test/"})
	if got := s.URL("k.mp4"); got != "https://cdn.test/k.mp4" {
		t.Fatalf("URL=%q", got)
	}
}

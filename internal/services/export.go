package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// CSVHeader is the column layout of the design-tool import file.
var CSVHeader = []string{"batch_key", "video_index", "video_title", "hook", "script", "cta", "caption", "clip_count", "clip_urls"}

// VideoText is the copy of one video as exported.
type VideoText struct {
	Index    int
	Title    string
	Hook     string
	Script   string
	CTA      string
	Caption  string
	ClipURLs []string
}

// Export is a generated file.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BatchTexts flattens a batch into its per-video texts.
func BatchTexts(b BatchView) []VideoText {
	out := make([]VideoText, 0, len(b.Videos))
	for _, v := range b.Videos {
		t := VideoText{Index: v.Index, Title: v.Title, Hook: v.Hook, Script: v.Script, CTA: v.CTA, Caption: v.Caption}
		for _, c := range v.Clips {
			if c.URL != "" && domain.NormalizeClipStatus(c.Status) == domain.ClipCompleted {
				t.ClipURLs = append(t.ClipURLs, c.URL)
			}
		}
		out = append(out, t)
	}
	return out
}

// CanvaCSV renders one header row plus one row per video. Line breaks inside
// fields are folded to spaces so every record stays on one line.
func CanvaCSV(batchKey string, texts []VideoText) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	for _, t := range texts {
		row := []string{
			oneLine(batchKey),
			strconv.Itoa(t.Index + 1),
			oneLine(t.Title),
			oneLine(t.Hook),
			oneLine(t.Script),
			oneLine(t.CTA),
			oneLine(t.Caption),
			strconv.Itoa(len(t.ClipURLs)),
			strings.Join(t.ClipURLs, "|"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatTexts renders every video's copy as plain text, ready to paste.
func FormatTexts(texts []VideoText) string {
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Video %d: %s\n", t.Index+1, t.Title)
		for _, f := range [][2]string{{"Hook", t.Hook}, {"Script", t.Script}, {"CTA", t.CTA}, {"Caption", t.Caption}} {
			if strings.TrimSpace(f[1]) != "" {
				fmt.Fprintf(&b, "%s: %s\n", f[0], strings.TrimSpace(f[1]))
			}
		}
	}
	return b.String()
}

func exportName(b *BatchView, ext string) string {
	id := b.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("batch-%s-%s.%s", Slugify(b.Title), id, ext)
}

// DownloadCSV exports a batch's texts as CSV.
func (s *BatchService) DownloadCSV(ctx context.Context, userID, batchID string) (*Export, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "DownloadCSV", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	b, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	data, err := CanvaCSV(b.ID, BatchTexts(*b))
	if err != nil {
		return nil, err
	}
	return &Export{Filename: exportName(b, "csv"), ContentType: "text/csv; charset=utf-8", Data: data}, nil
}

// CopyAllTexts returns every video's copy of a batch as plain text.
func (s *BatchService) CopyAllTexts(ctx context.Context, userID, batchID string) (string, error) {
	b, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return "", err
	}
	return FormatTexts(BatchTexts(*b)), nil
}

type zipManifest struct {
	BatchID     string    `json:"batch_id"`
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`
	Files       []string  `json:"files"`
	Missing     []string  `json:"missing,omitempty"`
}

type zipMedia struct {
	name string
	data []byte
}

// DownloadZIP bundles the texts (CSV and plain text) with every completed
// clip. Clips that cannot be fetched are listed in manifest.json instead of
// failing the export.
func (s *BatchService) DownloadZIP(ctx context.Context, userID, batchID string) (*Export, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "DownloadZIP", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	b, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	texts := BatchTexts(*b)
	csvData, err := CanvaCSV(b.ID, texts)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		media   []zipMedia
		missing []string
	)
	if s.Fetcher != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, v := range b.Videos {
			for _, c := range v.Clips {
				if c.URL == "" || domain.NormalizeClipStatus(c.Status) != domain.ClipCompleted {
					continue
				}
				name := fmt.Sprintf("video-%02d/clip-%02d.%s", v.Index+1, c.Index+1, extFor("", c.URL))
				g.Go(func() error {
					data, ct, err := s.Fetcher.Fetch(gctx, c.URL)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						log.Warn().Err(err).Str("clip_id", c.ID).Msg("zip export: clip fetch failed")
						missing = append(missing, name)
						return nil
					}
					if ext := extFor(ct, c.URL); !strings.HasSuffix(name, "."+ext) {
						name = strings.TrimSuffix(name, "."+extFor("", c.URL)) + "." + ext
					}
					media = append(media, zipMedia{name: name, data: data})
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	man := zipManifest{BatchID: b.ID, Source: b.Source, GeneratedAt: time.Now().UTC()}
	put := func(name string, data []byte) error {
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
		man.Files = append(man.Files, name)
		return nil
	}
	if err := put("texts.csv", csvData); err != nil {
		return nil, err
	}
	if err := put("texts.txt", []byte(FormatTexts(texts))); err != nil {
		return nil, err
	}
	sort.Slice(media, func(i, j int) bool { return media[i].name < media[j].name })
	sort.Strings(missing)
	man.Missing = missing
	for _, m := range media {
		if err := put(m.name, m.data); err != nil {
			return nil, err
		}
	}
	raw, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, err
	}
	f, err := zw.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &Export{Filename: exportName(b, "zip"), ContentType: "application/zip", Data: buf.Bytes()}, nil
}

package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher downloads rendered media so it can be stored and thumbnailed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// HTTPFetcher fetches over HTTP(S).
type HTTPFetcher struct {
	HTTP     *http.Client
	MaxBytes int64 // 0 means 256 MiB
}

// Fetch returns the body and its Content-Type. Bodies above MaxBytes fail.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &RenderError{Status: resp.StatusCode, Body: "fetch " + url}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = 256 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", url, limit)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

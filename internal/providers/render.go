package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ImageRequest renders one or more still images.
type ImageRequest struct {
	Provider    string `json:"provider"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	BrandID     string `json:"brand_id"`
	Count       int    `json:"count"`
	Quality     string `json:"quality,omitempty"`
}

// ImageResult lists rendered image URLs.
type ImageResult struct {
	ImageURLs []string `json:"image_urls"`
}

// VideoRequest renders one video clip.
type VideoRequest struct {
	Provider    string `json:"provider"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	BrandID     string `json:"brand_id"`
	DurationS   int    `json:"duration_s,omitempty"`
	Quality     string `json:"quality,omitempty"`
}

// VideoResult is a rendered clip.
type VideoResult struct {
	VideoURL string  `json:"video_url"`
	Duration float64 `json:"duration_s,omitempty"`
}

// CopyRequest asks for marketing copy.
type CopyRequest struct {
	BrandID  string `json:"brand_id"`
	Kind     string `json:"kind"`
	Language string `json:"language"`
	Goal     string `json:"goal,omitempty"`
	Audience string `json:"audience,omitempty"`
	Brief    string `json:"brief,omitempty"`
	CTA      string `json:"cta,omitempty"`
	Slides   int    `json:"slides"`
}

// CopyResult is generated copy: one text per slide plus a caption.
type CopyResult struct {
	Headline string   `json:"headline"`
	Slides   []string `json:"slides"`
	Caption  string   `json:"caption"`
	CTA      string   `json:"cta"`
}

// Renderer is the set of paid generation calls.
type Renderer interface {
	RenderImage(ctx context.Context, req ImageRequest) (ImageResult, error)
	RenderVideo(ctx context.Context, req VideoRequest) (VideoResult, error)
	GenerateCopy(ctx context.Context, req CopyRequest) (CopyResult, error)
}

// RenderClient calls BaseURL/{image,video,copy}.
type RenderClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c *RenderClient) endpoint(p string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + p
}

// RenderImage renders still images. An empty URL list is an error.
func (c *RenderClient) RenderImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	var out ImageResult
	if err := postJSON(ctx, c.HTTP, c.endpoint("image"), c.APIKey, req, &out); err != nil {
		return ImageResult{}, err
	}
	if len(out.ImageURLs) == 0 {
		return ImageResult{}, errors.New("image provider returned no urls")
	}
	return out, nil
}

// RenderVideo renders a clip. An empty URL is an error.
func (c *RenderClient) RenderVideo(ctx context.Context, req VideoRequest) (VideoResult, error) {
	var out VideoResult
	if err := postJSON(ctx, c.HTTP, c.endpoint("video"), c.APIKey, req, &out); err != nil {
		return VideoResult{}, err
	}
	if out.VideoURL == "" {
		return VideoResult{}, errors.New("video provider returned no url")
	}
	return out, nil
}

// GenerateCopy requests copy for a plan.
func (c *RenderClient) GenerateCopy(ctx context.Context, req CopyRequest) (CopyResult, error) {
	var out CopyResult
	if err := postJSON(ctx, c.HTTP, c.endpoint("copy"), c.APIKey, req, &out); err != nil {
		return CopyResult{}, err
	}
	return out, nil
}

package providers

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// Thumbnailer produces PNG previews. Width is the target width in pixels.
type Thumbnailer struct {
	Width int
}

func (t Thumbnailer) width() int {
	if t.Width < 16 {
		return 320
	}
	return t.Width
}

// ImageThumb scales an encoded image to Width keeping its aspect ratio.
// Images already narrower than Width are re-encoded at their own size.
func (t Thumbnailer) ImageThumb(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode image: empty bounds")
	}
	tw := t.width()
	if w < tw {
		tw = w
	}
	th := h * tw / w
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VideoPoster draws a placeholder poster for a clip: a dark card in the
// clip's aspect ratio with the title and a play marker.
func (t Thumbnailer) VideoPoster(title, ratio string) ([]byte, error) {
	w := t.width()
	h := w * 9 / 16
	if rw, rh, ok := parseRatio(ratio); ok {
		h = w * rh / rw
	}
	if h < 1 {
		h = 1
	}

	dc := gg.NewContext(w, h)
	grad := gg.NewLinearGradient(0, 0, 0, float64(h))
	grad.AddColorStop(0, color.RGBA{0x1f, 0x23, 0x3a, 0xff})
	grad.AddColorStop(1, color.RGBA{0x0b, 0x0d, 0x17, 0xff})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	cx, cy := float64(w)/2, float64(h)/2
	r := float64(min(w, h)) / 8
	dc.SetRGBA(1, 1, 1, 0.85)
	dc.MoveTo(cx-r*0.6, cy-r)
	dc.LineTo(cx+r, cy)
	dc.LineTo(cx-r*0.6, cy+r)
	dc.ClosePath()
	dc.Fill()

	if title = strings.TrimSpace(title); title != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawStringWrapped(title, cx, float64(h)-float64(h)/8, 0.5, 1, float64(w)*0.9, 1.3, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseRatio reads "W:H".
func parseRatio(s string) (int, int, bool) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(a)
	h, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Package imaging prepares user photos for transport to the model gateway.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	// MaxDimension bounds the longest side of a normalized image.
	MaxDimension = 1024
	// JPEGQuality is the encoder quality used for normalized output.
	JPEGQuality = 90
	// MIMEType is the content type of every normalized image.
	MIMEType = "image/jpeg"
	// MaxSourcePixels rejects inputs whose header claims an absurd size before decoding them.
	MaxSourcePixels = 60_000_000

	dataURLPrefix = "data:" + MIMEType + ";base64,"
)

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("image could not be decoded")

// DecodeError reports input that is corrupt, truncated, or not a supported raster format.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return "decode image: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Normalized is a re-encoded image. Payload and Preview wrap the same JPEG bytes.
type Normalized struct {
	Bytes        []byte
	Payload      string // base64, no prefix
	Preview      string // data URL for display
	Width        int
	Height       int
	SourceFormat string
}

// Normalizer downsamples and re-encodes images.
type Normalizer struct {
	maxDimension int
	quality      int
	scaler       draw.Scaler
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithMaxDimension overrides MaxDimension.
func WithMaxDimension(px int) Option {
	return func(n *Normalizer) {
		if px > 0 {
			n.maxDimension = px
		}
	}
}

// WithQuality overrides JPEGQuality. Values outside 1..100 are ignored.
func WithQuality(q int) Option {
	return func(n *Normalizer) {
		if q >= 1 && q <= 100 {
			n.quality = q
		}
	}
}

// NewNormalizer returns a Normalizer using Catmull-Rom resampling.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		maxDimension: MaxDimension,
		quality:      JPEGQuality,
		scaler:       draw.CatmullRom,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize decodes raw, scales it to fit within the maximum dimension and
// re-encodes it as JPEG. Smaller images keep their size.
func (n *Normalizer) Normalize(raw []byte) (*Normalized, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty input"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "unrecognized image header", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Reason: "image has no pixels"}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, &DecodeError{Reason: fmt.Sprintf("image of %dx%d exceeds the pixel limit", cfg.Width, cfg.Height)}
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "corrupt " + format + " data", Err: err}
	}

	bounds := src.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), n.maxDimension)

	// JPEG has no alpha channel; transparent regions are flattened onto white.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		n.scaler.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	payload := base64.StdEncoding.EncodeToString(buf.Bytes())
	return &Normalized{
		Bytes:        buf.Bytes(),
		Payload:      payload,
		Preview:      dataURLPrefix + payload,
		Width:        width,
		Height:       height,
		SourceFormat: format,
	}, nil
}

// FitWithin scales (w, h) down so neither side exceeds limit, keeping the aspect
// ratio. The scaled side is rounded and never drops below one pixel.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		scaled := int(math.Round(float64(h) * float64(limit) / float64(w)))
		return limit, max(scaled, 1)
	}
	scaled := int(math.Round(float64(w) * float64(limit) / float64(h)))
	return max(scaled, 1), limit
}

// DecodePayload accepts a bare base64 string or a data URL and returns the raw bytes.
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, &DecodeError{Reason: "data URL is not base64 encoded"}
		}
		s = s[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip padding.
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, &DecodeError{Reason: "invalid base64", Err: err}
		}
	}
	return raw, nil
}

// DataURL wraps a base64 JPEG payload for use as an inline image reference.
func DataURL(payload string) string {
	return dataURLPrefix + payload
}

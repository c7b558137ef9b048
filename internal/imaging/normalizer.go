// Package imaging prepares receipt photos for OCR: it downscales, converts to
// luminance, stretches contrast and binarizes to a black and white image.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrDecode is returned when the input bytes are not a decodable image.
var ErrDecode = errors.New("invalid image")

const (
	// DefaultMaxWidth is the widest image handed to the OCR engine.
	DefaultMaxWidth = 1200
	// DefaultJPEGQuality is used when Format is FormatJPEG and no quality is set.
	DefaultJPEGQuality = 90

	contrastMidpoint = 128.0
	contrastFactor   = 1.2
	binaryThreshold  = 130
)

// Format selects the encoding of the normalized image.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// RawImage is an undecoded upload. It is never modified.
type RawImage struct {
	Data        []byte
	ContentType string
}

// NormalizedImage is the monochrome, OCR-ready re-encoding of a RawImage.
type NormalizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Normalizer converts receipt photos into clean two-tone images.
type Normalizer struct {
	MaxWidth int
	Format   Format
	// Quality applies to FormatJPEG only. Values below 85 are raised to 85.
	Quality int
}

// NewNormalizer returns a Normalizer with the given width limit and PNG output.
func NewNormalizer(maxWidth int) *Normalizer {
	return &Normalizer{MaxWidth: maxWidth, Format: FormatPNG}
}

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unknown image format %q", name)
}

// Normalize decodes raw, scales it down to MaxWidth, and binarizes it.
// The same input always produces the same output bytes.
func (n *Normalizer) Normalize(raw RawImage) (*NormalizedImage, error) {
	src, err := decode(raw.Data, raw.ContentType)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	width, height := ScaledSize(bounds.Dx(), bounds.Dy(), n.maxWidth())

	var scaled *image.NRGBA
	if width == bounds.Dx() && height == bounds.Dy() {
		scaled = imaging.Clone(src)
	} else {
		scaled = imaging.Resize(src, width, height, imaging.Lanczos)
	}

	mono := imaging.AdjustFunc(scaled, binarize)

	var buf bytes.Buffer
	format, contentType, opts := n.encoding()
	if err := imaging.Encode(&buf, mono, format, opts...); err != nil {
		return nil, fmt.Errorf("encoding normalized image: %w", err)
	}

	return &NormalizedImage{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Width:       width,
		Height:      height,
	}, nil
}

func (n *Normalizer) maxWidth() int {
	if n.MaxWidth <= 0 {
		return DefaultMaxWidth
	}
	return n.MaxWidth
}

func (n *Normalizer) encoding() (imaging.Format, string, []imaging.EncodeOption) {
	if n.Format == FormatJPEG {
		quality := n.Quality
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		quality = max(85, min(100, quality))
		return imaging.JPEG, "image/jpeg", []imaging.EncodeOption{imaging.JPEGQuality(quality)}
	}
	return imaging.PNG, "image/png", nil
}

// ScaledSize returns the dimensions after scaling width down to at most maxWidth.
// Images are never enlarged and neither side drops below one pixel.
func ScaledSize(width, height, maxWidth int) (int, int) {
	scale := math.Min(1, float64(maxWidth)/float64(width))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

// Luminance applies the ITU-R BT.601 weights to an RGB triple.
func Luminance(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Stretch applies the linear contrast stretch around the midpoint and rounds to an 8-bit level.
func Stretch(gray float64) uint8 {
	v := (gray-contrastMidpoint)*contrastFactor + contrastMidpoint
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// Threshold maps a stretched level to black (0) or white (255).
func Threshold(level uint8) uint8 {
	if level > binaryThreshold {
		return 255
	}
	return 0
}

func binarize(c color.NRGBA) color.NRGBA {
	v := Threshold(Stretch(Luminance(c.R, c.G, c.B)))
	return color.NRGBA{R: v, G: v, B: v, A: 255}
}

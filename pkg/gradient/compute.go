package gradient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"sort"

	"github.com/disintegration/imaging"
)

// Computer extracts presentation metadata from raw image bytes.
type Computer interface {
	Compute(ctx context.Context, data []byte) (*Gradient, error)
}

const (
	// sampleSize bounds the working image for palette extraction.
	sampleSize = 64

	// blurSize is the edge length of the blur placeholder.
	blurSize = 8

	// paletteSize is how many colors the palette carries.
	paletteSize = 5
)

// ImagingComputer is the default Computer. It decodes the image, extracts a
// frequency-ranked palette from a downscaled sample, and renders a tiny JPEG
// data URL as the blur placeholder.
type ImagingComputer struct{}

var _ Computer = (*ImagingComputer)(nil)

// NewComputer creates the default gradient computer.
func NewComputer() *ImagingComputer {
	return &ImagingComputer{}
}

// Compute derives the gradient for one image. Undecodable input (including
// SVG and ICO, which the decoder does not handle) is an error; the worker
// treats it as a retriable failure like any other.
func (c *ImagingComputer) Compute(ctx context.Context, data []byte) (*Gradient, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	sample := imaging.Fit(img, sampleSize, sampleSize, imaging.Lanczos)
	palette := extractPalette(sample, paletteSize)
	if len(palette) == 0 {
		return nil, fmt.Errorf("no colors extracted")
	}

	primary := palette[0]
	secondary := primary
	if len(palette) > 1 {
		secondary = palette[1]
	}

	blurURL, err := blurPlaceholder(img)
	if err != nil {
		return nil, fmt.Errorf("failed to render blur placeholder: %w", err)
	}

	return &Gradient{
		Palette:     palette,
		Primary:     primary,
		Secondary:   secondary,
		Foreground:  foregroundFor(primary),
		CSS:         fmt.Sprintf("linear-gradient(135deg, %s 0%%, %s 100%%)", primary, secondary),
		BlurDataURL: blurURL,
	}, nil
}

// extractPalette buckets pixels into a coarse color cube and returns the
// most frequent buckets as hex colors, most frequent first.
func extractPalette(img image.Image, n int) []string {
	type bucket struct {
		count   int
		r, g, b uint64 // running sums for averaging within the bucket
	}

	buckets := make(map[uint32]*bucket)
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a < 0x8000 {
				continue // mostly transparent pixels carry no color
			}
			r8, g8, b8 := uint32(r>>8), uint32(g>>8), uint32(b>>8)

			// 4 bits per channel: 4096 buckets
			key := (r8>>4)<<8 | (g8>>4)<<4 | (b8 >> 4)
			bk := buckets[key]
			if bk == nil {
				bk = &bucket{}
				buckets[key] = bk
			}
			bk.count++
			bk.r += uint64(r8)
			bk.g += uint64(g8)
			bk.b += uint64(b8)
		}
	}

	ranked := make([]*bucket, 0, len(buckets))
	for _, bk := range buckets {
		ranked = append(ranked, bk)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, bk := range ranked {
		c := uint64(bk.count)
		out[i] = fmt.Sprintf("#%02x%02x%02x", bk.r/c, bk.g/c, bk.b/c)
	}
	return out
}

// foregroundFor picks black or white text for readability over the color.
func foregroundFor(hex string) string {
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return "#ffffff"
	}
	// Perceived luminance, ITU-R BT.601 weights.
	lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if lum > 150 {
		return "#000000"
	}
	return "#ffffff"
}

// blurPlaceholder renders the image at blurSize and returns it as a JPEG
// data URL, small enough to inline in a page while the real image loads.
func blurPlaceholder(img image.Image) (string, error) {
	tiny := imaging.Fit(img, blurSize, blurSize, imaging.Box)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, tiny, &jpeg.Options{Quality: 40}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

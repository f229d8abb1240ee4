package render

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// BlurOptions configures the blurred now-playing background
type BlurOptions struct {
	Radius       float64
	Passes       int
	MinDimension int
	Overlay      color.NRGBA
}

// DefaultBlurOptions returns the stock background look
func DefaultBlurOptions() BlurOptions {
	return BlurOptions{
		Radius:       25,
		Passes:       8,
		MinDimension: 500,
		Overlay:      color.NRGBA{A: 0x66},
	}
}

// Effects is the shared blur resource. One instance is built at start-up
// and handed to every blur task; it holds no per-call state.
type Effects struct {
	opts  BlurOptions
	sigma float64

	applied atomic.Uint64
}

// NewEffects creates the blur resource. Missing options fall back to DefaultBlurOptions.
func NewEffects(opts BlurOptions) *Effects {
	def := DefaultBlurOptions()
	if opts.Radius <= 0 {
		opts.Radius = def.Radius
	}
	if opts.Passes <= 0 {
		opts.Passes = def.Passes
	}
	if opts.MinDimension < 0 {
		opts.MinDimension = def.MinDimension
	}
	return &Effects{
		opts: opts,
		// a gaussian covers a box of radius r at roughly three sigma
		sigma: opts.Radius / 3,
	}
}

// Options returns the options the resource was built with
func (e *Effects) Options() BlurOptions {
	return e.opts
}

// Applied returns how many images have been blurred
func (e *Effects) Applied() uint64 {
	return e.applied.Load()
}

// Blur returns a blurred copy of src with the overlay colour blended on top.
// Images smaller than the minimum dimension are upsampled first.
func (e *Effects) Blur(src image.Image) *image.NRGBA {
	if src == nil {
		return nil
	}

	img := Upsample(src, e.opts.MinDimension)
	out := imaging.Clone(img)
	for i := 0; i < e.opts.Passes; i++ {
		out = imaging.Blur(out, e.sigma)
	}

	if e.opts.Overlay.A > 0 {
		b := out.Bounds()
		layer := imaging.New(b.Dx(), b.Dy(), e.opts.Overlay)
		out = imaging.Overlay(out, layer, image.Pt(0, 0), 1.0)
	}

	e.applied.Add(1)
	return out
}

// Upsample scales img up, keeping its aspect ratio, so its smaller side is at
// least minDim. Images already large enough are returned unchanged.
func Upsample(img image.Image, minDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if minDim <= 0 || w == 0 || h == 0 || (w >= minDim && h >= minDim) {
		return img
	}
	if w < h {
		return imaging.Resize(img, minDim, 0, imaging.Linear)
	}
	return imaging.Resize(img, 0, minDim, imaging.Linear)
}

// Fit scales img down to fit within maxWidth x maxHeight. Zero bounds, or an
// image already inside them, return img unchanged.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	if img == nil || maxWidth <= 0 || maxHeight <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxWidth && b.Dy() <= maxHeight {
		return img
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
}

// ParseHexColor parses #RGB, #RRGGBB or #RRGGBBAA
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}

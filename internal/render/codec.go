// Package render decodes, encodes and transforms artwork images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	// registered decoders for artwork found in tags and on the web
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/h2non/filetype"

	"github.com/eleven/artcache/internal/buffer"
	"github.com/eleven/artcache/pkg/errors"
)

// Format is an encoding used for artwork written to disk
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat maps a configuration value to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unsupported image format: %s", s)
	}
}

// Extension returns the file extension for the format, without a dot
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Sniff checks that data looks like an image and returns its detected extension
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.NewError(errors.ErrCodeNotAnImage, "empty image data")
	}
	if !filetype.IsImage(data) {
		kind, _ := filetype.Match(data)
		return "", errors.NewError(errors.ErrCodeNotAnImage, "data is not an image").
			WithDetail("detected", kind.Extension)
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeNotAnImage, "failed to determine file type")
	}
	return kind.Extension, nil
}

// Decode sniffs and decodes encoded artwork
func Decode(data []byte) (image.Image, error) {
	if _, err := Sniff(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDecodeFailed, "failed to decode image")
	}
	return img, nil
}

// Encoder writes images in a fixed format using pooled buffers
type Encoder struct {
	format  Format
	quality int
	pool    *buffer.Pool
}

// NewEncoder creates an encoder. Quality only applies to JPEG and is clamped to 1..100.
func NewEncoder(format Format, quality int, pool *buffer.Pool) *Encoder {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	if pool == nil {
		pool = buffer.NewPool()
	}
	if format == "" {
		format = FormatPNG
	}
	return &Encoder{format: format, quality: quality, pool: pool}
}

// Format returns the encoder's output format
func (e *Encoder) Format() Format {
	return e.format
}

// Encode returns the encoded bytes of img. The returned slice is owned by the caller.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.NewError(errors.ErrCodeEncodeFailed, "nil image")
	}

	b := img.Bounds()
	buf := e.pool.Get(b.Dx() * b.Dy())
	defer e.pool.Put(buf)

	var err error
	switch e.format {
	case FormatJPEG:
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: e.quality})
	default:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(buf, img)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeEncodeFailed, "failed to encode image").
			WithDetail("format", string(e.format))
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

package render

import (
	"image"

	"golang.org/x/image/draw"
)

// Composite2x2 draws four images into a grid on a canvas the size of the
// first: top-left, top-right, bottom-left, bottom-right. Each source is
// stretched to its quadrant without preserving aspect ratio.
func Composite2x2(tiles [4]image.Image) *image.RGBA {
	for _, t := range tiles {
		if t == nil {
			return nil
		}
	}

	first := tiles[0].Bounds()
	w, h := first.Dx(), first.Dy()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))

	halfW, halfH := w/2, h/2
	quadrants := [4]image.Rectangle{
		image.Rect(0, 0, halfW, halfH),
		image.Rect(halfW, 0, w, halfH),
		image.Rect(0, halfH, halfW, h),
		image.Rect(halfW, halfH, w, h),
	}

	for i, src := range tiles {
		if quadrants[i].Empty() {
			continue
		}
		draw.BiLinear.Scale(canvas, quadrants[i], src, src.Bounds(), draw.Src, nil)
	}
	return canvas
}

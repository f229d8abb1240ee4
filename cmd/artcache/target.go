package main

import (
	"sync/atomic"

	"github.com/eleven/artcache/pkg/types"
)

// slot is a headless display target that only counts what it was given
type slot struct {
	types.TargetState

	label string
	img   atomic.Pointer[types.CachedImage]
}

func newSlot(label string) *slot {
	return &slot{label: label}
}

func (s *slot) SetPlaceholder() {
	s.img.Store(nil)
}

func (s *slot) BindResult(img *types.CachedImage) {
	s.img.Store(img)
}

// image returns the bound image, or nil when the slot still shows its placeholder
func (s *slot) image() *types.CachedImage {
	return s.img.Load()
}

// tally counts slots that ended up with artwork
type tally struct {
	found   int
	missing []string
	bytes   int64
}

func (t *tally) add(slots ...*slot) {
	for _, s := range slots {
		if img := s.image(); img != nil {
			t.found++
			t.bytes += img.ByteCount
		} else {
			t.missing = append(t.missing, s.label)
		}
	}
}

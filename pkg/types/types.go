// Package types holds the images, statistics, cache keys and collaborator
// interfaces shared across artcache.
package types

import (
	"image"
	"time"
)

// ImageType identifies what an artwork request is for.
type ImageType int

const (
	ImageTypeArtist ImageType = iota
	ImageTypeAlbum
	ImageTypePlaylist
)

// String returns the lower-case name used in logs and metric labels
func (t ImageType) String() string {
	switch t {
	case ImageTypeArtist:
		return "artist"
	case ImageTypeAlbum:
		return "album"
	case ImageTypePlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// CachedImage is a decoded image together with its resident memory footprint.
// It is never mutated after construction, so a value handed to a target may be
// retained after the cache that produced it has evicted the entry.
type CachedImage struct {
	Image     image.Image
	ByteCount int64
}

// NewCachedImage wraps img and computes its footprint as four bytes per pixel.
func NewCachedImage(img image.Image) *CachedImage {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	return &CachedImage{
		Image:     img,
		ByteCount: int64(b.Dx()) * int64(b.Dy()) * 4,
	}
}

// Width returns the image width in pixels
func (c *CachedImage) Width() int { return c.Image.Bounds().Dx() }

// Height returns the image height in pixels
func (c *CachedImage) Height() int { return c.Image.Bounds().Dy() }

// Track is a row of the media index as seen by the artwork pipeline.
type Track struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Album   string `json:"album"`
	AlbumID int64  `json:"album_id"`
	Path    string `json:"path,omitempty"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// FetchStats summarises background fetch activity.
type FetchStats struct {
	Scheduled    uint64        `json:"scheduled"`
	Deduplicated uint64        `json:"deduplicated"`
	Superseded   uint64        `json:"superseded"`
	Rejected     uint64        `json:"rejected"`
	Bound        uint64        `json:"bound"`
	Discarded    uint64        `json:"discarded"`
	Unavailable  uint64        `json:"unavailable"`
	LastFetch    time.Time     `json:"last_fetch"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

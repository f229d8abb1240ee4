package types

import (
	"context"
	"sync"
)

// MediaIndex is the queryable source of tracks, playlists and embedded artwork
type MediaIndex interface {
	// TracksForPlaylist returns the playlist rows in playlist order
	TracksForPlaylist(ctx context.Context, playlistID int64) ([]Track, error)
	SongCountForPlaylist(ctx context.Context, playlistID int64) (int, error)
	// EmbeddedArtworkForAlbum returns encoded image bytes, or nil when the album has none
	EmbeddedArtworkForAlbum(ctx context.Context, albumID int64) ([]byte, error)
}

// PlayCountStore orders tracks by how often they were played
type PlayCountStore interface {
	// MostPlayedOrder returns trackIDs sorted by descending play count. Ties keep
	// the order in which the IDs were given.
	MostPlayedOrder(ctx context.Context, trackIDs []int64) ([]int64, error)
}

// RemoteArtResolver finds and downloads artwork from outside the device
type RemoteArtResolver interface {
	// ResolveImageURL returns "" when no artwork is known for the query
	ResolveImageURL(ctx context.Context, artist, album string, imageType ImageType) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// NowPlaying exposes the track the player is currently on
type NowPlaying interface {
	CurrentTrack() (Track, bool)
}

// TaskHandle is the view a target keeps of the fetch bound to it
type TaskHandle interface {
	ID() string
	Key() string
	Cancel()
	IsCancelled() bool
}

// BindTarget is a display element that can show one image at a time.
//
// All methods are called from the dispatcher goroutine only.
type BindTarget interface {
	SetPlaceholder()
	BindResult(img *CachedImage)
	CurrentDesiredKey() string
	SetDesiredKey(key string)
	SetCurrentTask(h TaskHandle)
	CurrentTask() TaskHandle
}

// TargetState implements the bookkeeping half of BindTarget. Embed it and
// provide SetPlaceholder and BindResult.
type TargetState struct {
	mu         sync.Mutex
	desiredKey string
	task       TaskHandle
}

// CurrentDesiredKey returns the key the target wants to display
func (s *TargetState) CurrentDesiredKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desiredKey
}

// SetDesiredKey records the key the target wants to display
func (s *TargetState) SetDesiredKey(key string) {
	s.mu.Lock()
	s.desiredKey = key
	s.mu.Unlock()
}

// SetCurrentTask records the fetch bound to the target; nil detaches it
func (s *TargetState) SetCurrentTask(h TaskHandle) {
	s.mu.Lock()
	s.task = h
	s.mu.Unlock()
}

// CurrentTask returns the fetch bound to the target, if any
func (s *TargetState) CurrentTask() TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

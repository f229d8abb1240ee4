// Package playlist derives artwork for playlists (a top-artist image and a
// cover) and decides when that artwork has gone stale.
package playlist

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/pkg/types"
)

// DefaultStalenessWindow is how long derived artwork stays current
const DefaultStalenessWindow = 24 * time.Hour

// coverTiles is the number of distinct album covers a composite needs
const coverTiles = 4

// ImageSource produces the artist and album images playlist artwork is built from
type ImageSource interface {
	// ArtistImage returns nil when the artist has no image
	ArtistImage(ctx context.Context, artist string) *types.CachedImage
	// AlbumImage returns nil when the album has no cover
	AlbumImage(ctx context.Context, artist, album string, albumID int64) *types.CachedImage
}

// ArtCache is the cache derived playlist images live in
type ArtCache interface {
	Lookup(key string) *types.CachedImage
	Remove(key string)
}

// PolicyConfig wires a Policy to its collaborators
type PolicyConfig struct {
	Media           types.MediaIndex
	Plays           types.PlayCountStore
	Store           MetaStore
	Images          ImageSource
	Cache           ArtCache
	StalenessWindow time.Duration
	// Now replaces time.Now in tests
	Now    func() time.Time
	Logger *slog.Logger
}

// Policy computes playlist artwork and tracks when it was last computed
type Policy struct {
	media  types.MediaIndex
	plays  types.PlayCountStore
	store  MetaStore
	images ImageSource
	cache  ArtCache
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Policy{
		media:  cfg.Media,
		plays:  cfg.Plays,
		store:  cfg.Store,
		images: cfg.Images,
		cache:  cfg.Cache,
		window: cfg.StalenessWindow,
		now:    cfg.Now,
		logger: cfg.Logger.With("component", "playlist"),
	}
}

// NeedsUpdate reports whether kind artwork of the playlist must be recomputed:
// it was never computed, it is older than the staleness window, or the
// playlist's song count changed since. Lookup failures count as stale.
func (p *Policy) NeedsUpdate(ctx context.Context, playlistID int64, kind Kind) bool {
	rec, ok, err := p.store.Get(ctx, playlistID, kind)
	if err != nil {
		p.logger.Warn("Failed to read playlist record", "playlist", playlistID, "kind", kind, "error", err)
		return true
	}
	if !ok {
		return true
	}
	if p.now().Sub(rec.UpdatedAt) >= p.window {
		return true
	}

	count, err := p.media.SongCountForPlaylist(ctx, playlistID)
	if err != nil {
		p.logger.Debug("Failed to count playlist songs", "playlist", playlistID, "error", err)
		return true
	}
	return count != rec.SongCount
}

// mostPlayed returns the playlist tracks ordered by descending play count
func (p *Policy) mostPlayed(ctx context.Context, playlistID int64) ([]types.Track, error) {
	tracks, err := p.media.TracksForPlaylist(ctx, playlistID)
	if err != nil || len(tracks) == 0 || p.plays == nil {
		return tracks, err
	}

	ids := make([]int64, len(tracks))
	byID := make(map[int64]types.Track, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
		byID[t.ID] = t
	}

	order, err := p.plays.MostPlayedOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]types.Track, 0, len(order))
	for _, id := range order {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ComputeCover builds the playlist cover from the album art of its most played
// tracks. Four distinct albums give a 2x2 composite, one to three give the
// first album's art unchanged. An empty result removes any cached cover.
// The record is updated unless ctx ends first.
func (p *Policy) ComputeCover(ctx context.Context, playlistID int64) (*types.CachedImage, error) {
	tracks, err := p.mostPlayed(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var tiles []image.Image
	for _, t := range tracks {
		if len(tiles) == coverTiles {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := types.AlbumKey(t.Album, t.Artist)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if img := p.images.AlbumImage(ctx, t.Artist, t.Album, t.AlbumID); img != nil {
			tiles = append(tiles, img.Image)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *types.CachedImage
	switch {
	case len(tiles) == coverTiles:
		result = types.NewCachedImage(render.Composite2x2([coverTiles]image.Image{tiles[0], tiles[1], tiles[2], tiles[3]}))
	case len(tiles) > 0:
		result = types.NewCachedImage(tiles[0])
	default:
		p.removeCached(types.PlaylistCoverKey(playlistID))
	}

	p.record(ctx, playlistID, KindCover, len(tracks))
	p.logger.Debug("Computed playlist cover", "playlist", playlistID, "tiles", len(tiles))
	return result, nil
}

// ComputeArtistImage picks the image of the first most played artist that has
// one. It falls back to the cached playlist cover, and clears the cached artist
// image when neither exists.
func (p *Policy) ComputeArtistImage(ctx context.Context, playlistID int64) (*types.CachedImage, error) {
	tracks, err := p.mostPlayed(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	var result *types.CachedImage
	tried := make(map[string]bool)
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Artist == "" || tried[t.Artist] {
			continue
		}
		tried[t.Artist] = true

		if img := p.images.ArtistImage(ctx, t.Artist); img != nil {
			result = img
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if result == nil && p.cache != nil {
		result = p.cache.Lookup(types.PlaylistCoverKey(playlistID))
	}
	if result == nil {
		p.removeCached(types.PlaylistArtistKey(playlistID))
	}

	p.record(ctx, playlistID, KindArtist, len(tracks))
	return result, nil
}

// DeletePlaylist drops the playlist's records and cached images
func (p *Policy) DeletePlaylist(ctx context.Context, playlistID int64) error {
	p.removeCached(types.PlaylistCoverKey(playlistID))
	p.removeCached(types.PlaylistArtistKey(playlistID))
	return p.store.Delete(ctx, playlistID)
}

func (p *Policy) removeCached(key string) {
	if p.cache != nil {
		p.cache.Remove(key)
	}
}

// record stores the update using the same song count NeedsUpdate compares against
func (p *Policy) record(ctx context.Context, playlistID int64, kind Kind, songs int) {
	if count, err := p.media.SongCountForPlaylist(ctx, playlistID); err == nil {
		songs = count
	}
	rec := Record{UpdatedAt: p.now(), SongCount: songs}
	if err := p.store.Set(ctx, playlistID, kind, rec); err != nil {
		p.logger.Warn("Failed to record playlist artwork update",
			"playlist", playlistID,
			"kind", kind,
			"error", err)
	}
}

package fetcher

import (
	"context"

	"github.com/eleven/artcache/internal/metrics"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/internal/task"
	"github.com/eleven/artcache/pkg/types"
)

// source is what a lookup needs to find one image
type source struct {
	key       string
	artist    string
	album     string
	albumID   int64
	imageType types.ImageType
}

func sourceOf(req task.Request) source {
	return source{
		key:       req.Key,
		artist:    req.Artist,
		album:     req.Album,
		albumID:   req.AlbumID,
		imageType: req.Type,
	}
}

// lookup walks memory, disk, embedded artwork and finally the remote
// providers. check is consulted between steps; once it fails nothing more is
// fetched or cached. A nil image with a nil error means there is no artwork.
func (f *Fetcher) lookup(ctx context.Context, src source, check func() error) (*types.CachedImage, error) {
	if src.key == "" {
		return nil, nil
	}

	if img := f.memory.Get(src.key); img != nil {
		return img, nil
	}

	if f.disk != nil {
		if img := f.disk.Get(src.key); img != nil {
			f.metrics.RecordCacheHit(metrics.LevelDisk)
			if check() == nil {
				f.memory.Put(src.key, img)
			}
			return img, nil
		}
		f.metrics.RecordCacheMiss(metrics.LevelDisk)
	}
	if err := check(); err != nil {
		return nil, err
	}

	if src.imageType == types.ImageTypeAlbum && src.albumID >= 0 {
		if img := f.embedded(ctx, src.albumID); img != nil {
			f.store(src.key, img, check)
			return img, nil
		}
		if err := check(); err != nil {
			return nil, err
		}
	}

	return f.remote(ctx, src, check)
}

func (f *Fetcher) embedded(ctx context.Context, albumID int64) *types.CachedImage {
	if f.disk != nil {
		return f.disk.ArtworkFromFile(ctx, albumID)
	}
	if f.media == nil {
		return nil
	}

	data, err := f.media.EmbeddedArtworkForAlbum(ctx, albumID)
	if err != nil || len(data) == 0 {
		return nil
	}
	img, err := render.Decode(data)
	if err != nil {
		f.logger.Debug("Embedded artwork undecodable", "album_id", albumID, "error", err)
		return nil
	}
	return types.NewCachedImage(img)
}

func (f *Fetcher) remote(ctx context.Context, src source, check func() error) (*types.CachedImage, error) {
	if src.imageType == types.ImageTypePlaylist || !f.reachable() {
		return nil, nil
	}
	if f.negative.Contains(src.key) {
		f.metrics.RecordCacheHit(metrics.LevelNegative)
		return nil, nil
	}

	url, err := f.resolver.ResolveImageURL(ctx, src.artist, src.album, src.imageType)
	if err != nil {
		return nil, err
	}
	if url == "" {
		f.negative.Add(src.key)
		f.stats.unavailable.Add(1)
		return nil, nil
	}
	if err := check(); err != nil {
		return nil, err
	}

	data, err := f.resolver.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}

	decoded, err := render.Decode(data)
	if err != nil {
		return nil, err
	}
	img := types.NewCachedImage(decoded)
	f.store(src.key, img, check)
	f.logger.Debug("Fetched remote artwork", "key", src.key, "url", url, "bytes", len(data))
	return img, nil
}

// store writes img through to memory and disk while check still passes
func (f *Fetcher) store(key string, img *types.CachedImage, check func() error) {
	if img == nil || check() != nil {
		return
	}
	f.memory.Put(key, img)
	if f.disk != nil {
		f.disk.Put(key, img)
	}
}

// imageSource serves the playlist policy from the same lookup chain as targets
type imageSource struct{ f *Fetcher }

func (s imageSource) ArtistImage(ctx context.Context, artist string) *types.CachedImage {
	img, err := s.f.lookup(ctx, source{
		key:       types.ArtistKey(artist),
		artist:    artist,
		albumID:   -1,
		imageType: types.ImageTypeArtist,
	}, ctx.Err)
	if err != nil {
		s.f.logger.Debug("Artist image lookup failed", "artist", artist, "error", err)
	}
	return img
}

func (s imageSource) AlbumImage(ctx context.Context, artist, album string, albumID int64) *types.CachedImage {
	img, err := s.f.lookup(ctx, source{
		key:       types.AlbumKey(album, artist),
		artist:    artist,
		album:     album,
		albumID:   albumID,
		imageType: types.ImageTypeAlbum,
	}, ctx.Err)
	if err != nil {
		s.f.logger.Debug("Album image lookup failed", "album", album, "artist", artist, "error", err)
	}
	return img
}

// cacheView exposes memory and disk as one cache
type cacheView struct{ f *Fetcher }

func (c cacheView) Lookup(key string) *types.CachedImage {
	if img := c.f.memory.Get(key); img != nil {
		return img
	}
	if c.f.disk != nil {
		return c.f.disk.Get(key)
	}
	return nil
}

func (c cacheView) Remove(key string) {
	c.f.RemoveFromCache(key)
}

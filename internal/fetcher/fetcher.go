// Package fetcher coordinates artwork requests from display targets: it
// answers from memory when it can, and otherwise schedules at most one
// background fetch per target, binding the result only if the target still
// wants it.
package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven/artcache/internal/cache"
	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/internal/dispatch"
	"github.com/eleven/artcache/internal/metrics"
	"github.com/eleven/artcache/internal/playlist"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/internal/task"
	"github.com/eleven/artcache/internal/worker"
	"github.com/eleven/artcache/pkg/errors"
	"github.com/eleven/artcache/pkg/types"
)

// Task kinds, used in logs and metrics
const (
	KindArtist        = "artist"
	KindAlbum         = "album"
	KindSimple        = "simple"
	KindBlur          = "blur"
	KindPlaylistCover = "playlist_cover"
	KindPlaylistArt   = "playlist_artist"
)

// Config wires a Fetcher to its collaborators. Memory and Pool are required.
type Config struct {
	Memory   *cache.MemoryCache
	Disk     *cache.DiskStore
	Negative *cache.NegativeCache

	Pool       *worker.Pool
	Dispatcher dispatch.Dispatcher

	Resolver types.RemoteArtResolver
	Gate     *circuit.Gate
	Effects  *render.Effects

	Media      types.MediaIndex
	Plays      types.PlayCountStore
	NowPlaying types.NowPlaying

	PlaylistStore   playlist.MetaStore
	StalenessWindow time.Duration
	// Now replaces time.Now for playlist staleness in tests
	Now func() time.Time

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Fetcher is the entry point display code uses to request artwork.
//
// Load methods and the completion callbacks they schedule run on the
// dispatcher context. Background resolution runs on the worker pool.
type Fetcher struct {
	memory   *cache.MemoryCache
	disk     *cache.DiskStore
	negative *cache.NegativeCache

	pool       *worker.Pool
	dispatcher dispatch.Dispatcher

	resolver types.RemoteArtResolver
	gate     *circuit.Gate
	effects  *render.Effects

	media      types.MediaIndex
	nowPlaying types.NowPlaying
	playlists  *playlist.Policy

	metrics *metrics.Collector
	logger  *slog.Logger

	stats fetchCounters
}

type fetchCounters struct {
	scheduled    atomic.Uint64
	deduplicated atomic.Uint64
	superseded   atomic.Uint64
	rejected     atomic.Uint64
	bound        atomic.Uint64
	discarded    atomic.Uint64
	unavailable  atomic.Uint64
	completed    atomic.Uint64
	latencyNanos atomic.Int64

	mu        sync.Mutex
	lastFetch time.Time
}

// New creates a Fetcher
func New(cfg Config) (*Fetcher, error) {
	if cfg.Memory == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "memory cache is required").
			WithComponent("fetcher")
	}
	if cfg.Pool == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "worker pool is required").
			WithComponent("fetcher")
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.Inline{}
	}
	if cfg.Effects == nil {
		cfg.Effects = render.NewEffects(render.DefaultBlurOptions())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &Fetcher{
		memory:     cfg.Memory,
		disk:       cfg.Disk,
		negative:   cfg.Negative,
		pool:       cfg.Pool,
		dispatcher: cfg.Dispatcher,
		resolver:   cfg.Resolver,
		gate:       cfg.Gate,
		effects:    cfg.Effects,
		media:      cfg.Media,
		nowPlaying: cfg.NowPlaying,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "fetcher"),
	}

	if cfg.Media != nil {
		f.playlists = playlist.NewPolicy(playlist.PolicyConfig{
			Media:           cfg.Media,
			Plays:           cfg.Plays,
			Store:           cfg.PlaylistStore,
			Images:          imageSource{f},
			Cache:           cacheView{f},
			StalenessWindow: cfg.StalenessWindow,
			Now:             cfg.Now,
			Logger:          cfg.Logger,
		})
	}

	f.memory.OnEvict(func(string, *types.CachedImage) {
		f.metrics.RecordEviction(metrics.LevelMemory)
	})
	f.metrics.AddSampler(func(c *metrics.Collector) {
		c.UpdateCacheSize(metrics.LevelMemory, f.memory.Size())
		if f.disk != nil {
			c.UpdateCacheSize(metrics.LevelDisk, f.disk.Size())
		}
	})
	return f, nil
}

// LoadArtistImage shows the artist's image on target
func (f *Fetcher) LoadArtistImage(artist string, target types.BindTarget) {
	req := task.Request{
		Key:    types.ArtistKey(artist),
		Artist: artist,
		Type:   types.ImageTypeArtist,
	}
	f.loadImage(req, target, f.artworkTask(KindArtist, target))
}

// LoadAlbumImage shows an album cover on target. albumID < 0 skips the
// embedded artwork lookup.
func (f *Fetcher) LoadAlbumImage(artist, album string, albumID int64, target types.BindTarget) {
	req := task.Request{
		Key:     types.AlbumKey(album, artist),
		Artist:  artist,
		Album:   album,
		AlbumID: albumID,
		Type:    types.ImageTypeAlbum,
	}
	f.loadImage(req, target, f.artworkTask(KindAlbum, target))
}

// LoadAlbumThumbnail shows an album cover scaled down to fit maxWidth x maxHeight.
// The caches keep the full size image.
func (f *Fetcher) LoadAlbumThumbnail(artist, album string, albumID int64, maxWidth, maxHeight int, target types.BindTarget) {
	req := task.Request{
		Key:       types.AlbumKey(album, artist),
		Artist:    artist,
		Album:     album,
		AlbumID:   albumID,
		Type:      types.ImageTypeAlbum,
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
	}
	f.loadImage(req, target, f.simpleTask(target))
}

// LoadCurrentArtwork shows the cover of the now-playing track
func (f *Fetcher) LoadCurrentArtwork(target types.BindTarget) {
	t, ok := f.currentTrack()
	if !ok {
		f.reset(target)
		return
	}
	f.LoadAlbumImage(t.Artist, t.Album, t.AlbumID, target)
}

// LoadCurrentBlurredArtwork shows a blurred copy of the now-playing cover. When
// the blur cannot be scheduled the target is reset to its placeholder.
func (f *Fetcher) LoadCurrentBlurredArtwork(target types.BindTarget) {
	t, ok := f.currentTrack()
	if !ok {
		f.reset(target)
		return
	}

	source := types.AlbumKey(t.Album, t.Artist)
	req := task.Request{
		Key:     types.BlurKey(source),
		Artist:  t.Artist,
		Album:   t.Album,
		AlbumID: t.AlbumID,
		Type:    types.ImageTypeAlbum,
	}
	f.loadImage(req, target, f.blurTask(source, target))
}

// LoadPlaylistArtistImage shows the image of the playlist's most played artist
func (f *Fetcher) LoadPlaylistArtistImage(playlistID int64, target types.BindTarget) {
	f.loadPlaylist(playlistID, playlist.KindArtist, target)
}

// LoadPlaylistCoverArt shows the playlist's cover
func (f *Fetcher) LoadPlaylistCoverArt(playlistID int64, target types.BindTarget) {
	f.loadPlaylist(playlistID, playlist.KindCover, target)
}

// loadPlaylist shows whatever playlist artwork memory holds and schedules a
// task that decides off the dispatcher whether it is still current
func (f *Fetcher) loadPlaylist(playlistID int64, kind playlist.Kind, target types.BindTarget) {
	if target == nil {
		return
	}
	req := task.Request{PlaylistID: playlistID, Type: types.ImageTypePlaylist}
	taskKind := KindPlaylistArt
	if kind == playlist.KindCover {
		req.Key = types.PlaylistCoverKey(playlistID)
		taskKind = KindPlaylistCover
	} else {
		req.Key = types.PlaylistArtistKey(playlistID)
	}

	if f.playlists == nil {
		f.loadImage(req, target, f.artworkTask(taskKind, target))
		return
	}

	// a stale image stays on screen until the recomputed one replaces it
	shown := f.memory.Get(req.Key)
	if shown != nil {
		f.metrics.RecordCacheHit(metrics.LevelMemory)
		target.BindResult(shown)
	} else {
		f.metrics.RecordCacheMiss(metrics.LevelMemory)
		target.SetPlaceholder()
	}
	f.executePotentialWork(req, target, f.playlistTask(taskKind, kind, shown, target))
}

// DeletePlaylist forgets a playlist's derived artwork and its bookkeeping
func (f *Fetcher) DeletePlaylist(ctx context.Context, playlistID int64) error {
	if f.playlists == nil {
		f.RemoveFromCache(types.PlaylistCoverKey(playlistID))
		f.RemoveFromCache(types.PlaylistArtistKey(playlistID))
		return nil
	}
	return f.playlists.DeletePlaylist(ctx, playlistID)
}

// loadImage binds a memory hit immediately and schedules a fetch otherwise
func (f *Fetcher) loadImage(req task.Request, target types.BindTarget, opts task.Options) {
	if target == nil {
		return
	}
	if req.Key == "" {
		f.reset(target)
		return
	}

	if img := f.memory.Get(req.Key); img != nil {
		f.metrics.RecordCacheHit(metrics.LevelMemory)
		f.cancel(target)
		target.SetDesiredKey(req.Key)
		target.BindResult(fitted(img, req))
		return
	}
	f.metrics.RecordCacheMiss(metrics.LevelMemory)

	target.SetPlaceholder()
	f.executePotentialWork(req, target, opts)
}

// executePotentialWork starts a fetch for req unless target already has one
// in flight for the same key. It reports whether a task was submitted.
func (f *Fetcher) executePotentialWork(req task.Request, target types.BindTarget, opts task.Options) bool {
	current := target.CurrentTask()
	if current != nil && current.Key() == req.Key && !current.IsCancelled() {
		f.stats.deduplicated.Add(1)
		return false
	}
	if current != nil {
		f.logger.Debug("Fetch superseded", "task", current.ID(), "key", current.Key(), "by", req.Key)
		f.cancel(target)
		f.stats.superseded.Add(1)
		f.metrics.RecordTask(opts.Kind, "superseded", 0)
	}
	target.SetDesiredKey(req.Key)

	if f.disk != nil && f.disk.Paused() {
		f.logger.Debug("Disk cache paused, not fetching", "key", req.Key)
		return false
	}

	t := task.New(req, opts)
	target.SetCurrentTask(t)

	if err := f.pool.Submit(t.Run); err != nil {
		t.Cancel()
		target.SetCurrentTask(nil)
		f.stats.rejected.Add(1)
		f.metrics.RecordTask(opts.Kind, "rejected", 0)
		f.logger.Debug("Fetch rejected", "task", t.ID(), "key", req.Key, "kind", opts.Kind, "error", err)

		if opts.Kind == KindBlur {
			target.SetDesiredKey("")
			target.SetPlaceholder()
		}
		return false
	}

	f.stats.scheduled.Add(1)
	f.metrics.TaskStarted(t.ID(), opts.Kind, req.Key)
	return true
}

// complete runs on the dispatcher once a task that was not cancelled
// finishes. shown is the image the target was already displaying when the
// task was scheduled; getting it back binds nothing.
func (f *Fetcher) complete(target types.BindTarget, t *task.Task, img, shown *types.CachedImage) {
	if current, ok := target.CurrentTask().(*task.Task); ok && current == t {
		target.SetCurrentTask(nil)
	}
	f.metrics.TaskEnded(t.ID())

	f.stats.completed.Add(1)
	f.stats.latencyNanos.Add(int64(t.Elapsed()))
	f.stats.mu.Lock()
	f.stats.lastFetch = time.Now()
	f.stats.mu.Unlock()

	if err := t.Err(); err != nil {
		f.logger.Debug("Fetch failed", "task", t.ID(), "key", t.Key(), "kind", t.Kind(), "error", err)
		f.metrics.RecordError(t.Kind(), err)
	}

	outcome := "bound"
	switch {
	case t.IsCancelled() || target.CurrentDesiredKey() != t.Key():
		outcome = "discarded"
		f.stats.discarded.Add(1)
	case img == nil:
		outcome = "empty"
		// blurred and playlist targets may still show an image that no longer exists
		if t.Kind() == KindBlur || isPlaylistKind(t.Kind()) {
			target.SetPlaceholder()
		}
	case img == shown:
		outcome = "unchanged"
	default:
		f.stats.bound.Add(1)
		target.BindResult(img)
	}
	f.metrics.RecordTask(t.Kind(), outcome, t.Elapsed())
}

func isPlaylistKind(kind string) bool {
	return kind == KindPlaylistCover || kind == KindPlaylistArt
}

// cancel stops and detaches the target's task, if it has one
func (f *Fetcher) cancel(target types.BindTarget) {
	h := target.CurrentTask()
	if h == nil {
		return
	}
	h.Cancel()
	target.SetCurrentTask(nil)
	f.metrics.TaskEnded(h.ID())
}

func (f *Fetcher) reset(target types.BindTarget) {
	if target == nil {
		return
	}
	f.cancel(target)
	target.SetDesiredKey("")
	target.SetPlaceholder()
}

func (f *Fetcher) currentTrack() (types.Track, bool) {
	if f.nowPlaying == nil {
		return types.Track{}, false
	}
	return f.nowPlaying.CurrentTrack()
}

func (f *Fetcher) reachable() bool {
	return f.resolver != nil && (f.gate == nil || f.gate.Reachable())
}

// SetPauseDiskCache suspends or resumes disk cache access and new fetches
func (f *Fetcher) SetPauseDiskCache(paused bool) {
	if f.disk != nil {
		f.disk.SetPaused(paused)
	}
}

// ClearCaches empties the memory, disk and negative caches
func (f *Fetcher) ClearCaches() {
	f.memory.Clear()
	if f.disk != nil {
		f.disk.Clear()
	}
	f.negative.Purge()
	f.logger.Info("Artwork caches cleared")
}

// RemoveFromCache forgets key at every cache level
func (f *Fetcher) RemoveFromCache(key string) {
	f.memory.Remove(key)
	if f.disk != nil {
		f.disk.Remove(key)
	}
	f.negative.Remove(key)
}

// Cached reports whether key is held in memory or on disk
func (f *Fetcher) Cached(key string) bool {
	if f.memory.Contains(key) {
		return true
	}
	return f.disk != nil && f.disk.Contains(key)
}

// Flush writes pending disk index changes
func (f *Fetcher) Flush() error {
	if f.disk == nil {
		return nil
	}
	return f.disk.Flush()
}

// Close flushes and closes the disk cache. The pool and dispatcher belong to the caller.
func (f *Fetcher) Close() error {
	if f.disk == nil {
		return nil
	}
	return f.disk.Close()
}

// Stats returns fetch activity counters
func (f *Fetcher) Stats() types.FetchStats {
	s := types.FetchStats{
		Scheduled:    f.stats.scheduled.Load(),
		Deduplicated: f.stats.deduplicated.Load(),
		Superseded:   f.stats.superseded.Load(),
		Rejected:     f.stats.rejected.Load(),
		Bound:        f.stats.bound.Load(),
		Discarded:    f.stats.discarded.Load(),
		Unavailable:  f.stats.unavailable.Load(),
	}
	if n := f.stats.completed.Load(); n > 0 {
		s.AvgLatency = time.Duration(f.stats.latencyNanos.Load() / int64(n))
	}
	f.stats.mu.Lock()
	s.LastFetch = f.stats.lastFetch
	f.stats.mu.Unlock()
	return s
}

// MemoryStats returns memory cache statistics
func (f *Fetcher) MemoryStats() types.CacheStats {
	return f.memory.Stats()
}

// DiskStats returns disk cache statistics; zero when there is no disk cache
func (f *Fetcher) DiskStats() types.CacheStats {
	if f.disk == nil {
		return types.CacheStats{}
	}
	return f.disk.Stats()
}

// NegativeEntries returns how many keys are remembered as having no artwork
func (f *Fetcher) NegativeEntries() int {
	return f.negative.Len()
}

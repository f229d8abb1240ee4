package fetcher

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven/artcache/internal/cache"
	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/internal/dispatch"
	"github.com/eleven/artcache/internal/media"
	"github.com/eleven/artcache/internal/metrics"
	"github.com/eleven/artcache/internal/playlist"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/internal/task"
	"github.com/eleven/artcache/internal/worker"
	"github.com/eleven/artcache/pkg/types"
)

type testTarget struct {
	types.TargetState

	mu           sync.Mutex
	placeholders int
	bound        []*types.CachedImage
}

func (t *testTarget) SetPlaceholder() {
	t.mu.Lock()
	t.placeholders++
	t.mu.Unlock()
}

func (t *testTarget) BindResult(img *types.CachedImage) {
	t.mu.Lock()
	t.bound = append(t.bound, img)
	t.mu.Unlock()
}

func (t *testTarget) binds() []*types.CachedImage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*types.CachedImage(nil), t.bound...)
}

func (t *testTarget) placeholderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.placeholders
}

// fakeResolver serves one colour per album, or per artist for artist images.
// Names missing from colors have no artwork.
type fakeResolver struct {
	mu        sync.Mutex
	colors    map[string]color.Color
	resolves  int
	downloads int

	started chan string
	release chan struct{}
}

func newFakeResolver(colors map[string]color.Color) *fakeResolver {
	return &fakeResolver{colors: colors, started: make(chan string, 16)}
}

func (r *fakeResolver) ResolveImageURL(ctx context.Context, artist, album string, _ types.ImageType) (string, error) {
	r.mu.Lock()
	r.resolves++
	release := r.release
	name := album
	if name == "" {
		name = artist
	}
	_, ok := r.colors[name]
	r.mu.Unlock()

	r.started <- name
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", nil
	}
	return "https://art.example/" + name, nil
}

func (r *fakeResolver) Download(_ context.Context, url string) ([]byte, error) {
	r.mu.Lock()
	r.downloads++
	c := r.colors[url[len("https://art.example/"):]]
	r.mu.Unlock()
	return encodePNG(solidImage(c, 8, 8)), nil
}

func (r *fakeResolver) resolveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

func solidImage(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type harness struct {
	fetcher  *Fetcher
	memory   *cache.MemoryCache
	negative *cache.NegativeCache
	pool     *worker.Pool
	disp     *dispatch.Manual
	resolver *fakeResolver
	library  *media.Library
	plays    *media.PlayCounts
	player   *media.Player
}

type harnessOption func(*Config)

func withDisk(t *testing.T) harnessOption {
	return func(cfg *Config) {
		disk, err := cache.NewDiskStore(cache.DiskStoreConfig{
			Directory: t.TempDir(),
			Media:     cfg.Media,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = disk.Close() })
		cfg.Disk = disk
	}
}

func withPlaylistStore(store playlist.MetaStore) harnessOption {
	return func(cfg *Config) {
		cfg.PlaylistStore = store
	}
}

func withMetrics(t *testing.T) harnessOption {
	return func(cfg *Config) {
		c, err := metrics.NewCollector(&metrics.Config{Enabled: true, Path: "/metrics", Namespace: "artcache"}, nil)
		require.NoError(t, err)
		cfg.Metrics = c
	}
}

func newHarness(t *testing.T, start bool, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		memory:   cache.NewMemoryCache(4 << 20),
		negative: cache.NewNegativeCache(16, 0),
		pool:     worker.NewPool(worker.Config{Workers: 1, QueueSize: 8}, nil),
		disp:     &dispatch.Manual{},
		resolver: newFakeResolver(map[string]color.Color{
			"Blue Train":   color.RGBA{B: 255, A: 255},
			"Kind of Blue": color.RGBA{R: 255, A: 255},
		}),
		library: media.NewLibrary(nil),
		plays:   media.NewPlayCounts(),
		player:  &media.Player{},
	}
	if start {
		require.NoError(t, h.pool.Start())
	}
	t.Cleanup(func() { _ = h.pool.Stop(context.Background()) })

	cfg := Config{
		Memory:     h.memory,
		Negative:   h.negative,
		Pool:       h.pool,
		Dispatcher: h.disp,
		Resolver:   h.resolver,
		Effects:    render.NewEffects(render.BlurOptions{Radius: 2, Passes: 1}),
		Media:      h.library,
		Plays:      h.plays,
		NowPlaying: h.player,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := New(cfg)
	require.NoError(t, err)
	h.fetcher = f
	return h
}

// settle waits for the target's task to finish and runs its completion
func (h *harness) settle(t *testing.T, target *testTarget) {
	t.Helper()
	handle := target.CurrentTask()
	require.NotNil(t, handle, "no task bound to target")
	h.wait(t, handle.(*task.Task))
}

func (h *harness) wait(t *testing.T, tk *task.Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not finish", tk.Key())
	}
	if tk.State() == task.StateCompleted {
		require.Eventually(t, func() bool { return h.disp.Pending() > 0 }, 5*time.Second, time.Millisecond)
	}
	h.disp.Drain()
}

func TestNew_RequiresMemoryAndPool(t *testing.T) {
	_, err := New(Config{Pool: worker.NewPool(worker.Config{}, nil)})
	assert.Error(t, err)

	_, err = New(Config{Memory: cache.NewMemoryCache(1 << 20)})
	assert.Error(t, err)
}

func TestLoadAlbumImage_FetchesAndBinds(t *testing.T) {
	h := newHarness(t, true)
	target := &testTarget{}
	key := types.AlbumKey("Blue Train", "John Coltrane")

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)

	assert.Equal(t, 1, target.placeholderCount())
	assert.Equal(t, key, target.CurrentDesiredKey())
	h.settle(t, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Equal(t, 8, binds[0].Width())
	assert.Nil(t, target.CurrentTask())
	assert.True(t, h.memory.Contains(key))

	stats := h.fetcher.Stats()
	assert.Equal(t, uint64(1), stats.Scheduled)
	assert.Equal(t, uint64(1), stats.Bound)
	assert.False(t, stats.LastFetch.IsZero())
}

func TestLoadAlbumImage_MemoryHitBindsImmediately(t *testing.T) {
	// the pool is never started, so any scheduling attempt would be rejected
	h := newHarness(t, false)
	key := types.AlbumKey("Blue Train", "John Coltrane")
	cached := types.NewCachedImage(solidImage(color.White, 4, 4))
	h.memory.Put(key, cached)

	target := &testTarget{}
	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Same(t, cached, binds[0])
	assert.Equal(t, key, target.CurrentDesiredKey())
	assert.Equal(t, 0, target.placeholderCount())
	assert.Equal(t, uint64(0), h.fetcher.Stats().Scheduled)
	assert.Equal(t, uint64(0), h.fetcher.Stats().Rejected)
}

func TestLoadImage_EmptyKeyResetsTarget(t *testing.T) {
	h := newHarness(t, true)
	target := &testTarget{}
	target.SetDesiredKey("stale")

	h.fetcher.LoadAlbumImage("", "Blue Train", -1, target)

	assert.Equal(t, "", target.CurrentDesiredKey())
	assert.Equal(t, 1, target.placeholderCount())
	assert.Nil(t, target.CurrentTask())
	assert.Equal(t, 0, h.resolver.resolveCount())
}

func TestLoadImage_SameKeyIsDeduplicated(t *testing.T) {
	h := newHarness(t, true)
	h.resolver.release = make(chan struct{})
	target := &testTarget{}

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	first := target.CurrentTask()
	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)

	assert.Same(t, first, target.CurrentTask())
	close(h.resolver.release)
	h.settle(t, target)

	assert.Len(t, target.binds(), 1)
	assert.Equal(t, 1, h.resolver.resolveCount())
	stats := h.fetcher.Stats()
	assert.Equal(t, uint64(1), stats.Scheduled)
	assert.Equal(t, uint64(1), stats.Deduplicated)
}

func TestLoadImage_SupersededFetchNeverBinds(t *testing.T) {
	h := newHarness(t, true)
	h.resolver.release = make(chan struct{})
	target := &testTarget{}

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	stale := target.CurrentTask().(*task.Task)
	assert.Equal(t, "Blue Train", <-h.resolver.started)

	h.fetcher.LoadAlbumImage("Miles Davis", "Kind of Blue", -1, target)
	assert.True(t, stale.IsCancelled())
	assert.Equal(t, types.AlbumKey("Kind of Blue", "Miles Davis"), target.CurrentDesiredKey())

	h.wait(t, stale)
	assert.Equal(t, task.StateCancelled, stale.State())

	close(h.resolver.release)
	h.settle(t, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	r, _, _, _ := binds[0].Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r, "expected the red Kind of Blue cover")
	assert.False(t, h.memory.Contains(types.AlbumKey("Blue Train", "John Coltrane")))
	assert.Equal(t, uint64(1), h.fetcher.Stats().Superseded)
}

func TestLoadImage_TracksInFlightTasks(t *testing.T) {
	h := newHarness(t, true, withMetrics(t))
	collector := h.fetcher.metrics
	h.resolver.release = make(chan struct{})
	target := &testTarget{}

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	first := target.CurrentTask()
	require.NotNil(t, first)
	require.NotEmpty(t, first.ID())
	inFlight := collector.InFlight()
	require.Len(t, inFlight, 1)
	assert.Equal(t, first.ID(), inFlight[0].ID)
	assert.Equal(t, types.AlbumKey("Blue Train", "John Coltrane"), inFlight[0].Key)
	assert.Equal(t, KindAlbum, inFlight[0].Kind)

	h.fetcher.LoadAlbumImage("Miles Davis", "Kind of Blue", -1, target)
	second := target.CurrentTask()
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID(), second.ID())
	inFlight = collector.InFlight()
	require.Len(t, inFlight, 1)
	assert.Equal(t, second.ID(), inFlight[0].ID)

	h.wait(t, first.(*task.Task))
	close(h.resolver.release)
	h.settle(t, target)
	assert.Empty(t, collector.InFlight())
}

func TestComplete_DiscardsWhenTargetMovedOn(t *testing.T) {
	h := newHarness(t, true)
	target := &testTarget{}

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	tk := target.CurrentTask().(*task.Task)
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	require.Eventually(t, func() bool { return h.disp.Pending() > 0 }, 5*time.Second, time.Millisecond)

	// the target was reused for another row before the result arrived
	target.SetDesiredKey("elsewhere")
	h.disp.Drain()

	assert.Empty(t, target.binds())
	assert.Equal(t, uint64(1), h.fetcher.Stats().Discarded)
	// the fetched image is still cached for the next request
	assert.True(t, h.memory.Contains(types.AlbumKey("Blue Train", "John Coltrane")))
}

func TestLoadImage_PausedDiskSchedulesNothing(t *testing.T) {
	h := newHarness(t, true, withDisk(t))
	target := &testTarget{}
	key := types.AlbumKey("Blue Train", "John Coltrane")

	h.fetcher.SetPauseDiskCache(true)
	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)

	assert.Nil(t, target.CurrentTask())
	assert.Equal(t, key, target.CurrentDesiredKey())
	assert.Equal(t, 1, target.placeholderCount())
	assert.Equal(t, 0, h.resolver.resolveCount())

	h.fetcher.SetPauseDiskCache(false)
	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	h.settle(t, target)

	assert.Len(t, target.binds(), 1)
	assert.Equal(t, uint64(1), h.fetcher.Stats().Scheduled)
}

func TestLoadImage_DiskHitPromotesToMemory(t *testing.T) {
	h := newHarness(t, true, withDisk(t))
	key := types.AlbumKey("Blue Train", "John Coltrane")
	h.fetcher.disk.Put(key, types.NewCachedImage(solidImage(color.White, 4, 4)))

	target := &testTarget{}
	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	h.settle(t, target)

	require.Len(t, target.binds(), 1)
	assert.True(t, h.memory.Contains(key))
	assert.Equal(t, 0, h.resolver.resolveCount())
}

func TestLoadImage_NegativeCacheSkipsRepeatLookups(t *testing.T) {
	h := newHarness(t, true)
	key := types.AlbumKey("Unreleased", "Nobody")

	first := &testTarget{}
	h.fetcher.LoadAlbumImage("Nobody", "Unreleased", -1, first)
	h.settle(t, first)

	assert.Empty(t, first.binds())
	assert.Equal(t, 1, first.placeholderCount())
	assert.True(t, h.negative.Contains(key))

	second := &testTarget{}
	h.fetcher.LoadAlbumImage("Nobody", "Unreleased", -1, second)
	h.settle(t, second)

	assert.Empty(t, second.binds())
	assert.Equal(t, 1, h.resolver.resolveCount())
	assert.Equal(t, uint64(1), h.fetcher.Stats().Unavailable)
	assert.Equal(t, 1, h.fetcher.NegativeEntries())
}

func TestLoadImage_OfflineSkipsRemote(t *testing.T) {
	h := newHarness(t, true, func(cfg *Config) {
		cfg.Gate = circuit.NewGate(circuit.Config{}, true)
	})
	target := &testTarget{}

	h.fetcher.LoadAlbumImage("John Coltrane", "Blue Train", -1, target)
	h.settle(t, target)

	assert.Empty(t, target.binds())
	assert.Equal(t, 0, h.resolver.resolveCount())
	assert.Equal(t, 0, h.fetcher.NegativeEntries(), "offline misses are not remembered")
}

func TestLoadAlbumImage_EmbeddedArtwork(t *testing.T) {
	h := newHarness(t, true)
	track := h.library.AddTrack(types.Track{Title: "So What", Artist: "Miles Davis", Album: "Local Only"})
	h.library.SetAlbumArtwork(track.AlbumID, encodePNG(solidImage(color.Black, 6, 6)))

	target := &testTarget{}
	h.fetcher.LoadAlbumImage(track.Artist, track.Album, track.AlbumID, target)
	h.settle(t, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Equal(t, 6, binds[0].Width())
	assert.Equal(t, 0, h.resolver.resolveCount())
}

func TestLoadAlbumThumbnail_ScalesResult(t *testing.T) {
	h := newHarness(t, true)
	key := types.AlbumKey("Blue Train", "John Coltrane")
	h.memory.Put(key, types.NewCachedImage(solidImage(color.White, 40, 20)))

	target := &testTarget{}
	h.fetcher.LoadAlbumThumbnail("John Coltrane", "Blue Train", -1, 10, 10, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Equal(t, 10, binds[0].Width())
	assert.Equal(t, 5, binds[0].Height())
	// the cache keeps the full size image
	assert.Equal(t, 40, h.memory.Get(key).Width())
}

func TestLoadArtistImage(t *testing.T) {
	h := newHarness(t, true)
	h.resolver.colors["Coltrane"] = color.RGBA{G: 255, A: 255}
	target := &testTarget{}

	h.fetcher.LoadArtistImage("Coltrane", target)
	h.settle(t, target)

	require.Len(t, target.binds(), 1)
	assert.True(t, h.memory.Contains(types.ArtistKey("Coltrane")))
}

func TestLoadCurrentBlurredArtwork(t *testing.T) {
	t.Run("nothing playing", func(t *testing.T) {
		h := newHarness(t, true)
		target := &testTarget{}

		h.fetcher.LoadCurrentBlurredArtwork(target)

		assert.Equal(t, 1, target.placeholderCount())
		assert.Nil(t, target.CurrentTask())
	})

	t.Run("blurs and caches in memory", func(t *testing.T) {
		h := newHarness(t, true)
		source := types.AlbumKey("Blue Train", "John Coltrane")
		h.memory.Put(source, types.NewCachedImage(solidImage(color.White, 8, 8)))
		h.player.SetCurrent(types.Track{ID: 1, Artist: "John Coltrane", Album: "Blue Train", AlbumID: -1})

		target := &testTarget{}
		h.fetcher.LoadCurrentBlurredArtwork(target)
		assert.Equal(t, types.BlurKey(source), target.CurrentDesiredKey())
		h.settle(t, target)

		require.Len(t, target.binds(), 1)
		assert.True(t, h.memory.Contains(types.BlurKey(source)))
		assert.Equal(t, 0, h.resolver.resolveCount())
	})

	t.Run("rejected blur falls back to placeholder", func(t *testing.T) {
		h := newHarness(t, false)
		h.player.SetCurrent(types.Track{ID: 1, Artist: "John Coltrane", Album: "Blue Train", AlbumID: -1})

		target := &testTarget{}
		h.fetcher.LoadCurrentBlurredArtwork(target)

		assert.Equal(t, "", target.CurrentDesiredKey())
		assert.Nil(t, target.CurrentTask())
		assert.Equal(t, 2, target.placeholderCount())
		assert.Equal(t, uint64(1), h.fetcher.Stats().Rejected)
	})
}

func TestLoadCurrentArtwork(t *testing.T) {
	h := newHarness(t, true)
	target := &testTarget{}

	h.fetcher.LoadCurrentArtwork(target)
	assert.Equal(t, "", target.CurrentDesiredKey())

	h.player.SetCurrent(types.Track{ID: 7, Artist: "Miles Davis", Album: "Kind of Blue", AlbumID: -1})
	h.fetcher.LoadCurrentArtwork(target)
	h.settle(t, target)

	require.Len(t, target.binds(), 1)
	assert.Equal(t, types.AlbumKey("Kind of Blue", "Miles Davis"), target.CurrentDesiredKey())
}

func TestLoadPlaylistCoverArt(t *testing.T) {
	h := newHarness(t, true)
	colors := []color.Color{
		color.RGBA{R: 255, G: 255, A: 255},
		color.RGBA{R: 255, A: 255},
		color.RGBA{B: 255, A: 255},
		color.RGBA{G: 255, A: 255},
	}
	var ids []int64
	for i, c := range colors {
		tr := h.library.AddTrack(types.Track{
			Title:  "Track",
			Artist: "Various",
			Album:  string(rune('A' + i)),
		})
		h.library.SetAlbumArtwork(tr.AlbumID, encodePNG(solidImage(c, 16, 16)))
		h.plays.Set(tr.ID, 10-i)
		ids = append(ids, tr.ID)
	}
	playlistID := h.library.AddPlaylist("Favourites", ids)
	key := types.PlaylistCoverKey(playlistID)

	target := &testTarget{}
	h.fetcher.LoadPlaylistCoverArt(playlistID, target)
	h.settle(t, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Equal(t, 16, binds[0].Width())
	r, g, b, _ := binds[0].Image.At(2, 2).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0}, [3]uint32{r, g, b}, "most played album is top-left")
	assert.True(t, h.memory.Contains(key))

	// still fresh: shown from memory at once, and the check binds nothing new
	again := &testTarget{}
	h.fetcher.LoadPlaylistCoverArt(playlistID, again)
	require.Len(t, again.binds(), 1)
	assert.Same(t, binds[0], again.binds()[0])
	h.settle(t, again)
	assert.Len(t, again.binds(), 1)
	assert.Zero(t, again.placeholderCount())
	assert.Equal(t, uint64(2), h.fetcher.Stats().Scheduled)
	assert.Equal(t, uint64(1), h.fetcher.Stats().Bound)

	require.NoError(t, h.fetcher.DeletePlaylist(context.Background(), playlistID))
	assert.False(t, h.memory.Contains(key))
}

func TestLoadPlaylistArtistImage_StaleKeepsCachedImage(t *testing.T) {
	h := newHarness(t, true)
	h.resolver.colors["Coltrane"] = color.RGBA{G: 255, A: 255}
	tr := h.library.AddTrack(types.Track{Title: "Moment's Notice", Artist: "Coltrane", Album: "Unreleased"})
	playlistID := h.library.AddPlaylist("Sax", []int64{tr.ID})

	key := types.PlaylistArtistKey(playlistID)
	old := types.NewCachedImage(solidImage(color.White, 4, 4))
	h.memory.Put(key, old)

	// never computed, so the cached image is shown while it is refreshed
	target := &testTarget{}
	h.fetcher.LoadPlaylistArtistImage(playlistID, target)

	binds := target.binds()
	require.Len(t, binds, 1)
	assert.Same(t, old, binds[0])
	require.NotNil(t, target.CurrentTask())

	h.settle(t, target)
	binds = target.binds()
	require.Len(t, binds, 2)
	assert.NotSame(t, old, binds[1])
	assert.NotSame(t, old, h.memory.Get(key))
}

func TestLoadPlaylistCoverArt_EmptyRecomputeRestoresPlaceholder(t *testing.T) {
	h := newHarness(t, true)
	tr := h.library.AddTrack(types.Track{Title: "Untitled", Artist: "Nobody", Album: "Demos"})
	playlistID := h.library.AddPlaylist("Sketches", []int64{tr.ID})

	key := types.PlaylistCoverKey(playlistID)
	old := types.NewCachedImage(solidImage(color.White, 4, 4))
	h.memory.Put(key, old)

	target := &testTarget{}
	h.fetcher.LoadPlaylistCoverArt(playlistID, target)
	require.Len(t, target.binds(), 1)
	assert.Zero(t, target.placeholderCount())

	h.settle(t, target)
	assert.Len(t, target.binds(), 1, "nothing new to bind")
	assert.Equal(t, 1, target.placeholderCount(), "removed cover must not stay on screen")
	assert.False(t, h.memory.Contains(key))
	assert.False(t, h.fetcher.playlists.NeedsUpdate(context.Background(), playlistID, playlist.KindCover))
}

func TestLoadPlaylistArtistImage_NothingResolvesRestoresPlaceholder(t *testing.T) {
	h := newHarness(t, true)
	tr := h.library.AddTrack(types.Track{Title: "Untitled", Artist: "Nobody", Album: "Demos"})
	playlistID := h.library.AddPlaylist("Sketches", []int64{tr.ID})

	key := types.PlaylistArtistKey(playlistID)
	h.memory.Put(key, types.NewCachedImage(solidImage(color.White, 4, 4)))

	target := &testTarget{}
	h.fetcher.LoadPlaylistArtistImage(playlistID, target)
	h.settle(t, target)

	assert.Len(t, target.binds(), 1)
	assert.Equal(t, 1, target.placeholderCount())
	assert.False(t, h.memory.Contains(key))
	assert.False(t, h.fetcher.playlists.NeedsUpdate(context.Background(), playlistID, playlist.KindArtist))
}

// gatedStore holds every Get until release is closed
type gatedStore struct {
	*playlist.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, playlistID int64, kind playlist.Kind) (playlist.Record, bool, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.MemoryStore.Get(ctx, playlistID, kind)
}

func TestLoadPlaylistCoverArt_StalenessCheckedInBackground(t *testing.T) {
	store := &gatedStore{
		MemoryStore: playlist.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	h := newHarness(t, true, withPlaylistStore(store))
	tr := h.library.AddTrack(types.Track{Title: "Track", Artist: "Various", Album: "A"})
	h.library.SetAlbumArtwork(tr.AlbumID, encodePNG(solidImage(color.Black, 8, 8)))
	playlistID := h.library.AddPlaylist("Mix", []int64{tr.ID})

	target := &testTarget{}
	h.fetcher.LoadPlaylistCoverArt(playlistID, target)

	// the load returned while the record lookup is still blocked
	assert.Equal(t, 1, target.placeholderCount())
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("staleness was never checked")
	}
	close(store.release)

	h.settle(t, target)
	assert.Len(t, target.binds(), 1)
}

func TestLoadPlaylistCoverArt_PausedDiskChecksNothing(t *testing.T) {
	store := &gatedStore{
		MemoryStore: playlist.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	h := newHarness(t, true, withDisk(t), withPlaylistStore(store))
	playlistID := h.library.AddPlaylist("Mix", nil)

	h.fetcher.SetPauseDiskCache(true)
	target := &testTarget{}
	h.fetcher.LoadPlaylistCoverArt(playlistID, target)

	assert.Nil(t, target.CurrentTask())
	assert.Equal(t, types.PlaylistCoverKey(playlistID), target.CurrentDesiredKey())
	assert.Len(t, store.entered, 0)
	close(store.release)
}

func TestCacheMaintenance(t *testing.T) {
	h := newHarness(t, true, withDisk(t))
	key := types.AlbumKey("Blue Train", "John Coltrane")
	img := types.NewCachedImage(solidImage(color.White, 4, 4))

	h.memory.Put(key, img)
	h.fetcher.disk.Put(key, img)
	h.negative.Add("missing")

	h.fetcher.RemoveFromCache(key)
	assert.False(t, h.memory.Contains(key))
	assert.False(t, h.fetcher.disk.Contains(key))

	h.memory.Put(key, img)
	h.fetcher.ClearCaches()
	assert.Equal(t, 0, h.memory.Len())
	assert.Equal(t, 0, h.fetcher.NegativeEntries())
	assert.Equal(t, 0, h.fetcher.DiskStats().Entries)

	assert.NoError(t, h.fetcher.Flush())
	assert.NoError(t, h.fetcher.Close())
}

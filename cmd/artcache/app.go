package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/eleven/artcache/internal/buffer"
	"github.com/eleven/artcache/internal/cache"
	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/internal/config"
	"github.com/eleven/artcache/internal/dispatch"
	"github.com/eleven/artcache/internal/fetcher"
	"github.com/eleven/artcache/internal/media"
	"github.com/eleven/artcache/internal/metrics"
	"github.com/eleven/artcache/internal/playlist"
	"github.com/eleven/artcache/internal/remote"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/internal/worker"
	"github.com/eleven/artcache/pkg/retry"
)

// app is the wired artwork pipeline shared by the subcommands
type app struct {
	cfg    *config.Configuration
	logger *slog.Logger

	library *media.Library
	plays   *media.PlayCounts
	store   playlist.MetaStore

	pool    *worker.Pool
	loop    *dispatch.Loop
	gate    *circuit.Gate
	metrics *metrics.Collector
	fetcher *fetcher.Fetcher
}

func newApp(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		library: media.NewLibrary(logger),
		plays:   media.NewPlayCounts(),
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: cfg.Metrics.Namespace,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.metrics = collector

	if cfg.Library.Root != "" {
		res, err := a.library.Scan(ctx, cfg.Library.Root, cfg.Library.PlaylistsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		logger.Info("Library scanned",
			"tracks", res.Tracks,
			"albums", res.Albums,
			"artists", res.Artists,
			"playlists", res.Playlists,
			"skipped", res.Skipped,
			"duration", res.Duration)
	}

	memBytes, err := cfg.MemoryCacheBytes()
	if err != nil {
		return nil, err
	}
	memory := cache.NewMemoryCache(memBytes)

	bufPool := buffer.NewPool()
	disk, err := newDiskStore(cfg, a.library, bufPool, logger)
	if err != nil {
		return nil, err
	}

	var negative *cache.NegativeCache
	if cfg.Fetcher.NegativeCache.Enabled {
		negative = cache.NewNegativeCache(cfg.Fetcher.NegativeCache.MaxEntries, cfg.Fetcher.NegativeCache.TTL)
	}

	a.gate = newGate(cfg, collector, logger)
	resolver, err := newResolver(ctx, cfg, a.gate, bufPool, collector, logger)
	if err != nil {
		return nil, err
	}

	a.store, err = newPlaylistStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	overlay, err := render.ParseHexColor(cfg.Blur.OverlayColor)
	if err != nil {
		return nil, err
	}
	effects := render.NewEffects(render.BlurOptions{
		Radius:       cfg.Blur.Radius,
		Passes:       cfg.Blur.Passes,
		MinDimension: cfg.Blur.MinDimension,
		Overlay:      overlay,
	})

	a.pool = worker.NewPool(worker.Config{
		Workers:   cfg.Fetcher.Workers,
		QueueSize: cfg.Fetcher.QueueSize,
	}, logger)
	if err := a.pool.Start(); err != nil {
		return nil, err
	}
	a.loop = dispatch.NewLoop(0, logger)

	a.fetcher, err = fetcher.New(fetcher.Config{
		Memory:          memory,
		Disk:            disk,
		Negative:        negative,
		Pool:            a.pool,
		Dispatcher:      a.loop,
		Resolver:        resolver,
		Gate:            a.gate,
		Effects:         effects,
		Media:           a.library,
		Plays:           a.plays,
		PlaylistStore:   a.store,
		StalenessWindow: cfg.Playlist.StalenessWindow,
		Metrics:         collector,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if err := collector.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func newDiskStore(cfg *config.Configuration, library *media.Library, pool *buffer.Pool, logger *slog.Logger) (*cache.DiskStore, error) {
	if !cfg.DiskCache.Enabled {
		return nil, nil
	}
	size, err := cfg.DiskCacheBytes()
	if err != nil {
		return nil, err
	}
	format, err := render.ParseFormat(cfg.DiskCache.Format)
	if err != nil {
		return nil, err
	}
	return cache.NewDiskStore(cache.DiskStoreConfig{
		Directory:    cfg.DiskCache.Directory,
		MaxSize:      size,
		IndexFile:    cfg.DiskCache.IndexFile,
		SyncInterval: cfg.DiskCache.SyncInterval,
		Encoder:      render.NewEncoder(format, cfg.DiskCache.JPEGQuality, pool),
		Media:        library,
		Logger:       logger,
	})
}

func newGate(cfg *config.Configuration, collector *metrics.Collector, logger *slog.Logger) *circuit.Gate {
	threshold := uint32(math.MaxUint32)
	if cfg.Remote.CircuitBreaker.Enabled {
		threshold = uint32(cfg.Remote.CircuitBreaker.FailureThreshold)
	}
	return circuit.NewGate(circuit.Config{
		FailureThreshold: threshold,
		Timeout:          cfg.Remote.CircuitBreaker.Timeout,
		OnStateChange: func(name string, from, to circuit.State) {
			collector.SetBreakerState(name, int(to))
			logger.Info("Provider circuit changed", "provider", name, "from", from, "to", to)
		},
	}, cfg.Fetcher.OfflineMode)
}

func newResolver(ctx context.Context, cfg *config.Configuration, gate *circuit.Gate, pool *buffer.Pool, collector *metrics.Collector, logger *slog.Logger) (*remote.Resolver, error) {
	maxBytes, err := cfg.MaxImageBytes()
	if err != nil {
		return nil, err
	}

	var s3Source *remote.S3Source
	if cfg.Remote.S3.Enabled {
		s3Source, err = remote.NewS3Source(ctx, remote.S3Options{
			Region:         cfg.Remote.S3.Region,
			Endpoint:       cfg.Remote.S3.Endpoint,
			AccessKeyID:    cfg.Remote.S3.AccessKeyID,
			SecretKey:      cfg.Remote.S3.SecretKey,
			ForcePathStyle: cfg.Remote.S3.ForcePathStyle,
		}, pool, logger)
		if err != nil {
			return nil, err
		}
	}

	return remote.NewResolver(remote.Config{
		Providers:    cfg.Remote.Providers,
		Timeout:      cfg.Remote.Timeout,
		UserAgent:    cfg.Remote.UserAgent,
		MaxImageSize: maxBytes,
		Gate:         gate,
		S3:           s3Source,
		Pool:         pool,
		Observer:     collector,
		Logger:       logger,
		Retry:        newRetryer(cfg, logger),
	})
}

func newRetryer(cfg *config.Configuration, logger *slog.Logger) *retry.Retryer {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Remote.Retry.MaxAttempts
	rc.InitialDelay = cfg.Remote.Retry.InitialDelay
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("Retrying artwork download", "attempt", attempt, "delay", delay, "error", err)
	}
	return retry.New(rc)
}

func newPlaylistStore(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (playlist.MetaStore, error) {
	switch cfg.Playlist.Store {
	case "memory":
		return playlist.NewMemoryStore(), nil
	case "redis":
		store, err := playlist.NewRedisStore(ctx, playlist.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := playlist.NewFileStore(cfg.Playlist.StoreFile, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// run calls fn on the dispatcher, where targets may be touched
func (a *app) run(fn func()) {
	a.loop.Do(fn)
}

// waitIdle blocks until the pool has at most queued jobs waiting and, when
// queued is zero, none running
func (a *app) waitIdle(ctx context.Context, queued int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := a.pool.Stats()
		if s.Queued <= queued && (queued > 0 || s.Active == 0) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// settle waits for background fetches to finish and their results to be bound
func (a *app) settle(ctx context.Context) error {
	if err := a.waitIdle(ctx, 0); err != nil {
		return err
	}
	a.run(func() {})
	return nil
}

func (a *app) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.pool.Stop(ctx))
	a.loop.Close()
	keep(a.fetcher.Close())
	keep(a.store.Close())
	keep(a.metrics.Stop(ctx))
	return firstErr
}

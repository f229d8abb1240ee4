package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven/artcache/internal/config"
	"github.com/eleven/artcache/internal/playlist"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ARTCACHE_DISK_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("ARTCACHE_PLAYLIST_STORE", "memory")
	t.Setenv("ARTCACHE_LOG_LEVEL", "ERROR")
	t.Setenv("ARTCACHE_LIBRARY_ROOT", "")
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestStatsCommand_JSON(t *testing.T) {
	isolate(t)

	out := execute(t, "stats", "--json", "--offline")

	var report statsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Offline)
	assert.Equal(t, 0, report.Library.Tracks)
	assert.Equal(t, []string{"deezer", "itunes", "musicbrainz", "lastfm"}, report.Providers)
	assert.Positive(t, report.Memory.Capacity)
}

func TestClearCommand(t *testing.T) {
	isolate(t)

	out := execute(t, "clear", "--key", "Blue Train_John Coltrane_album")
	assert.Contains(t, out, "Removed 1 keys")
}

func TestNewPlaylistStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.NewDefault()
		cfg.Playlist.Store = "memory"
		store, err := newPlaylistStore(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &playlist.MemoryStore{}, store)
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.NewDefault()
		cfg.Playlist.StoreFile = filepath.Join(t.TempDir(), "playlists.json")
		store, err := newPlaylistStore(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &playlist.FileStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.NewDefault()
		cfg.Playlist.Store = "redis"
		cfg.Redis.Address = mr.Addr()
		store, err := newPlaylistStore(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &playlist.RedisStore{}, store)
		assert.NoError(t, store.Close())
	})
}

func TestNewGate(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Fetcher.OfflineMode = true
	gate := newGate(cfg, nil, nil)
	assert.False(t, gate.Reachable())
}

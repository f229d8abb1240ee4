package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/pkg/errors"
	"github.com/eleven/artcache/pkg/types"
)

// DefaultDiskCacheSize is the on-disk capacity used when none is configured
const DefaultDiskCacheSize = 64 * 1024 * 1024

// DiskStoreConfig represents disk store configuration
type DiskStoreConfig struct {
	Directory    string        `yaml:"directory"`
	MaxSize      int64         `yaml:"max_size"`
	IndexFile    string        `yaml:"index_file"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	Encoder *render.Encoder  `yaml:"-"`
	Media   types.MediaIndex `yaml:"-"`
	Logger  *slog.Logger     `yaml:"-"`
}

// DiskStore persists encoded artwork under the same keys as the memory cache.
// Every failure is logged and reported as a miss.
type DiskStore struct {
	mu          sync.Mutex
	directory   string
	indexPath   string
	maxSize     int64
	currentSize int64
	index       map[string]*diskItem
	dirty       bool
	stats       types.CacheStats

	encoder *render.Encoder
	media   types.MediaIndex
	logger  *slog.Logger

	paused atomic.Bool

	syncInterval time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
	closed       bool
}

// diskItem is one index record
type diskItem struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	StoredAt   time.Time `json:"stored_at"`
	AccessTime time.Time `json:"access_time"`
}

// NewDiskStore opens or creates a disk store in cfg.Directory
func NewDiskStore(cfg DiskStoreConfig) (*DiskStore, error) {
	if cfg.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "disk store directory is required").
			WithComponent("disk")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDiskCacheSize
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.json"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}
	if cfg.Encoder == nil {
		cfg.Encoder = render.NewEncoder(render.FormatPNG, 0, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create cache directory").
			WithComponent("disk").
			WithContext("directory", cfg.Directory)
	}

	indexPath := filepath.Join(cfg.Directory, cfg.IndexFile)
	if !withinDir(cfg.Directory, indexPath) {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "index file escapes cache directory").
			WithComponent("disk").
			WithContext("index_file", cfg.IndexFile)
	}

	s := &DiskStore{
		directory:    cfg.Directory,
		indexPath:    indexPath,
		maxSize:      cfg.MaxSize,
		index:        make(map[string]*diskItem),
		encoder:      cfg.Encoder,
		media:        cfg.Media,
		logger:       cfg.Logger.With("component", "disk_cache"),
		syncInterval: cfg.SyncInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		stats: types.CacheStats{
			Capacity: cfg.MaxSize,
		},
	}

	if err := s.loadIndex(); err != nil {
		// a damaged index only costs us the previous contents
		s.logger.Warn("Discarding unreadable cache index", "path", indexPath, "error", err)
		s.index = make(map[string]*diskItem)
		s.currentSize = 0
	}
	s.evictIfNeeded()

	go s.syncLoop()

	return s, nil
}

// SetPaused suspends or resumes disk access. While paused Get reports a miss
// and Put does nothing, without touching the filesystem.
func (s *DiskStore) SetPaused(paused bool) {
	s.paused.Store(paused)
	s.logger.Debug("Disk cache pause changed", "paused", paused)
}

// Paused reports whether disk access is suspended
func (s *DiskStore) Paused() bool {
	return s.paused.Load()
}

// Get reads and decodes the artwork stored under key
func (s *DiskStore) Get(key string) *types.CachedImage {
	if key == "" || s.paused.Load() {
		return nil
	}

	s.mu.Lock()
	item, exists := s.index[key]
	if !exists || s.closed {
		s.stats.Misses++
		s.updateHitRate()
		s.mu.Unlock()
		return nil
	}
	path := filepath.Join(s.directory, item.File)
	checksum := item.Checksum
	s.mu.Unlock()

	img, err := s.readImage(path, checksum)
	if err != nil {
		s.logger.Debug("Disk cache read failed", "key", key, "error", err)
		s.mu.Lock()
		if current, ok := s.index[key]; ok && current == item {
			s.dropItem(key)
		}
		s.stats.Misses++
		s.updateHitRate()
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	item.AccessTime = time.Now()
	s.dirty = true
	s.stats.Hits++
	s.updateHitRate()
	s.mu.Unlock()

	return types.NewCachedImage(img)
}

// Contains reports whether key has an index entry
func (s *DiskStore) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Put encodes img and writes it under key
func (s *DiskStore) Put(key string, img *types.CachedImage) {
	if key == "" || img == nil || img.Image == nil || s.paused.Load() {
		return
	}

	data, err := s.encoder.Encode(img.Image)
	if err != nil {
		s.logger.Debug("Disk cache encode failed", "key", key, "error", err)
		return
	}
	size := int64(len(data))
	if size > s.maxSize {
		s.logger.Debug("Artwork larger than disk cache, not stored", "key", key, "size", size)
		return
	}

	file := fileNameFor(key, s.encoder.Format())
	if err := s.writeFile(file, data); err != nil {
		s.logger.Debug("Disk cache write failed", "key", key, "error", err)
		return
	}

	now := time.Now()
	item := &diskItem{
		Key:        key,
		File:       file,
		Size:       size,
		Checksum:   checksumOf(data),
		StoredAt:   now,
		AccessTime: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = os.Remove(filepath.Join(s.directory, file))
		return
	}
	if existing, ok := s.index[key]; ok {
		s.currentSize -= existing.Size
		if existing.File != file {
			_ = os.Remove(filepath.Join(s.directory, existing.File))
		}
	}
	s.index[key] = item
	s.currentSize += size
	s.dirty = true

	s.evictIfNeeded()
}

// Remove deletes the artwork stored under key
func (s *DiskStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		s.dropItem(key)
	}
}

// Clear deletes every stored artwork
func (s *DiskStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.index {
		s.dropItem(key)
	}
	s.index = make(map[string]*diskItem)
	s.currentSize = 0
	if err := s.saveIndex(); err != nil {
		s.logger.Debug("Failed to save cache index", "error", err)
	}
}

// ArtworkFromFile decodes the artwork embedded in an album's audio files.
// It does not consult or populate the key store.
func (s *DiskStore) ArtworkFromFile(ctx context.Context, albumID int64) *types.CachedImage {
	if s.media == nil || albumID < 0 {
		return nil
	}

	data, err := s.media.EmbeddedArtworkForAlbum(ctx, albumID)
	if err != nil {
		s.logger.Debug("Embedded artwork lookup failed", "album_id", albumID, "error", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	img, err := render.Decode(data)
	if err != nil {
		s.logger.Debug("Embedded artwork undecodable", "album_id", albumID, "error", err)
		return nil
	}
	return types.NewCachedImage(img)
}

// Flush writes the index to disk if it changed
func (s *DiskStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.saveIndex(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageIndex, "failed to save cache index").
			WithComponent("disk").
			WithOperation("flush")
	}
	s.dirty = false
	return nil
}

// Close stops the background sync and flushes the index
func (s *DiskStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveIndex(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageIndex, "failed to save cache index").
			WithComponent("disk").
			WithOperation("close")
	}
	s.dirty = false
	return nil
}

// Size returns the stored byte size
func (s *DiskStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// Stats returns cache statistics
func (s *DiskStore) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Size = s.currentSize
	stats.Entries = len(s.index)
	stats.Utilization = float64(s.currentSize) / float64(s.maxSize)
	return stats
}

// Helper methods

func fileNameFor(key string, format render.Format) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:]) + "." + format.Extension()
}

func checksumOf(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func withinDir(dir, path string) bool {
	cleanDir := filepath.Clean(dir) + string(filepath.Separator)
	return strings.HasPrefix(filepath.Clean(path), cleanDir)
}

func (s *DiskStore) readImage(path, checksum string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read cached artwork")
	}
	if checksumOf(data) != checksum {
		return nil, errors.NewError(errors.ErrCodeChecksum, "checksum mismatch for cached artwork")
	}
	return render.Decode(data)
}

func (s *DiskStore) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.directory, "art-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write artwork")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to close artwork file")
	}
	if err := os.Rename(tmpPath, filepath.Join(s.directory, name)); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to move artwork into place")
	}
	return nil
}

// dropItem removes key's file and index entry. Caller holds s.mu.
func (s *DiskStore) dropItem(key string) {
	item, ok := s.index[key]
	if !ok {
		return
	}
	if err := os.Remove(filepath.Join(s.directory, item.File)); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("Failed to remove cached artwork", "key", key, "error", err)
	}
	delete(s.index, key)
	s.currentSize -= item.Size
	s.dirty = true
}

func (s *DiskStore) evictIfNeeded() {
	for s.currentSize > s.maxSize {
		if !s.evictOldest() {
			break
		}
	}
}

func (s *DiskStore) evictOldest() bool {
	if len(s.index) == 0 {
		return false
	}

	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, item := range s.index {
		if first || item.AccessTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.AccessTime
			first = false
		}
	}

	s.dropItem(oldestKey)
	s.stats.Evictions++
	return true
}

func (s *DiskStore) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

func (s *DiskStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var items map[string]*diskItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}

	s.currentSize = 0
	for key, item := range items {
		if item == nil || item.Key != key {
			continue
		}
		path := filepath.Join(s.directory, item.File)
		if !withinDir(s.directory, path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		item.Size = info.Size()
		s.index[key] = item
		s.currentSize += item.Size
	}
	return nil
}

// saveIndex writes the index atomically. Caller holds s.mu.
func (s *DiskStore) saveIndex() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return err
	}

	tmpPath := s.indexPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.indexPath)
}

func (s *DiskStore) syncLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Debug("Periodic index sync failed", "error", err)
			}
		}
	}
}

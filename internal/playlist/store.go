package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind selects which derived image of a playlist a record describes
type Kind int

const (
	KindArtist Kind = iota
	KindCover
)

func (k Kind) String() string {
	switch k {
	case KindArtist:
		return "artist"
	case KindCover:
		return "cover"
	default:
		return "unknown"
	}
}

// ParseKind converts a name produced by String back to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "artist":
		return KindArtist, nil
	case "cover":
		return KindCover, nil
	default:
		return 0, fmt.Errorf("unknown playlist artwork kind %q", s)
	}
}

// Record is the bookkeeping kept for one derived playlist image
type Record struct {
	UpdatedAt time.Time `json:"updated_at"`
	SongCount int       `json:"song_count"`
}

// MetaStore persists playlist records
type MetaStore interface {
	Get(ctx context.Context, playlistID int64, kind Kind) (Record, bool, error)
	Set(ctx context.Context, playlistID int64, kind Kind, rec Record) error
	// Delete removes the records of every kind for the playlist
	Delete(ctx context.Context, playlistID int64) error
	Close() error
}

type recordKey struct {
	playlistID int64
	kind       Kind
}

// MemoryStore keeps records in a map
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

var _ MetaStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Get(_ context.Context, playlistID int64, kind Kind) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{playlistID, kind}]
	return rec, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, playlistID int64, kind Kind, rec Record) error {
	s.mu.Lock()
	s.records[recordKey{playlistID, kind}] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, playlistID int64) error {
	s.mu.Lock()
	delete(s.records, recordKey{playlistID, KindArtist})
	delete(s.records, recordKey{playlistID, KindCover})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// FileStore keeps records in a JSON file, rewritten atomically on every change
type FileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	logger  *slog.Logger
}

var _ MetaStore = (*FileStore)(nil)

// NewFileStore opens or creates the store at path. A corrupt file is replaced.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create playlist store directory: %w", err)
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]Record),
		logger:  logger.With("component", "playlist-store"),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read playlist store: %w", err)
	default:
		if err := json.Unmarshal(data, &s.records); err != nil {
			s.logger.Warn("Discarding unreadable playlist store", "path", path, "error", err)
			s.records = make(map[string]Record)
		}
	}
	return s, nil
}

func fileKey(playlistID int64, kind Kind) string {
	return strconv.FormatInt(playlistID, 10) + "/" + kind.String()
}

func (s *FileStore) Get(_ context.Context, playlistID int64, kind Kind) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fileKey(playlistID, kind)]
	return rec, ok, nil
}

func (s *FileStore) Set(_ context.Context, playlistID int64, kind Kind, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[fileKey(playlistID, kind)] = rec
	return s.save()
}

func (s *FileStore) Delete(_ context.Context, playlistID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fileKey(playlistID, KindArtist))
	delete(s.records, fileKey(playlistID, KindCover))
	return s.save()
}

func (s *FileStore) Close() error { return nil }

// save must be called with s.mu held
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal playlist store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write playlist store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace playlist store: %w", err)
	}
	return nil
}

// Package media indexes a local music library: tracks, albums, playlists and
// the artwork embedded in audio files.
package media

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dhowden/tag"

	"github.com/eleven/artcache/pkg/types"
)

const (
	unknownArtist = "Unknown Artist"
	unknownAlbum  = "Unknown Album"
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".m4b":  true,
	".mp4":  true,
	".flac": true,
	".ogg":  true,
	".dsf":  true,
}

// folderArtNames are image files used when an album has no embedded picture
var folderArtNames = []string{"cover.jpg", "cover.png", "folder.jpg", "folder.png", "front.jpg", "front.png"}

// Album groups the tracks sharing an album artist and album name
type Album struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	TrackIDs []int64 `json:"track_ids"`

	// artPath is the first track carrying an embedded picture
	artPath string
	dir     string
}

// Playlist is an ordered list of track IDs
type Playlist struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Path     string  `json:"path,omitempty"`
	TrackIDs []int64 `json:"track_ids"`
}

// ScanResult summarises a library scan
type ScanResult struct {
	Tracks    int           `json:"tracks"`
	Albums    int           `json:"albums"`
	Artists   int           `json:"artists"`
	Playlists int           `json:"playlists"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Library is an in-memory media index
type Library struct {
	mu        sync.RWMutex
	tracks    map[int64]*types.Track
	order     []int64
	byPath    map[string]int64
	albums    map[int64]*Album
	artists   map[string]bool
	playlists map[int64]*Playlist
	artwork   map[int64][]byte
	logger    *slog.Logger
}

var _ types.MediaIndex = (*Library)(nil)

// NewLibrary creates an empty library
func NewLibrary(logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		tracks:    make(map[int64]*types.Track),
		byPath:    make(map[string]int64),
		albums:    make(map[int64]*Album),
		artists:   make(map[string]bool),
		playlists: make(map[int64]*Playlist),
		artwork:   make(map[int64][]byte),
		logger:    logger.With("component", "media"),
	}
}

// stableID derives a positive ID from s so that rescans keep IDs
func stableID(s string) int64 {
	return int64(xxhash.Sum64String(s) &^ (1 << 63))
}

// AlbumID returns the ID an album by artist would be given
func AlbumID(album, artist string) int64 {
	return stableID("album\x00" + strings.ToLower(artist) + "\x00" + strings.ToLower(album))
}

// Scan walks root for audio files and .m3u playlists. Playlists found under
// playlistsDir are added too when it is set. Unreadable files are skipped.
func (l *Library) Scan(ctx context.Context, root, playlistsDir string) (ScanResult, error) {
	start := time.Now()
	var result ScanResult
	var playlistFiles []string

	walk := func(dir string, wantTracks bool) error {
		return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				l.logger.Debug("Skipping unreadable path", "path", path, "error", err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			switch {
			case ext == ".m3u" || ext == ".m3u8":
				playlistFiles = append(playlistFiles, path)
			case wantTracks && audioExtensions[ext]:
				if err := l.scanTrack(path); err != nil {
					result.Skipped++
					l.logger.Debug("Skipping track", "path", path, "error", err)
				}
			}
			return nil
		})
	}

	if err := walk(root, true); err != nil {
		return result, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if playlistsDir != "" && !within(root, playlistsDir) {
		if err := walk(playlistsDir, false); err != nil {
			return result, fmt.Errorf("failed to scan %s: %w", playlistsDir, err)
		}
	}

	for _, path := range playlistFiles {
		if _, err := l.loadPlaylist(path); err != nil {
			l.logger.Warn("Failed to read playlist", "path", path, "error", err)
		}
	}

	l.mu.RLock()
	result.Tracks = len(l.tracks)
	result.Albums = len(l.albums)
	result.Artists = len(l.artists)
	result.Playlists = len(l.playlists)
	l.mu.RUnlock()
	result.Duration = time.Since(start)

	l.logger.Info("Library scan complete",
		"tracks", result.Tracks,
		"albums", result.Albums,
		"artists", result.Artists,
		"playlists", result.Playlists,
		"duration", result.Duration)
	return result, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func (l *Library) scanTrack(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return err
	}

	t := types.Track{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Path:   path,
	}
	albumArtist := m.AlbumArtist()
	hasArt := m.Picture() != nil

	l.addTrack(t, albumArtist, hasArt)
	return nil
}

// AddTrack registers a track that did not come from a scan and returns it
// with its IDs filled in
func (l *Library) AddTrack(t types.Track) types.Track {
	return l.addTrack(t, "", false)
}

func (l *Library) addTrack(t types.Track, albumArtist string, hasArt bool) types.Track {
	if t.Title == "" && t.Path != "" {
		t.Title = strings.TrimSuffix(filepath.Base(t.Path), filepath.Ext(t.Path))
	}
	if t.Artist == "" {
		t.Artist = unknownArtist
	}
	if t.Album == "" {
		t.Album = unknownAlbum
	}
	if albumArtist == "" {
		albumArtist = t.Artist
	}

	if t.ID == 0 {
		if t.Path != "" {
			t.ID = stableID("track\x00" + t.Path)
		} else {
			t.ID = stableID("track\x00" + t.Artist + "\x00" + t.Album + "\x00" + t.Title)
		}
	}
	t.AlbumID = AlbumID(t.Album, albumArtist)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.tracks[t.ID]; !exists {
		l.order = append(l.order, t.ID)
	}
	track := t
	l.tracks[t.ID] = &track
	if t.Path != "" {
		l.byPath[filepath.Clean(t.Path)] = t.ID
	}

	album, ok := l.albums[t.AlbumID]
	if !ok {
		album = &Album{ID: t.AlbumID, Name: t.Album, Artist: albumArtist}
		if t.Path != "" {
			album.dir = filepath.Dir(t.Path)
		}
		l.albums[t.AlbumID] = album
	}
	if !containsID(album.TrackIDs, t.ID) {
		album.TrackIDs = append(album.TrackIDs, t.ID)
	}
	if hasArt && album.artPath == "" {
		album.artPath = t.Path
	}

	l.artists[t.Artist] = true
	return t
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// SetAlbumArtwork attaches encoded artwork to an album, taking precedence over
// embedded pictures
func (l *Library) SetAlbumArtwork(albumID int64, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if data == nil {
		delete(l.artwork, albumID)
		return
	}
	l.artwork[albumID] = data
}

// AddPlaylist registers a playlist of known track IDs and returns its ID
func (l *Library) AddPlaylist(name string, trackIDs []int64) int64 {
	id := stableID("playlist\x00" + name)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.playlists[id] = &Playlist{
		ID:       id,
		Name:     name,
		TrackIDs: append([]int64(nil), trackIDs...),
	}
	return id
}

// loadPlaylist reads an extended or plain m3u file. Entries that are not in the
// library are dropped.
func (l *Library) loadPlaylist(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var ids []int64
	missing := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry := filepath.FromSlash(line)
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(base, entry)
		}

		l.mu.RLock()
		id, ok := l.byPath[filepath.Clean(entry)]
		l.mu.RUnlock()
		if !ok {
			missing++
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := &Playlist{
		ID:       stableID("playlist\x00" + path),
		Name:     name,
		Path:     path,
		TrackIDs: ids,
	}

	l.mu.Lock()
	l.playlists[p.ID] = p
	l.mu.Unlock()

	if missing > 0 {
		l.logger.Debug("Playlist references unknown tracks", "playlist", name, "missing", missing)
	}
	return p, nil
}

// Track returns a track by ID
func (l *Library) Track(id int64) (types.Track, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tracks[id]
	if !ok {
		return types.Track{}, false
	}
	return *t, true
}

// Tracks returns every track in the order it was added
func (l *Library) Tracks() []types.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Track, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.tracks[id])
	}
	return out
}

// Albums returns the albums sorted by artist then name
func (l *Library) Albums() []Album {
	l.mu.RLock()
	out := make([]Album, 0, len(l.albums))
	for _, a := range l.albums {
		album := *a
		album.TrackIDs = append([]int64(nil), a.TrackIDs...)
		out = append(out, album)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := strings.ToLower(out[i].Artist), strings.ToLower(out[j].Artist)
		if ai != aj {
			return ai < aj
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Artists returns the distinct track artists sorted by name
func (l *Library) Artists() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.artists))
	for name := range l.artists {
		out = append(out, name)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

// Playlists returns the playlists sorted by name
func (l *Library) Playlists() []Playlist {
	l.mu.RLock()
	out := make([]Playlist, 0, len(l.playlists))
	for _, p := range l.playlists {
		pl := *p
		pl.TrackIDs = append([]int64(nil), p.TrackIDs...)
		out = append(out, pl)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemovePlaylist forgets a playlist
func (l *Library) RemovePlaylist(id int64) {
	l.mu.Lock()
	delete(l.playlists, id)
	l.mu.Unlock()
}

// TracksForPlaylist returns the playlist's tracks in playlist order
func (l *Library) TracksForPlaylist(ctx context.Context, playlistID int64) ([]types.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.playlists[playlistID]
	if !ok {
		return nil, nil
	}
	out := make([]types.Track, 0, len(p.TrackIDs))
	for _, id := range p.TrackIDs {
		if t, ok := l.tracks[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

// SongCountForPlaylist returns the number of tracks in a playlist, 0 when unknown
func (l *Library) SongCountForPlaylist(ctx context.Context, playlistID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.playlists[playlistID]; ok {
		return len(p.TrackIDs), nil
	}
	return 0, nil
}

// EmbeddedArtworkForAlbum returns the picture attached to the album: explicit
// artwork first, then the picture of the first tagged track, then a cover
// image next to the audio files. It returns nil when there is none.
func (l *Library) EmbeddedArtworkForAlbum(ctx context.Context, albumID int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	data, explicit := l.artwork[albumID]
	album, ok := l.albums[albumID]
	var artPath, dir string
	if ok {
		artPath, dir = album.artPath, album.dir
	}
	l.mu.RUnlock()

	if explicit {
		return data, nil
	}
	if !ok {
		return nil, nil
	}

	if artPath != "" {
		data, err := readPicture(artPath)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		l.logger.Debug("Failed to read embedded picture", "path", artPath, "error", err)
	}

	if dir != "" {
		for _, name := range folderArtNames {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil && len(data) > 0 {
				return data, nil
			}
		}
	}
	return nil, nil
}

func readPicture(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}
	if pic := m.Picture(); pic != nil {
		return pic.Data, nil
	}
	return nil, nil
}

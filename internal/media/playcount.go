package media

import (
	"context"
	"sort"
	"sync"

	"github.com/eleven/artcache/pkg/types"
)

// PlayCounts keeps per-track play counts in memory
type PlayCounts struct {
	mu     sync.RWMutex
	counts map[int64]int
}

var _ types.PlayCountStore = (*PlayCounts)(nil)

func NewPlayCounts() *PlayCounts {
	return &PlayCounts{counts: make(map[int64]int)}
}

// Played records one play of trackID
func (p *PlayCounts) Played(trackID int64) {
	p.mu.Lock()
	p.counts[trackID]++
	p.mu.Unlock()
}

// Set overwrites the count of trackID
func (p *PlayCounts) Set(trackID int64, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count <= 0 {
		delete(p.counts, trackID)
		return
	}
	p.counts[trackID] = count
}

// Count returns the number of plays of trackID
func (p *PlayCounts) Count(trackID int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[trackID]
}

// MostPlayedOrder sorts trackIDs by descending play count, keeping the given
// order between equal counts
func (p *PlayCounts) MostPlayedOrder(ctx context.Context, trackIDs []int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := append([]int64(nil), trackIDs...)
	p.mu.RLock()
	defer p.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return p.counts[out[i]] > p.counts[out[j]]
	})
	return out, nil
}

// Player tracks the now-playing song
type Player struct {
	mu      sync.RWMutex
	current types.Track
	playing bool
}

var _ types.NowPlaying = (*Player)(nil)

// SetCurrent changes the now-playing track
func (p *Player) SetCurrent(t types.Track) {
	p.mu.Lock()
	p.current = t
	p.playing = true
	p.mu.Unlock()
}

// Stop clears the now-playing track
func (p *Player) Stop() {
	p.mu.Lock()
	p.current = types.Track{}
	p.playing = false
	p.mu.Unlock()
}

func (p *Player) CurrentTrack() (types.Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.playing
}

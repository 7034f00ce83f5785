// Package playback simulates a media player consuming a download, so a
// session has a live buffer to pace itself against.
package playback

import (
	"math"
	"sync"
	"time"

	"github.com/tanq16/streamdl/internal/schedule"
)

// Player turns delivered bytes into buffered media time at a fixed bitrate
// and plays through it at PlaybackRate. Playback starts with the first bytes
// and stalls whenever the playhead catches up with the buffer.
type Player struct {
	mu       sync.Mutex
	bitrate  float64 // bytes per second of media
	rate     float64
	now      func() time.Time
	started  bool
	last     time.Time
	position float64
	buffered float64
	stalls   int
	stalled  bool
}

type Option func(*Player)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Player) { p.now = now }
}

// New returns a player for media encoded at bitrate bytes per second.
func New(bitrate int64, rate float64, opts ...Option) *Player {
	if bitrate <= 0 {
		bitrate = 1
	}
	if rate <= 0 || math.IsNaN(rate) {
		rate = 1
	}
	p := &Player{bitrate: float64(bitrate), rate: rate, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Append adds n downloaded bytes to the end of the buffer.
func (p *Player) Append(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if !p.started {
		p.started = true
		p.last = p.now()
	}
	p.buffered += float64(n) / p.bitrate
	p.stalled = false
}

// SetRate changes the playback speed from now on.
func (p *Player) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if rate > 0 {
		p.rate = rate
	}
}

func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.position
}

// Buffered is the media time downloaded so far, in seconds.
func (p *Player) Buffered() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// Stalls counts the times the playhead ran into the end of the buffer.
func (p *Player) Stalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.stalls
}

// Snapshot reports a single buffered range from zero to the end of the
// downloaded data.
func (p *Player) Snapshot() schedule.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return schedule.Snapshot{
		CurrentTime:  p.position,
		PlaybackRate: p.rate,
		Sources:      [][]schedule.TimeRange{{{Start: 0, End: p.buffered}}},
	}
}

func (p *Player) advanceLocked() {
	if !p.started {
		return
	}
	now := p.now()
	dt := now.Sub(p.last).Seconds()
	p.last = now
	if dt <= 0 || p.stalled {
		return
	}
	p.position += dt * p.rate
	if p.position >= p.buffered {
		p.position = p.buffered
		p.stalled = true
		p.stalls++
	}
}

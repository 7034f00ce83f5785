// Package downloader drives a chunked download whose pace follows the
// playback buffer. A Session fetches one chunk at a time, hands it to the
// caller, and asks the schedule package how long to wait before the next one.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/schedule"
	"github.com/tanq16/streamdl/internal/utils"
)

// Fetcher retrieves one range of the resource. rangefetch.Fetcher and
// pieces.Fetcher both satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, r rangefetch.Request) (*rangefetch.Result, error)
}

// BufferSource reports the playback buffer the session paces itself against.
type BufferSource interface {
	Snapshot() schedule.Snapshot
}

// Chunk is one delivered range. Start is the resource offset of Data[0].
type Chunk struct {
	Data  []byte
	Start int64
}

// DeliveryFunc receives exactly one of (chunk, false, nil), (nil, true, nil)
// or (nil, false, err) per call. Calls for one session never overlap.
type DeliveryFunc func(chunk *Chunk, eof bool, err error)

type State int

const (
	Idle State = iota
	Active
	Fetching
	Done
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Fetching:
		return "fetching"
	case Done:
		return "done"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Stats struct {
	Chunks     int64
	Bytes      int64
	Throughput float64 // bytes per second, moving average
}

type Option func(*Session)

func WithBufferSource(src BufferSource) Option {
	return func(s *Session) { s.source = src }
}

func WithDelivery(fn DeliveryFunc) Option {
	return func(s *Session) { s.deliver = fn }
}

// WithChunkSize sets the initial chunk size; utils.Unbounded fetches the
// rest of the resource in one request.
func WithChunkSize(n int64) Option {
	return func(s *Session) { s.chunkSize = n }
}

// WithOnScheduled observes every wait computed between two fetches.
func WithOnScheduled(fn func(wait time.Duration)) Option {
	return func(s *Session) { s.onScheduled = fn }
}

func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is safe for concurrent use. The delivery callback may call any
// method on the session, including Stop and Resume.
type Session struct {
	id          string
	fetcher     Fetcher
	source      BufferSource
	deliver     DeliveryFunc
	onScheduled func(time.Duration)

	ctx    context.Context
	cancel context.CancelFunc

	// deliverMu serializes callback invocations; it is never taken while mu
	// is held.
	deliverMu sync.Mutex

	mu          sync.Mutex
	state       State
	active      bool
	fetching    bool
	eof         bool
	closed      bool
	cursor      int64
	chunkSize   int64
	totalLength int64
	timer       *time.Timer
	cancelFetch context.CancelFunc
	generation  uint64
	err         error

	chunks     int64
	bytes      int64
	throughput ewma.MovingAverage
}

func New(ctx context.Context, fetcher Fetcher, opts ...Option) *Session {
	s := &Session{
		id:          uuid.New().String(),
		fetcher:     fetcher,
		chunkSize:   utils.DefaultChunkSize,
		totalLength: utils.Unknown,
		throughput:  ewma.NewMovingAverage(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// SetDelivery replaces the callback; it applies from the next delivery on.
func (s *Session) SetDelivery(fn DeliveryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = fn
}

// Start rewinds to offset zero and fetches immediately.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	s.cursor = 0
	s.eof = false
	s.err = nil
	s.resumeLocked()
}

// Resume fetches from the cursor right away. A chunk size of zero becomes
// unbounded. It does nothing while a fetch is in flight. After end of file it
// delivers (nil, true, nil) again instead of fetching.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeLocked()
}

func (s *Session) resumeLocked() {
	if s.closed {
		log.Debug().Str("op", "downloader/session").Str("session", s.id).Msg("resume on closed session ignored")
		return
	}
	if s.chunkSize == 0 {
		s.chunkSize = utils.Unbounded
	}
	if s.eof {
		if s.fetching {
			// the fetch that hit end of file delivers it
			return
		}
		s.active = false
		s.state = Done
		go s.redeliverEOF(s.generation)
		return
	}
	s.active = true
	if s.fetching {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.generation++
	}
	s.state = Active
	s.beginFetchLocked()
}

// Stop cancels a pending timer and halts scheduling. A fetch already in flight
// is aborted, and neither its result nor anything after it is delivered.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	s.active = false
	s.state = Stopped
	log.Debug().Str("op", "downloader/session").Str("session", s.id).Int64("cursor", s.cursor).Msg("session stopped")
}

// Close stops the session and aborts any in-flight request. The session
// cannot be resumed afterwards.
func (s *Session) Close() {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// detachLocked cancels the timer and aborts the in-flight fetch, if any. The
// generation bump makes a fetch that returns anyway a no-op.
func (s *Session) detachLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.generation++
	s.fetching = false
}

// SetChunkStart moves the cursor and clears end of file without fetching.
func (s *Session) SetChunkStart(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching {
		return fmt.Errorf("%w: cannot seek while a fetch is in flight", utils.ErrInvalidState)
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", utils.ErrInvalidState, offset)
	}
	s.cursor = offset
	s.eof = false
	if s.state == Done {
		s.state = Stopped
	}
	return nil
}

// SetChunkSize changes the width of subsequent requests. Zero or negative
// means unbounded.
func (s *Session) SetChunkSize(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = utils.Unbounded
	}
	s.chunkSize = n
}

// Reset forgets the discovered length and rewinds to zero without fetching.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching {
		return fmt.Errorf("%w: cannot reset while a fetch is in flight", utils.ErrInvalidState)
	}
	s.cursor = 0
	s.totalLength = utils.Unknown
	s.eof = false
	s.err = nil
	if s.state == Done {
		s.state = Idle
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.active
}

func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// FileLength is utils.Unknown until a response reveals the total size.
func (s *Session) FileLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLength
}

func (s *Session) ChunkSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkSize
}

func (s *Session) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

// Err is the failure that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Chunks: s.chunks, Bytes: s.bytes, Throughput: s.throughput.Value()}
}

func (s *Session) beginFetchLocked() {
	req := rangefetch.Request{Offset: s.cursor, Size: s.chunkSize}
	if remaining := s.totalLength - s.cursor; s.totalLength >= 0 && remaining > 0 && req.Size > remaining {
		req.Size = remaining
	}
	s.fetching = true
	s.state = Fetching
	gen := s.generation
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelFetch = cancel
	log.Debug().Str("op", "downloader/session").Str("session", s.id).Int64("offset", req.Offset).
		Int64("size", req.Size).Msg("fetch started")
	go func() {
		defer cancel()
		start := time.Now()
		res, err := s.fetcher.Fetch(ctx, req)
		s.complete(gen, req, res, err, time.Since(start))
	}()
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.active || s.fetching {
		return
	}
	s.timer = nil
	s.beginFetchLocked()
}

// complete applies one fetch result. It runs on the fetch goroutine and is a
// no-op when the session was stopped or restarted since the fetch began.
func (s *Session) complete(gen uint64, req rangefetch.Request, res *rangefetch.Result, err error, took time.Duration) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug().Str("op", "downloader/session").Str("session", s.id).Int64("offset", req.Offset).
			Msg("discarding result of detached fetch")
		return
	}
	deliver := s.deliver
	s.cancelFetch = nil

	var chunk *Chunk
	switch {
	case errors.Is(err, utils.ErrRangeNotSatisfiable) && s.endSignalLocked():
		s.eof = true
		if s.totalLength < 0 {
			s.totalLength = s.cursor
		}
	case err != nil:
		if errors.Is(err, utils.ErrRangeNotSatisfiable) {
			err = fmt.Errorf("%w: offset %d is short of length %d", err, s.cursor, s.totalLength)
		}
		s.err = err
		s.fetching = false
		s.active = false
		s.state = Stopped
		s.mu.Unlock()
		log.Error().Str("op", "downloader/session").Str("session", s.id).Int64("offset", req.Offset).Err(err).Msg("fetch failed")
		if deliver != nil {
			deliver(nil, false, err)
		}
		return
	default:
		s.applyLocked(req, res, took)
		if len(res.Data) > 0 {
			chunk = &Chunk{Data: res.Data, Start: s.cursor - int64(len(res.Data))}
		}
	}
	s.mu.Unlock()

	if chunk != nil && deliver != nil {
		deliver(chunk, false, nil)
	}

	var snap schedule.Snapshot
	if s.source != nil {
		snap = s.source.Snapshot()
	}

	s.mu.Lock()
	if gen != s.generation || !s.active {
		s.mu.Unlock()
		return
	}
	if s.eof {
		s.fetching = false
		s.active = false
		s.state = Done
		deliver = s.deliver
		s.mu.Unlock()
		log.Debug().Str("op", "downloader/session").Str("session", s.id).Int64("length", s.FileLength()).Msg("end of file")
		if deliver != nil {
			deliver(nil, true, nil)
		}
		return
	}
	wait := schedule.Wait(snap)
	s.fetching = false
	s.state = Active
	s.timer = time.AfterFunc(wait, func() { s.fire(gen) })
	hook := s.onScheduled
	s.mu.Unlock()

	log.Debug().Str("op", "downloader/session").Str("session", s.id).Dur("wait", wait).
		Float64("ratio", schedule.Ratio(snap)).Msg("next fetch scheduled")
	if hook != nil {
		hook(wait)
	}
}

// endSignalLocked reports whether an unsatisfiable range means end of file:
// only when the length is unknown or the cursor already reached it.
func (s *Session) endSignalLocked() bool {
	return s.totalLength < 0 || s.cursor >= s.totalLength
}

// redeliverEOF answers a Resume after end of file. It runs on its own
// goroutine so a Resume from inside the callback does not deadlock.
func (s *Session) redeliverEOF(gen uint64) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if gen != s.generation || !s.eof {
		s.mu.Unlock()
		return
	}
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(nil, true, nil)
	}
}

// applyLocked advances the cursor and learns the total length from a
// successful result.
func (s *Session) applyLocked(req rangefetch.Request, res *rangefetch.Result, took time.Duration) {
	n := int64(len(res.Data))
	if s.totalLength < 0 && res.Total >= 0 {
		s.totalLength = res.Total
	}
	if s.chunkSize < 0 && s.totalLength >= 0 {
		s.chunkSize = s.totalLength
	}
	if !res.Ranged && req.HasRange() {
		log.Warn().Str("op", "downloader/session").Str("session", s.id).Msg("range requests unsupported, got the whole resource")
	}
	s.cursor += n
	if n > 0 {
		s.chunks++
		s.bytes += n
		if took > 0 {
			s.throughput.Add(float64(n) / took.Seconds())
		}
	}
	if n == 0 {
		s.eof = true
		if s.totalLength < 0 {
			s.totalLength = s.cursor
		}
	} else if s.totalLength >= 0 && s.cursor >= s.totalLength {
		s.eof = true
	}
}

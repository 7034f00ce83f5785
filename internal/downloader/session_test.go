package downloader

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/streamdl/internal/pieces"
	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/schedule"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/testutils"
	"github.com/tanq16/streamdl/internal/utils"
)

type event struct {
	chunk *Chunk
	eof   bool
	err   error
}

type recorder struct {
	events    chan event
	scheduled chan time.Duration
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 64), scheduled: make(chan time.Duration, 64)}
}

func (r *recorder) deliver(chunk *Chunk, eof bool, err error) {
	r.events <- event{chunk: chunk, eof: eof, err: err}
}

func (r *recorder) onScheduled(wait time.Duration) {
	r.scheduled <- wait
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return event{}
}

func (r *recorder) nextWait(t *testing.T) time.Duration {
	t.Helper()
	select {
	case w := <-r.scheduled:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scheduling")
	}
	return 0
}

func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected delivery: %+v", e)
	case <-time.After(d):
	}
}

type fixedSource schedule.Snapshot

func (f fixedSource) Snapshot() schedule.Snapshot {
	return schedule.Snapshot(f)
}

// slowSource leaves the whole buffer ahead of the playhead: a 5s wait.
var slowSource = fixedSource{CurrentTime: 0, PlaybackRate: 1, Sources: [][]schedule.TimeRange{{{Start: 0, End: 10}}}}

func newSession(t *testing.T, srv *testutils.RangeServer, rec *recorder, opts ...Option) *Session {
	t.Helper()
	f := rangefetch.New(srv.URL, utils.NewStreamHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second}))
	opts = append([]Option{WithDelivery(rec.deliver), WithOnScheduled(rec.onScheduled)}, opts...)
	s := New(context.Background(), f, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestSessionDeliversChunksUntilEOF(t *testing.T) {
	data := testutils.GenerateTestData(2500)
	srv := testutils.NewRangeServer(t, data)
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	s.Start()
	var got []byte
	for i, want := range []int{1000, 1000, 500} {
		e := rec.next(t)
		require.NoError(t, e.err)
		require.False(t, e.eof)
		require.NotNil(t, e.chunk)
		assert.Equal(t, int64(i*1000), e.chunk.Start)
		assert.Len(t, e.chunk.Data, want)
		got = append(got, e.chunk.Data...)
	}
	e := rec.next(t)
	assert.True(t, e.eof)
	assert.Nil(t, e.chunk)
	assert.NoError(t, e.err)

	assert.Equal(t, data, got)
	assert.Equal(t, int64(2500), s.FileLength())
	assert.Equal(t, int64(2500), s.Cursor())
	assert.Equal(t, Done, s.State())
	assert.True(t, s.EOF())
	assert.Equal(t, []string{"bytes=0-999", "bytes=1000-1999", "bytes=2000-2499"}, srv.Ranges())

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Chunks)
	assert.Equal(t, int64(2500), stats.Bytes)
	assert.Greater(t, stats.Throughput, 0.0)
}

func TestSessionNoFetchAfterEOF(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	s.Start()
	for {
		if e := rec.next(t); e.eof {
			break
		}
	}
	// resuming at end of file repeats the signal without fetching
	s.Resume()
	e := rec.next(t)
	assert.True(t, e.eof)
	assert.Nil(t, e.chunk)
	assert.NoError(t, e.err)
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, 3, srv.Requests())
	assert.Equal(t, Done, s.State())

	require.NoError(t, s.SetChunkStart(1000))
	assert.False(t, s.EOF())
	assert.Equal(t, 3, srv.Requests())

	s.Resume()
	e = rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(1000), e.chunk.Start)
	assert.Equal(t, "bytes=1000-1999", srv.Ranges()[3])
}

func TestSessionCursorAdvancesByChunk(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(10000))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(slowSource))

	for n := int64(1); n <= 4; n++ {
		if n == 1 {
			s.Start()
		} else {
			s.Resume()
		}
		e := rec.next(t)
		require.NotNil(t, e.chunk)
		rec.nextWait(t)
		assert.Equal(t, n*1000, s.Cursor())
		assert.Equal(t, Active, s.State())
	}
	assert.Equal(t, 4, srv.Requests())
}

func TestSessionWaitFollowsBuffer(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(10000))
	rec := newRecorder()
	src := fixedSource{CurrentTime: 2, PlaybackRate: 1, Sources: [][]schedule.TimeRange{{{Start: 0, End: 10}}}}
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(src))

	s.Start()
	rec.next(t)
	assert.Equal(t, 4000*time.Millisecond, rec.nextWait(t))
	s.Stop()
}

func TestSessionStopCancelsTimer(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(10000))
	rec := newRecorder()
	// 0.1s of buffer ahead at normal speed: a 50ms wait
	src := fixedSource{CurrentTime: 0, PlaybackRate: 1, Sources: [][]schedule.TimeRange{{{Start: 0, End: 0.1}}}}
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(src))

	s.Start()
	rec.next(t)
	assert.InDelta(t, float64(50*time.Millisecond), float64(rec.nextWait(t)), float64(time.Millisecond))
	s.Stop()

	assert.Equal(t, Stopped, s.State())
	assert.True(t, s.IsStopped())
	rec.none(t, 250*time.Millisecond)
	assert.Equal(t, 1, srv.Requests())
}

func TestSessionStopDuringFetchSuppressesDelivery(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	release := srv.Hold()
	defer release()
	s.Start()
	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Fetching, s.State())

	s.Stop()
	release()
	rec.none(t, 200*time.Millisecond)
	assert.Equal(t, 1, srv.Requests())
	assert.Equal(t, int64(0), s.Cursor())
	assert.Equal(t, Stopped, s.State())

	// the cursor never moved, so resuming refetches the same range
	s.Resume()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(0), e.chunk.Start)
	assert.Equal(t, "bytes=0-999", srv.Ranges()[1])
}

func TestSessionStopAbortsInFlightRequest(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(slowSource))

	release := srv.Hold()
	defer release()
	s.Start()
	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	require.Eventually(t, func() bool { return srv.Aborted() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Resume()
	require.Eventually(t, func() bool { return srv.Requests() == 2 }, 2*time.Second, 5*time.Millisecond)
	release()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(0), e.chunk.Start)
	rec.nextWait(t)
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, 1, srv.Aborted())
	assert.Equal(t, 2, srv.Requests())
}

func TestSessionResumeWhileFetchingIsNoop(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(slowSource))

	release := srv.Hold()
	defer release()
	s.Start()
	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Resume()
	s.Resume()
	release()

	rec.next(t)
	rec.nextWait(t)
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, 1, srv.Requests())
}

func TestSessionFailureReportedOnce(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	srv.FailNext(1)
	s.Start()
	e := rec.next(t)
	assert.Nil(t, e.chunk)
	assert.False(t, e.eof)
	assert.ErrorIs(t, e.err, utils.ErrNetwork)

	rec.none(t, 150*time.Millisecond)
	assert.Equal(t, 1, srv.Requests())
	assert.Equal(t, Stopped, s.State())
	assert.ErrorIs(t, s.Err(), utils.ErrNetwork)

	// retrying is the caller's call
	s.Resume()
	e = rec.next(t)
	require.NoError(t, e.err)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(0), e.chunk.Start)
}

func TestSessionRangeIgnored(t *testing.T) {
	data := testutils.GenerateTestData(2500)
	srv := testutils.NewRangeServer(t, data)
	srv.IgnoreRanges = true
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	s.Start()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, data, e.chunk.Data)
	assert.True(t, rec.next(t).eof)
	assert.Equal(t, int64(2500), s.FileLength())
	assert.Equal(t, 1, srv.Requests())
}

func TestSessionUnboundedChunk(t *testing.T) {
	data := testutils.GenerateTestData(2500)
	srv := testutils.NewRangeServer(t, data)
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(0))

	s.Start()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, data, e.chunk.Data)
	assert.True(t, rec.next(t).eof)
	assert.Equal(t, []string{""}, srv.Ranges())
	assert.Equal(t, int64(2500), s.ChunkSize())
}

func TestSessionUnknownTotalEndsOnUnsatisfiableRange(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	srv.HideTotal = true
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	s.Start()
	var total int
	for {
		e := rec.next(t)
		require.NoError(t, e.err)
		if e.eof {
			break
		}
		total += len(e.chunk.Data)
	}
	assert.Equal(t, 2500, total)
	assert.Equal(t, int64(2500), s.FileLength())
	assert.Equal(t, "bytes=2500-3499", srv.Ranges()[3])
}

func TestSessionSeekAndResetRules(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(slowSource))

	release := srv.Hold()
	defer release()
	s.Start()
	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.SetChunkStart(2000), utils.ErrInvalidState)
	assert.ErrorIs(t, s.Reset(), utils.ErrInvalidState)
	release()

	rec.next(t)
	rec.nextWait(t)
	assert.ErrorIs(t, s.SetChunkStart(-1), utils.ErrInvalidState)
	require.NoError(t, s.SetChunkStart(2000))
	s.Resume()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(2000), e.chunk.Start)
	assert.Len(t, e.chunk.Data, 500)
	assert.True(t, rec.next(t).eof)

	require.NoError(t, s.Reset())
	assert.Equal(t, int64(0), s.Cursor())
	assert.Equal(t, int64(utils.Unknown), s.FileLength())
	assert.False(t, s.EOF())
	assert.Equal(t, Idle, s.State())
}

func TestSessionChunkSizeChangeAppliesToNextFetch(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(5000))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(slowSource))

	s.Start()
	rec.next(t)
	rec.nextWait(t)
	s.SetChunkSize(2000)
	s.Resume()
	e := rec.next(t)
	require.NotNil(t, e.chunk)
	assert.Len(t, e.chunk.Data, 2000)
	assert.Equal(t, []string{"bytes=0-999", "bytes=1000-2999"}, srv.Ranges())
}

func TestSessionZeroChunkSizeWhileScheduled(t *testing.T) {
	data := testutils.GenerateTestData(5000)
	srv := testutils.NewRangeServer(t, data)
	rec := newRecorder()
	// 0.1s of buffer ahead: the next fetch fires after 50ms
	src := fixedSource{CurrentTime: 0, PlaybackRate: 1, Sources: [][]schedule.TimeRange{{{Start: 0, End: 0.1}}}}
	s := newSession(t, srv, rec, WithChunkSize(1000), WithBufferSource(src))

	s.Start()
	require.NotNil(t, rec.next(t).chunk)
	rec.nextWait(t)
	s.SetChunkSize(0)
	assert.Equal(t, int64(utils.Unbounded), s.ChunkSize())

	e := rec.next(t)
	require.NoError(t, e.err)
	require.NotNil(t, e.chunk)
	assert.Equal(t, int64(1000), e.chunk.Start)
	assert.Equal(t, data[1000:], e.chunk.Data)
	assert.True(t, rec.next(t).eof)
	assert.Equal(t, int64(5000), s.Cursor())
	assert.Equal(t, []string{"bytes=0-999", "bytes=1000-"}, srv.Ranges())
}

func TestSessionUnsatisfiableRangeBeforeLengthFails(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(5000))
	srv.RejectFrom = 2000
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	s.Start()
	for i := 0; i < 2; i++ {
		e := rec.next(t)
		require.NoError(t, e.err)
		require.NotNil(t, e.chunk)
	}
	e := rec.next(t)
	assert.Nil(t, e.chunk)
	assert.False(t, e.eof)
	assert.ErrorIs(t, e.err, utils.ErrRangeNotSatisfiable)

	rec.none(t, 150*time.Millisecond)
	assert.False(t, s.EOF())
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, int64(2000), s.Cursor())
	assert.Equal(t, int64(5000), s.FileLength())
	assert.ErrorIs(t, s.Err(), utils.ErrRangeNotSatisfiable)
	assert.Equal(t, 3, srv.Requests())
}

func TestSessionCloseAbortsFetch(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	rec := newRecorder()
	s := newSession(t, srv, rec, WithChunkSize(1000))

	release := srv.Hold()
	defer release()
	s.Start()
	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Close()
	rec.none(t, 150*time.Millisecond)

	s.Resume()
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, 1, srv.Requests())
}

func TestSessionOverPieces(t *testing.T) {
	ctx := context.Background()
	data := testutils.GenerateTestData(2500)
	dir := storage.NewDirBackend(t.TempDir())
	root, err := storage.Pack(ctx, dir, "media", data, 1000)
	require.NoError(t, err)

	cache := pieces.NewCache(dir, "media", nil)
	set, err := cache.Open(ctx, root)
	require.NoError(t, err)
	f := pieces.NewFetcher(set, cache)

	rec := newRecorder()
	s := New(ctx, f, WithDelivery(rec.deliver), WithChunkSize(f.ChunkSize()))
	t.Cleanup(s.Close)
	s.Start()

	var buf bytes.Buffer
	for {
		e := rec.next(t)
		require.NoError(t, e.err)
		if e.eof {
			break
		}
		assert.Equal(t, int64(buf.Len()), e.chunk.Start)
		buf.Write(e.chunk.Data)
	}
	assert.Equal(t, data, buf.Bytes())
	assert.Equal(t, int64(2500), s.FileLength())
	assert.Equal(t, int64(3), s.Stats().Chunks)
}

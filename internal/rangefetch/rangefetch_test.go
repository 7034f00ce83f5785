package rangefetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/streamdl/internal/testutils"
	"github.com/tanq16/streamdl/internal/utils"
)

func newFetcher(url string) *Fetcher {
	return New(url, utils.NewStreamHTTPClient(utils.HTTPClientConfig{}))
}

func TestBuildRange(t *testing.T) {
	tests := []struct {
		offset int64
		size   int64
		want   string
	}{
		{0, 1000, "bytes=0-999"},
		{2000, 1000, "bytes=2000-2999"},
		{0, utils.Unbounded, ""},
		{500, utils.Unbounded, "bytes=500-"},
	}
	for _, tt := range tests {
		got, err := BuildRange(tt.offset, tt.size)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := BuildRange(1000, 0)
	assert.ErrorIs(t, err, utils.ErrEmptyRange)
}

func TestFetchRejectsZeroSize(t *testing.T) {
	srv := testutils.NewRangeServer(t, testutils.GenerateTestData(2500))
	_, err := newFetcher(srv.URL).Fetch(context.Background(), Request{Offset: 1000, Size: 0})
	assert.ErrorIs(t, err, utils.ErrEmptyRange)
	assert.Equal(t, 0, srv.Requests())
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-999/2500", 0, 999, 2500},
		{"bytes 2000-2499/2500", 2000, 2499, 2500},
		{"bytes 0-99/*", 0, 99, utils.Unknown},
		{"items 5-9/10", 5, 9, 10},
		{"bytes */1000", 0, -1, 1000},
	}
	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		require.NoError(t, err, tt.header)
		assert.Equal(t, []int64{tt.start, tt.end, tt.total}, []int64{start, end, total}, tt.header)
	}

	for _, bad := range []string{"", "bytes", "bytes 0-99", "bytes a-b/10", "bytes 10-5/20", "bytes 0-1/x"} {
		_, _, _, err := ParseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchRangeDiscoversTotal(t *testing.T) {
	data := testutils.GenerateTestData(2500)
	server := testutils.NewRangeServer(t, data)

	res, err := newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 0, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes=0-999"}, server.Ranges())
	assert.True(t, res.Ranged)
	assert.Equal(t, int64(2500), res.Total)
	assert.Equal(t, int64(0), res.Offset)
	assert.Equal(t, data[:1000], res.Data)

	res, err = newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 2000, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Offset)
	assert.Len(t, res.Data, 500)
}

func TestFetchUnboundedSendsNoRange(t *testing.T) {
	data := testutils.GenerateTestData(300)
	server := testutils.NewRangeServer(t, data)

	res, err := newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 0, Size: utils.Unbounded})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, server.Ranges())
	assert.False(t, res.Ranged)
	assert.Equal(t, int64(300), res.Total)
	assert.Equal(t, data, res.Data)
}

func TestFetchRangeIgnoredDegrades(t *testing.T) {
	data := testutils.GenerateTestData(1000)
	server := testutils.NewRangeServer(t, data)
	server.IgnoreRanges = true

	res, err := newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 400, Size: 100})
	require.NoError(t, err)
	assert.False(t, res.Ranged)
	assert.Equal(t, int64(1000), res.Total)
	assert.Equal(t, int64(400), res.Offset)
	assert.Equal(t, data[400:], res.Data)
}

func TestFetchUnknownTotal(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(100))
	server.HideTotal = true

	res, err := newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 0, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, utils.Unknown, res.Total)
	assert.Len(t, res.Data, 10)
}

func TestFetchErrors(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(100))

	_, err := newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 100, Size: 10})
	assert.ErrorIs(t, err, utils.ErrRangeNotSatisfiable)

	server.FailNext(1)
	_, err = newFetcher(server.URL).Fetch(context.Background(), Request{Offset: 0, Size: 10})
	assert.ErrorIs(t, err, utils.ErrNetwork)

	_, err = newFetcher("http://127.0.0.1:1/nothing").Fetch(context.Background(), Request{Offset: 0, Size: 10})
	assert.ErrorIs(t, err, utils.ErrNetwork)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newFetcher(server.URL).Fetch(ctx, Request{Offset: 0, Size: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrNetwork))
}

func TestHead(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(4096))

	info, err := newFetcher(server.URL + "/media/clip.mp4").Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size)
	assert.True(t, info.RangeSupported)
	assert.Equal(t, "clip.mp4", info.FileName)
	assert.Equal(t, 0, server.Requests())
}

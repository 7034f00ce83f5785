package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/testutils"
	"github.com/tanq16/streamdl/internal/utils"
)

type countingDownloader struct {
	failBuild bool
	runs      atomic.Int32
}

func (d *countingDownloader) ValidateJob(job *utils.StreamJob) error { return nil }

func (d *countingDownloader) BuildJob(job *utils.StreamJob) error {
	if d.failBuild {
		return errors.New("no such resource")
	}
	return nil
}

func (d *countingDownloader) Download(ctx context.Context, job *utils.StreamJob) error {
	d.runs.Add(1)
	job.ProgressFunc(utils.Progress{Downloaded: 1, Total: 1})
	return nil
}

func quietManager() (*output.Manager, *bytes.Buffer) {
	var buf bytes.Buffer
	m := output.NewManager()
	m.SetOutput(&buf)
	return m, &buf
}

func TestRunAllJobs(t *testing.T) {
	d := &countingDownloader{}
	Register("test", d)
	jobs := make([]utils.StreamJob, 5)
	for i := range jobs {
		jobs[i] = utils.StreamJob{JobType: "test", URL: "job"}
	}
	m, buf := quietManager()
	require.NoError(t, RunWithManager(context.Background(), jobs, 3, m))
	assert.Equal(t, int32(5), d.runs.Load())
	assert.Contains(t, buf.String(), "Completed 5 of 5")
}

func TestRunReportsFailures(t *testing.T) {
	Register("broken", &countingDownloader{failBuild: true})
	jobs := []utils.StreamJob{{JobType: "broken", URL: "a"}, {JobType: "nope", URL: "b"}}
	m, buf := quietManager()
	err := RunWithManager(context.Background(), jobs, 0, m)
	assert.EqualError(t, err, "2 of 2 jobs failed")
	assert.Contains(t, buf.String(), "unknown job type: nope")
	assert.Contains(t, buf.String(), "no such resource")
}

func TestRunStreamsOverHTTP(t *testing.T) {
	data := testutils.GenerateTestData(3000)
	srv := testutils.NewRangeServer(t, data)
	out := filepath.Join(t.TempDir(), "media.bin")
	jobs := []utils.StreamJob{{JobType: "http", URL: srv.URL, OutputPath: out, ChunkSize: 1024}}

	m, _ := quietManager()
	require.NoError(t, RunWithManager(context.Background(), jobs, 1, m))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []string{"bytes=0-1023", "bytes=1024-2047", "bytes=2048-2999"}, srv.Ranges())
}

package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tanq16/streamdl/internal/utils"
)

func TestProgressText(t *testing.T) {
	text := ProgressText(utils.Progress{Downloaded: 1024, Total: 2048, Throughput: 512, Wait: 1500 * time.Millisecond})
	assert.Equal(t, "1.00 KB / 2.00 KB • 512 B/s • next in 1.5s", text)

	text = ProgressText(utils.Progress{Downloaded: 10, Total: utils.Unknown, Position: 1, Buffered: 2.5})
	assert.Equal(t, "10 B • 0 B/s • play 1.0s/2.5s", text)
}

func TestProgressBar(t *testing.T) {
	assert.Contains(t, ProgressBar(50, 100, 10), "50.0%")
	assert.Contains(t, ProgressBar(500, 100, 10), "100.0%")
	assert.Contains(t, ProgressBar(5, utils.Unknown, 10), "?%")
}

func TestManagerSummary(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()
	m.SetOutput(&buf)
	m.StartDisplay()

	ok := m.Register("first")
	bad := m.Register("second")
	m.SetProgress(ok, utils.Progress{Downloaded: 1, Total: 2})
	m.Complete(ok, "Streamed first")
	m.ReportError(bad, errors.New("boom"))
	assert.Equal(t, "success", m.GetStatus(ok))
	assert.Equal(t, "error", m.GetStatus(bad))
	assert.Equal(t, "unknown", m.GetStatus(99))
	m.StopDisplay()

	out := buf.String()
	assert.Contains(t, out, "Streamed first")
	assert.Contains(t, out, "Completed 1 of 2")
	assert.Contains(t, out, "Failed 1 of 2")
	assert.Contains(t, out, "Job: second")
	assert.Contains(t, out, "boom")
	assert.Equal(t, 0, m.numLines, "no redraws on a plain writer")
}

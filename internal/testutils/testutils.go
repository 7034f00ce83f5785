// Package testutils provides a range-capable HTTP server for tests.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// RangeServer serves one resource with byte-range support and records the
// Range header of every GET it receives.
type RangeServer struct {
	*httptest.Server

	mu       sync.Mutex
	data     []byte
	ranges   []string
	failNext int
	gate     chan struct{}
	aborted  int

	// IgnoreRanges makes the server answer every GET with 200 and the full body.
	IgnoreRanges bool
	// HideTotal answers with "bytes a-b/*".
	HideTotal bool
	// RejectFrom, when positive, answers 416 to ranges starting at or past it
	// even though the resource is longer.
	RejectFrom int64
}

func NewRangeServer(t *testing.T, data []byte) *RangeServer {
	t.Helper()
	s := &RangeServer{data: data}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Ranges returns the Range headers seen so far, "" for requests without one.
func (s *RangeServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *RangeServer) Requests() int {
	return len(s.Ranges())
}

// Aborted counts held GETs whose client went away before release.
func (s *RangeServer) Aborted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// FailNext makes the next n GETs answer 500.
func (s *RangeServer) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Hold blocks every GET until the returned release func is called.
func (s *RangeServer) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	size := int64(len(s.data))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if !s.IgnoreRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		return
	}

	s.mu.Lock()
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	gate := s.gate
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			s.mu.Lock()
			s.aborted++
			s.mu.Unlock()
			return
		}
	}
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || s.IgnoreRanges {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(s.data)
		return
	}

	rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeHeader, "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end := size - 1
	if len(parts) > 1 && parts[1] != "" {
		end, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	if start >= size || (s.RejectFrom > 0 && start >= s.RejectFrom) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	total := strconv.FormatInt(size, 10)
	if s.HideTotal {
		total = "*"
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.data[start : end+1])
}

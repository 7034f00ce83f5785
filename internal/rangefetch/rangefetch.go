// Package rangefetch issues single HTTP byte-range requests and reports what
// the server said about the resource's total length.
package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/utils"
)

// Request describes one range. Size is utils.Unbounded to fetch from Offset to
// the end of the resource.
type Request struct {
	Offset int64
	Size   int64
}

// Result is the body of one response, tagged with the offset it starts at.
// Total is utils.Unknown when the server did not say. Ranged is false when the
// server ignored the requested range and sent the whole resource.
type Result struct {
	Data   []byte
	Offset int64
	Total  int64
	Ranged bool
}

type Fetcher struct {
	url    string
	client utils.HTTPDoer
}

func New(url string, client utils.HTTPDoer) *Fetcher {
	return &Fetcher{url: url, client: client}
}

// Fetch performs the request. It never touches session state.
func (f *Fetcher) Fetch(ctx context.Context, r Request) (*Result, error) {
	rangeHeader, err := BuildRange(r.Offset, r.Size)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating GET request: %v", utils.ErrNetwork, err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	req.Header.Set("Connection", "keep-alive")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug().Str("op", "rangefetch/fetch").Str("range", rangeHeader).Err(err).Msg("request failed")
		return nil, fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		io.Copy(io.Discard, resp.Body)
		return nil, utils.ErrRangeNotSatisfiable
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w (404)", utils.ErrNetwork, utils.ErrNotFound)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return nil, fmt.Errorf("%w: unexpected status code: %d", utils.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading response body: %v", utils.ErrNetwork, err)
	}
	contentRange := resp.Header.Get("Content-Range")
	log.Debug().Str("op", "rangefetch/fetch").Str("range", rangeHeader).Str("received", contentRange).
		Int("status", resp.StatusCode).Int("bytes", len(body)).Dur("took", time.Since(start)).Msg("range received")

	if contentRange == "" {
		// Either nothing was asked for, or the server ignored the Range header:
		// in both cases the body is the whole resource.
		if rangeHeader != "" {
			log.Warn().Str("op", "rangefetch/fetch").Msgf("Server ignored range %s, treating response as full resource", rangeHeader)
		}
		total := int64(len(body))
		data := body
		if r.Offset >= total {
			data = nil
		} else if r.Offset > 0 {
			data = body[r.Offset:]
		}
		return &Result{Data: data, Offset: r.Offset, Total: total, Ranged: false}, nil
	}

	start64, _, total, err := ParseContentRange(contentRange)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	return &Result{Data: body, Offset: start64, Total: total, Ranged: true}, nil
}

// HasRange reports whether the request needs a Range header.
func (r Request) HasRange() bool {
	return r.Size >= 0 || r.Offset > 0
}

// BuildRange returns the Range header for a request, or "" when size is
// unbounded from offset zero (no header at all). A zero size has no header
// form and is rejected with utils.ErrEmptyRange.
func BuildRange(offset, size int64) (string, error) {
	if size == 0 {
		return "", fmt.Errorf("%w at offset %d", utils.ErrEmptyRange, offset)
	}
	if size < 0 {
		if offset <= 0 {
			return "", nil
		}
		return fmt.Sprintf("bytes=%d-", offset), nil
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+size-1), nil
}

// ParseContentRange parses "<unit> <start>-<end>/<total>". Total is
// utils.Unknown for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || unit == "" {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	span, size, ok := strings.Cut(strings.TrimSpace(rest), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if size == "*" {
		total = utils.Unknown
	} else if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total in Content-Range: %q", header)
	}
	if span == "*" {
		// unsatisfied-range form: "bytes */1000"
		return 0, -1, total, nil
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, errors.New("invalid Content-Range: end before start")
	}
	return start, end, total, nil
}

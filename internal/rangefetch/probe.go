package rangefetch

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Info is what a HEAD request tells about the resource before streaming.
type Info struct {
	Size           int64
	RangeSupported bool
	ContentType    string
	FileName       string
}

// Head probes the resource. Size is utils.Unknown when no Content-Length is
// sent; a missing Accept-Ranges is reported, not treated as an error, since
// sessions degrade to a single full fetch.
func (f *Fetcher) Head(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating HEAD request: %v", utils.ErrNetwork, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w (404)", utils.ErrNetwork, utils.ErrNotFound)
	} else if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: server returned error: %d", utils.ErrNetwork, resp.StatusCode)
	}

	info := &Info{
		Size:           utils.Unknown,
		RangeSupported: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:    resp.Header.Get("Content-Type"),
		FileName:       fileNameFrom(resp, f.url),
	}
	if resp.ContentLength >= 0 {
		info.Size = resp.ContentLength
	}
	log.Debug().Str("op", "rangefetch/probe").Int64("size", info.Size).Bool("ranges", info.RangeSupported).Msg("probed resource")
	return info, nil
}

func fileNameFrom(resp *http.Response, link string) string {
	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				return filenameRegex.ReplaceAllString(fn, "_")
			}
		}
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	name := path.Base(parsed.Path)
	if name == "/" || name == "." || strings.TrimSpace(name) == "" {
		return ""
	}
	return filenameRegex.ReplaceAllString(name, "_")
}

package utils

import (
	"errors"
	"regexp"
)

const DefaultChunkSize = 1024 * 1024 * 4
const ToolUserAgent = "streamdl/1337"

// Sizes used by sessions and fetchers. A negative chunk size requests everything
// from the cursor to the end of the resource; a negative length is not yet known.
const (
	Unbounded int64 = -1
	Unknown   int64 = -1
)

var (
	ErrNetwork             = errors.New("network error")
	ErrNotFound            = errors.New("resource not found")
	ErrRangeUnsupported    = errors.New("range requests are not supported")
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
	ErrStorage             = errors.New("storage error")
	ErrInvalidState        = errors.New("invalid session state")
	ErrEmptyRange          = errors.New("zero-length range requested")
)

var sizeRegex = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([KMGT]?I?B?)\s*$`)

// Local-only User-Agent list
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 18_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Mobile/15E148 Safari/604.1",
	"VLC/3.0.21 LibVLC/3.0.21",
	"curl/7.88.1",
}

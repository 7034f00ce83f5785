package utils

import (
	"context"
	"time"
)

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
	TunedSockets  bool // larger socket buffers for big chunks
}

// PieceSource addresses a content-addressed resource in a storage backend.
type PieceSource struct {
	Backend   string // "s3" or "dir"
	Bucket    string
	RootID    string
	Profile   string
	Endpoint  string
	Root      string // base directory for the dir backend
	CacheSize int    // pieces held in memory, 0 for unbounded
	Verify    bool
}

// Progress is reported by a running job after every delivered chunk and
// every scheduling decision.
type Progress struct {
	Downloaded int64
	Total      int64
	Throughput float64
	Wait       time.Duration
	Position   float64
	Buffered   float64
}

type StreamJob struct {
	JobType          string // "http" or "piece"
	ID               string
	URL              string
	OutputPath       string
	ChunkSize        int64
	Bitrate          int64 // bytes per second of media; 0 streams unpaced
	PlaybackRate     float64
	StrictRanges     bool
	Retries          int // explicit resumes after a failed fetch
	HTTPClientConfig HTTPClientConfig
	Piece            PieceSource
	ProgressFunc     func(Progress)
	Metadata         map[string]any
}

// Downloader prepares and runs one kind of job.
type Downloader interface {
	ValidateJob(job *StreamJob) error
	BuildJob(job *StreamJob) error
	Download(ctx context.Context, job *StreamJob) error
}

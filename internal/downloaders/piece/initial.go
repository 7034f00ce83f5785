package piece

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/pieces"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/utils"
)

// PieceDownloader streams resources stored as content-addressed pieces. Jobs
// that read the same bucket of the same backend share one piece cache.
type PieceDownloader struct {
	mu     sync.Mutex
	caches map[string]*pieces.Cache
}

func NewPieceDownloader() *PieceDownloader {
	return &PieceDownloader{caches: make(map[string]*pieces.Cache)}
}

func (d *PieceDownloader) ValidateJob(job *utils.StreamJob) error {
	if job.URL != "" && (job.Piece.Bucket == "" || job.Piece.RootID == "") {
		bucket, root, err := ParsePieceURL(job.URL)
		if err != nil {
			return err
		}
		job.Piece.Bucket, job.Piece.RootID = bucket, root
	}
	if job.Piece.Bucket == "" || job.Piece.RootID == "" {
		return fmt.Errorf("bucket and root id are required")
	}
	switch job.Piece.Backend {
	case "s3":
	case "dir":
		if job.Piece.Root == "" {
			return fmt.Errorf("dir backend needs a root directory")
		}
	default:
		return fmt.Errorf("unsupported backend: %q", job.Piece.Backend)
	}
	log.Info().Str("op", "piece/initial").Msgf("job validated for %s/%s", job.Piece.Bucket, job.Piece.RootID)
	return nil
}

// BuildJob reads the root piece so the output size is known before streaming.
func (d *PieceDownloader) BuildJob(job *utils.StreamJob) error {
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cache, err := d.cacheFor(ctx, job.Piece)
	if err != nil {
		return err
	}
	set, err := cache.Open(ctx, job.Piece.RootID)
	if err != nil {
		return fmt.Errorf("error opening root piece: %w", err)
	}
	if job.OutputPath == "" {
		job.OutputPath = job.Piece.RootID
		if len(job.OutputPath) > 16 {
			job.OutputPath = job.OutputPath[:16]
		}
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	job.Metadata["set"] = set
	job.Metadata["cache"] = cache
	job.Metadata["size"] = set.TotalSize()
	log.Info().Str("op", "piece/initial").Int("pieces", len(set.Links)).Int64("size", set.TotalSize()).
		Msgf("job built for %s/%s", job.Piece.Bucket, job.Piece.RootID)
	return nil
}

func (d *PieceDownloader) cacheFor(ctx context.Context, src utils.PieceSource) (*pieces.Cache, error) {
	key := strings.Join([]string{src.Backend, src.Profile, src.Endpoint, src.Root, src.Bucket}, "|")
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.caches[key]; ok {
		return c, nil
	}
	backend, err := storage.Dial(ctx, src)
	if err != nil {
		return nil, err
	}
	var store pieces.Store
	if src.CacheSize > 0 {
		lru, err := pieces.NewLRUStore(src.CacheSize, func(id string, _ []byte) {
			log.Debug().Str("op", "piece/initial").Str("id", id).Msg("piece evicted")
		})
		if err != nil {
			return nil, err
		}
		store = lru
	}
	c := pieces.NewCache(backend, src.Bucket, store)
	c.Verify = src.Verify
	d.caches[key] = c
	return c, nil
}

// ParsePieceURL splits "bucket/rootid", optionally prefixed by a scheme such as
// "s3://" or "dir://".
func ParsePieceURL(raw string) (bucket, root string, err error) {
	if _, rest, ok := strings.Cut(raw, "://"); ok {
		raw = rest
	}
	bucket, root, _ = strings.Cut(strings.Trim(raw, "/"), "/")
	if bucket == "" || root == "" || strings.Contains(root, "/") {
		return "", "", fmt.Errorf("invalid piece address %q, expected BUCKET/ROOTID", raw)
	}
	return bucket, root, nil
}

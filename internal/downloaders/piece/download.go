package piece

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/downloaders"
	"github.com/tanq16/streamdl/internal/pieces"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/utils"
)

func (d *PieceDownloader) Download(ctx context.Context, job *utils.StreamJob) error {
	set, ok := job.Metadata["set"].(*storage.PieceSet)
	if !ok {
		return fmt.Errorf("job was not built")
	}
	cache := job.Metadata["cache"].(*pieces.Cache)
	fetcher := pieces.NewFetcher(set, cache)
	chunkSize := job.ChunkSize
	if chunkSize <= 0 {
		chunkSize = fetcher.ChunkSize()
	}
	log.Info().Str("op", "piece/download").Int64("chunk", chunkSize).
		Msgf("Starting piece stream for %s/%s", set.Bucket, set.Root)
	err := downloaders.RunSession(ctx, job, fetcher, chunkSize)
	hits, misses, held := cache.Stats()
	log.Debug().Str("op", "piece/download").Int64("hits", hits).Int64("misses", misses).Int("held", held).Msg("piece cache")
	return err
}

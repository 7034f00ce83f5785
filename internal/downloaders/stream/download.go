package stream

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/downloaders"
	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/utils"
)

func (d *StreamDownloader) Download(ctx context.Context, job *utils.StreamJob) error {
	client := utils.NewStreamHTTPClient(job.HTTPClientConfig)
	fetcher := rangefetch.New(job.URL, client)
	chunkSize := job.ChunkSize
	if supported, ok := job.Metadata["rangeSupported"].(bool); ok && !supported {
		chunkSize = utils.Unbounded
	}
	log.Info().Str("op", "stream/download").Int64("chunk", chunkSize).Int64("bitrate", job.Bitrate).
		Msgf("Starting stream for %s", job.URL)
	return downloaders.RunSession(ctx, job, fetcher, chunkSize)
}

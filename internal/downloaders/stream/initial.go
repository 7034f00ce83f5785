package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/utils"
)

type StreamDownloader struct{}

func (d *StreamDownloader) ValidateJob(job *utils.StreamJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	if job.PlaybackRate < 0 {
		return fmt.Errorf("playback rate must not be negative")
	}
	log.Info().Str("op", "stream/initial").Msgf("job validated for %s", job.URL)
	return nil
}

// BuildJob probes the resource to name the output and learn whether ranges
// are honored. A failed probe is not fatal: some servers refuse HEAD but serve
// GET ranges fine.
func (d *StreamDownloader) BuildJob(job *utils.StreamJob) error {
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	client := utils.NewStreamHTTPClient(job.HTTPClientConfig)
	fetcher := rangefetch.New(job.URL, client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info, err := fetcher.Head(ctx)
	if errors.Is(err, utils.ErrNotFound) {
		return err
	} else if err != nil {
		log.Warn().Str("op", "stream/initial").Err(err).Msg("Probe failed, continuing without size")
		info = &rangefetch.Info{Size: utils.Unknown, RangeSupported: true}
	}
	if !info.RangeSupported {
		if job.StrictRanges {
			return fmt.Errorf("%w: %s", utils.ErrRangeUnsupported, job.URL)
		}
		log.Warn().Str("op", "stream/initial").Msg("Server does not advertise byte ranges, expecting a single full fetch")
	}

	if job.OutputPath == "" {
		job.OutputPath = info.FileName
	}
	if job.OutputPath == "" {
		parsedURL, _ := url.Parse(job.URL)
		job.OutputPath = path.Base(parsedURL.Path)
		if job.OutputPath == "" || job.OutputPath == "/" || job.OutputPath == "." {
			job.OutputPath = "download"
		}
	}
	if existingFile, err := os.Stat(job.OutputPath); err == nil {
		if info.Size > 0 && existingFile.Size() == info.Size {
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}

	job.Metadata["size"] = info.Size
	job.Metadata["rangeSupported"] = info.RangeSupported
	log.Info().Str("op", "stream/initial").Msgf("job built for %s -> %s", job.URL, job.OutputPath)
	return nil
}

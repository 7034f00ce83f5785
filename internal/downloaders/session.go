package downloaders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/downloader"
	"github.com/tanq16/streamdl/internal/playback"
	"github.com/tanq16/streamdl/internal/utils"
)

// RunSession streams a resource through a session into job.OutputPath. Chunks
// land in a .part file at their offsets, which is renamed once the session
// reports end of file. With a bitrate set, a simulated player paces the
// session; without one it fetches back to back.
func RunSession(ctx context.Context, job *utils.StreamJob, fetcher downloader.Fetcher, chunkSize int64) error {
	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %v", err)
		}
	}
	tempPath := job.OutputPath + ".part"
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}

	opts := []downloader.Option{downloader.WithChunkSize(chunkSize)}
	if job.ID != "" {
		opts = append(opts, downloader.WithID(job.ID))
	}
	var player *playback.Player
	if job.Bitrate > 0 {
		player = playback.New(job.Bitrate, job.PlaybackRate)
		opts = append(opts, downloader.WithBufferSource(player))
	}

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	var session *downloader.Session
	report := func(wait time.Duration) {
		if job.ProgressFunc == nil {
			return
		}
		stats := session.Stats()
		p := utils.Progress{
			Downloaded: stats.Bytes,
			Total:      session.FileLength(),
			Throughput: stats.Throughput,
			Wait:       wait,
		}
		if player != nil {
			p.Position = player.CurrentTime()
			p.Buffered = player.Buffered()
		}
		job.ProgressFunc(p)
	}
	deliver := func(chunk *downloader.Chunk, eof bool, err error) {
		switch {
		case err != nil:
			finish(err)
		case eof:
			finish(nil)
		default:
			if _, werr := out.WriteAt(chunk.Data, chunk.Start); werr != nil {
				session.Stop()
				finish(fmt.Errorf("error writing chunk at %d: %v", chunk.Start, werr))
				return
			}
			if player != nil {
				player.Append(int64(len(chunk.Data)))
			}
			report(0)
		}
	}
	opts = append(opts, downloader.WithDelivery(deliver), downloader.WithOnScheduled(report))
	session = downloader.New(ctx, fetcher, opts...)
	defer session.Close()

	session.Start()
	err = waitSession(ctx, session, done, job.Retries)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("error closing output file: %v", cerr)
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, job.OutputPath); err != nil {
		return fmt.Errorf("error renaming (finalizing) output file: %v", err)
	}
	stats := session.Stats()
	log.Info().Str("op", "downloaders/session").Str("session", session.ID()).Int64("bytes", stats.Bytes).
		Int64("chunks", stats.Chunks).Msgf("Stream complete for %s", job.OutputPath)
	return nil
}

// waitSession blocks until the session ends, resuming it after network
// failures up to retries times.
func waitSession(ctx context.Context, session *downloader.Session, done <-chan error, retries int) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err == nil {
				return nil
			}
			if attempt >= retries || !errors.Is(err, utils.ErrNetwork) || errors.Is(err, utils.ErrNotFound) {
				return err
			}
			log.Warn().Str("op", "downloaders/session").Str("session", session.ID()).Int64("cursor", session.Cursor()).
				Msgf("Resuming after failed fetch (attempt %d/%d): %v", attempt+1, retries, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			}
			session.Resume()
		}
	}
}

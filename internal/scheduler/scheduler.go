package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/downloaders/piece"
	"github.com/tanq16/streamdl/internal/downloaders/stream"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/utils"
)

// downloaderRegistry maps job types to their respective downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"http":  &stream.StreamDownloader{},
	"piece": piece.NewPieceDownloader(),
}

// Register adds or replaces the downloader for a job type.
func Register(jobType string, d utils.Downloader) {
	downloaderRegistry[jobType] = d
}

// Run executes the jobs on numWorkers parallel sessions with a terminal display.
func Run(ctx context.Context, jobs []utils.StreamJob, numWorkers int) error {
	outputMgr := output.NewManager()
	return RunWithManager(ctx, jobs, numWorkers, outputMgr)
}

// RunWithManager is Run reporting to the given output manager. It returns an
// error when any job failed.
func RunWithManager(ctx context.Context, jobs []utils.StreamJob, numWorkers int, outputMgr *output.Manager) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	outputMgr.StartDisplay()

	jobCh := make(chan utils.StreamJob, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processJobs(ctx, workerID, jobCh, outputMgr)
		}(i)
	}
	wg.Wait()
	outputMgr.StopDisplay()

	if _, failures := outputMgr.Counts(); failures > 0 {
		return fmt.Errorf("%d of %d jobs failed", failures, len(jobs))
	}
	return nil
}

// processJobs handles job processing for a worker
func processJobs(ctx context.Context, workerID int, jobCh <-chan utils.StreamJob, outputMgr *output.Manager) {
	for job := range jobCh {
		name := job.URL
		if name == "" {
			name = job.Piece.Bucket + "/" + job.Piece.RootID
		}
		jobID := outputMgr.Register(name)
		log.Debug().Str("op", "scheduler").Int("worker", workerID).Str("job", name).Msg("job picked up")

		downloader, exists := downloaderRegistry[job.JobType]
		if !exists {
			outputMgr.ReportError(jobID, fmt.Errorf("unknown job type: %s", job.JobType))
			outputMgr.SetMessage(jobID, fmt.Sprintf("Error: Unknown job type %s", job.JobType))
			continue
		}
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}

		outputMgr.SetStatus(jobID, "pending")
		outputMgr.SetMessage(jobID, fmt.Sprintf("Validating %s job", job.JobType))
		if err := downloader.ValidateJob(&job); err != nil {
			outputMgr.ReportError(jobID, fmt.Errorf("validation failed: %v", err))
			outputMgr.SetMessage(jobID, fmt.Sprintf("Validation failed for %s", name))
			continue
		}

		outputMgr.SetMessage(jobID, fmt.Sprintf("Building %s job", job.JobType))
		if err := downloader.BuildJob(&job); err != nil {
			outputMgr.ReportError(jobID, fmt.Errorf("build failed: %v", err))
			outputMgr.SetMessage(jobID, fmt.Sprintf("Build failed for %s", name))
			continue
		}

		outputMgr.SetMessage(jobID, fmt.Sprintf("Streaming %s", job.OutputPath))
		job.ProgressFunc = func(p utils.Progress) {
			outputMgr.SetProgress(jobID, p)
		}
		if err := downloader.Download(ctx, &job); err != nil {
			outputMgr.ReportError(jobID, fmt.Errorf("download failed: %v", err))
			outputMgr.SetMessage(jobID, fmt.Sprintf("Download failed for %s", job.OutputPath))
			continue
		}
		outputMgr.Complete(jobID, fmt.Sprintf("Completed %s", job.OutputPath))
	}
}

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/streamdl/internal/scheduler"
	"github.com/tanq16/streamdl/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}

// BatchFile maps a job type ("http", "piece" and their aliases) to its entries.
type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple streams from a YAML file",
		Long: `Process multiple streams from a YAML file of the form:

  http:
    - link: https://example.com/movie.mp4
      op: movie.mp4
  piece:
    - link: s3://media/3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchFile, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in the batch file")
			}
			return scheduler.Run(cmd.Context(), jobs, cfg.Workers)
		},
	}
	return cmd
}

func readBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	return batchFile, nil
}

func buildJobsFromBatch(batchFile BatchFile) []utils.StreamJob {
	var jobs []utils.StreamJob
	for jobType, entries := range batchFile {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			log.Warn().Str("op", "cmd/batch").Msgf("unknown job type '%s', skipping", jobType)
			continue
		}
		for _, entry := range entries {
			if entry.Link == "" {
				log.Warn().Str("op", "cmd/batch").Msgf("empty link found in %s section, skipping", jobType)
				continue
			}
			job := newJob(normalizedType, entry.Link, entry.OutputPath)
			if normalizedType == "piece" {
				applyPieceScheme(&job)
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https", "stream":
		return "http"
	case "piece", "pieces", "s3", "dir":
		return "piece"
	}
	return ""
}

// applyPieceScheme lets an "s3://" or "dir://" link pick the backend.
func applyPieceScheme(job *utils.StreamJob) {
	switch {
	case strings.HasPrefix(job.URL, "s3://"):
		job.Piece.Backend = "s3"
	case strings.HasPrefix(job.URL, "dir://"):
		job.Piece.Backend = "dir"
	}
}

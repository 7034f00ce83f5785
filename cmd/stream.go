package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/scheduler"
	"github.com/tanq16/streamdl/internal/utils"
)

func newStreamCmd() *cobra.Command {
	var outputPath string
	var probe bool

	cmd := &cobra.Command{
		Use:   "stream [URL...] [--output OUTPUT_PATH]",
		Short: "Stream files over HTTP/HTTPS in paced byte-range chunks",
		Long: `Stream one or more files over HTTP/HTTPS.

Examples:
  streamdl stream https://example.com/movie.mp4
  streamdl stream https://example.com/movie.mp4 -o movie.mp4 --chunk-size 8MB --bitrate 600KB
  streamdl stream https://example.com/a.mkv https://example.com/b.mkv -w 2
  streamdl stream https://example.com/movie.mp4 --probe`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if probe {
				return probeURLs(cmd, args)
			}
			op := outputPath
			if len(args) > 1 {
				op = ""
			}
			jobs := make([]utils.StreamJob, 0, len(args))
			for _, url := range args {
				jobs = append(jobs, newJob("http", url, op))
			}
			return scheduler.Run(cmd.Context(), jobs, cfg.Workers)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (single URL only)")
	cmd.Flags().BoolVar(&probe, "probe", false, "Only report size and range support of each URL")
	return cmd
}

func probeURLs(cmd *cobra.Command, urls []string) error {
	client := utils.NewStreamHTTPClient(cfg.HTTPClientConfig())
	for _, url := range urls {
		info, err := rangefetch.New(url, client).Head(cmd.Context())
		if err != nil {
			return fmt.Errorf("error probing %s: %w", url, err)
		}
		size := "unknown"
		if info.Size >= 0 {
			size = utils.FormatBytes(uint64(info.Size))
		}
		output.PrintHeader(url)
		output.PrintDetail(fmt.Sprintf("name    %s", info.FileName))
		output.PrintDetail(fmt.Sprintf("size    %s", size))
		output.PrintDetail(fmt.Sprintf("type    %s", info.ContentType))
		output.PrintDetail(fmt.Sprintf("ranges  %t", info.RangeSupported))
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/scheduler"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/utils"
)

func newPieceCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "piece [BUCKET/ROOTID...] [--output OUTPUT_PATH]",
		Short: "Stream resources stored as content-addressed pieces",
		Long: `Stream resources stored as content-addressed pieces in S3 or a directory.
A link is BUCKET/ROOTID, optionally prefixed with s3:// or dir:// to pick the backend.

Examples:
  streamdl piece s3://media/3f2a9c... --profile media
  streamdl piece media/3f2a9c... --backend dir --root ./pieces -o movie.mp4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := outputPath
			if len(args) > 1 {
				op = ""
			}
			jobs := make([]utils.StreamJob, 0, len(args))
			for _, link := range args {
				job := newJob("piece", link, op)
				applyPieceScheme(&job)
				jobs = append(jobs, job)
			}
			return scheduler.Run(cmd.Context(), jobs, cfg.Workers)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (single link only)")
	cmd.AddCommand(newPackCmd())
	return cmd
}

func newPackCmd() *cobra.Command {
	var bucket string
	var pieceSize string

	cmd := &cobra.Command{
		Use:   "pack [FILE] --bucket BUCKET",
		Short: "Split a file into pieces and print its root id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := utils.ParseSize(pieceSize)
			if err != nil {
				return fmt.Errorf("invalid piece size: %v", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening file: %v", err)
			}
			defer f.Close()
			backend, err := storage.Dial(cmd.Context(), cfg.PieceSource())
			if err != nil {
				return err
			}
			output.PrintInfo(fmt.Sprintf("Packing %s into bucket %s", args[0], bucket))
			rootID, err := storage.PackReader(cmd.Context(), backend, bucket, f, size)
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Packed %s into %s/%s", args[0], bucket, rootID))
			fmt.Println(rootID)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket to store the pieces in")
	cmd.Flags().StringVar(&pieceSize, "piece-size", "1MB", "Size of each piece")
	cmd.MarkFlagRequired("bucket")
	return cmd
}

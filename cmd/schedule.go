package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/streamdl/internal/output"
	"github.com/tanq16/streamdl/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	var current float64
	var rate float64
	var ranges []string

	cmd := &cobra.Command{
		Use:   "schedule --time T --range A-B[,C-D] [--range ...]",
		Short: "Show when the next chunk would be fetched for a playback state",
		Long: `Compute the wait before the next fetch for a playback position and the
buffered ranges of each source. Each --range flag describes one source.

Example:
  streamdl schedule --time 2 --rate 1 --range 0-10 --range 0-6,8-12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := schedule.Snapshot{CurrentTime: current, PlaybackRate: rate}
			for _, r := range ranges {
				source, err := parseRanges(r)
				if err != nil {
					return err
				}
				snap.Sources = append(snap.Sources, source)
			}
			start, end := schedule.Interval(snap)
			if end <= start {
				output.PrintWarning("no buffered range covers the current time in every source")
			}
			output.PrintHeader("Schedule")
			output.PrintDetail(fmt.Sprintf("interval   %.3f - %.3f", start, end))
			output.PrintDetail(fmt.Sprintf("ratio      %.3f", schedule.Ratio(snap)))
			output.PrintDetail(fmt.Sprintf("threshold  %.3f", schedule.Threshold(rate)))
			output.PrintSuccess(fmt.Sprintf("next fetch in %s", schedule.Wait(snap)))
			return nil
		},
	}

	cmd.Flags().Float64Var(&current, "time", 0, "Current playback position in seconds")
	cmd.Flags().Float64Var(&rate, "rate", 1, "Playback rate")
	cmd.Flags().StringArrayVar(&ranges, "range", []string{}, "Buffered ranges of one source (eg. 0-10,12-20)")
	return cmd
}

// parseRanges reads "a-b,c-d" into time ranges ordered as given.
func parseRanges(s string) ([]schedule.TimeRange, error) {
	var out []schedule.TimeRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, b, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("invalid range %q, expected START-END", part)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range start %q: %v", a, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q: %v", b, err)
		}
		if end < start {
			return nil, fmt.Errorf("invalid range %q, end before start", part)
		}
		out = append(out, schedule.TimeRange{Start: start, End: end})
	}
	return out, nil
}

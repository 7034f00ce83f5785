package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tanq16/streamdl/internal/utils"
	"golang.org/x/term"
)

// ProgressBar renders a bar for current out of total. An unknown total
// renders an empty bar with no percentage.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total < 0 {
		return debugStyle.Render(StyleSymbols["bullet"] + strings.Repeat(" ", width) + StyleSymbols["bullet"] + " ?% " + StyleSymbols["bullet"] + " ")
	}
	if total == 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// ProgressText describes a running session: bytes, rate, next wait and, when
// paced by a player, the playhead against the buffer.
func ProgressText(p utils.Progress) string {
	parts := []string{utils.FormatBytes(uint64(max(p.Downloaded, 0)))}
	if p.Total >= 0 {
		parts[0] += " / " + utils.FormatBytes(uint64(p.Total))
	}
	parts = append(parts, utils.FormatSpeed(int64(p.Throughput), 1))
	if p.Wait > 0 {
		parts = append(parts, "next in "+p.Wait.Round(time.Millisecond).String())
	}
	if p.Buffered > 0 {
		parts = append(parts, fmt.Sprintf("play %.1fs/%.1fs", p.Position, p.Buffered))
	}
	return strings.Join(parts, " "+StyleSymbols["bullet"]+" ")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24 // Default fallback height
	}
	return height
}

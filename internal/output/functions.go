package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatBytes converts bytes to human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed calculates and formats download speed
func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	return FormatBytes(uint64(float64(bytes)/elapsed)) + "/s"
}

// Line is one finished download as shown in the summary.
type Line struct {
	ID         string
	URL        string
	OutputPath string
	Method     string // "sliced", "plain" or "cache"
	Bytes      int64
	Slices     int
	FromCache  uint64
	Elapsed    time.Duration
	Err        error
}

// RenderSummary writes one styled line per download followed by a totals line.
func RenderSummary(w io.Writer, lines []Line) {
	var ok, failed int
	var total int64
	for _, l := range lines {
		if l.Err != nil {
			failed++
			fmt.Fprintf(w, "%s %s %s\n", FError(StyleSymbols["fail"]), l.URL, FError(l.Err.Error()))
			continue
		}
		ok++
		total += l.Bytes
		detail := fmt.Sprintf("%s %s %s", FormatBytes(uint64(l.Bytes)), StyleSymbols["bullet"], FormatSpeed(l.Bytes, l.Elapsed.Seconds()))
		if l.Slices > 1 {
			detail += fmt.Sprintf(" %s %d slices", StyleSymbols["bullet"], l.Slices)
		}
		if l.FromCache > 0 {
			detail += fmt.Sprintf(" (%d cached)", l.FromCache)
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n", FSuccess(StyleSymbols["pass"]), l.OutputPath, FDebug(StyleSymbols["arrow"]), FDetail(l.Method), FDebug(detail))
	}
	fmt.Fprintln(w, FDebug(strings.Repeat(StyleSymbols["hline"], 40)))
	summary := fmt.Sprintf("%d completed, %d failed, %s total", ok, failed, FormatBytes(uint64(total)))
	if failed > 0 {
		fmt.Fprintln(w, FWarning(summary))
		return
	}
	fmt.Fprintln(w, FSuccess(summary))
}

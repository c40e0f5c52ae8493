package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/deckexplain/internal/status"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusColor(s string) string {
	switch s {
	case status.Done:
		return colorize(colorGreen, s)
	case status.Failed:
		return colorize(colorRed, s)
	case status.Pending:
		return colorize(colorYellow, s)
	default:
		return s
	}
}

// printReport renders a report for humans. Metadata goes to stderr through
// printStatus; slide explanations go to w.
func printReport(w io.Writer, rep status.Report) {
	if rep.IsNotFound() {
		printWarning("Upload not found")
		return
	}

	printStatus("Status", "%s", statusColor(rep.Status))
	if rep.Filename != "" {
		printStatus("File", "%s", rep.Filename)
	}
	if rep.Timestamp != "" {
		printStatus("Uploaded", "%s", rep.Timestamp)
	}
	if rep.FinishTime != "" {
		printStatus("Finished", "%s", rep.FinishTime)
	}
	if rep.Error != "" {
		printStatus("Error", "%s", rep.Error)
	}

	if !rep.IsDone() {
		return
	}
	if len(rep.Explanation) == 0 {
		printWarning("No slide explanations available")
		return
	}
	for _, e := range rep.Explanation {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, fmt.Sprintf("Slide %d", e.SlideNumber)))
		if e.Explanation == "" {
			fmt.Fprintln(w, "  (no explanation)")
			continue
		}
		fmt.Fprintf(w, "  %s\n", e.Explanation)
	}
}

package logger

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Logger receives every transfer decision and observational event from
// the engine. Injected so tests capture events instead of parsing text.
type Logger interface {
	// Skip reports that a destination already matches the remote size.
	Skip(path string, size int64)
	// Fetch reports a fresh download. size is negative when unknown.
	Fetch(path string, size int64)
	// Resume reports a resumed download from existing bytes.
	Resume(path string, existing, total int64)
	// Progress reports cumulative bytes written for a transfer in flight.
	Progress(label string, written, expected int64)
	// Mismatch warns that a local file is larger than the remote reports,
	// just before it is destructively overwritten.
	Mismatch(path string, existing, expected int64)
	// NotFound reports a missing remote path or album; the run continues.
	NotFound(what string)
	// Error reports a failed operation on one item.
	Error(operation, path string, err error)
	// Info reports run-level messages.
	Info(format string, args ...interface{})
}

// SyncLogger writes decisions to Out and errors to Err in the flat
// one-line-per-item format of the CLI.
type SyncLogger struct {
	Quiet bool
	Out   io.Writer
	Err   io.Writer
}

func NewSyncLogger(quiet bool) *SyncLogger {
	return &SyncLogger{
		Quiet: quiet,
		Out:   os.Stdout,
		Err:   os.Stderr,
	}
}

func (l *SyncLogger) Skip(path string, size int64) {
	if !l.Quiet {
		fmt.Fprintf(l.Out, "[skip  ] %s (size matches, %d bytes)\n", path, size)
	}
}

func (l *SyncLogger) Fetch(path string, size int64) {
	if l.Quiet {
		return
	}
	if size < 0 {
		fmt.Fprintf(l.Out, "[get   ] %s (size unknown)\n", path)
		return
	}
	fmt.Fprintf(l.Out, "[get   ] %s (%d bytes)\n", path, size)
}

func (l *SyncLogger) Resume(path string, existing, total int64) {
	if !l.Quiet {
		fmt.Fprintf(l.Out, "[resume] %s (%d/%d bytes)\n", path, existing, total)
	}
}

func (l *SyncLogger) Progress(label string, written, expected int64) {
	if !l.Quiet {
		pct := float64(written) / float64(expected) * 100
		fmt.Fprintf(l.Out, "  %s: %d/%d bytes (%.1f%%)\n", label, written, expected, pct)
	}
}

func (l *SyncLogger) Mismatch(path string, existing, expected int64) {
	fmt.Fprintf(l.Err, "WARNING: %s: local size %d exceeds remote size %d; downloading fresh\n", path, existing, expected)
}

func (l *SyncLogger) NotFound(what string) {
	fmt.Fprintf(l.Err, "Not found: %s\n", what)
}

func (l *SyncLogger) Error(operation, path string, err error) {
	fmt.Fprintf(l.Err, "ERROR: %s %s: %v\n", operation, path, err)
}

func (l *SyncLogger) Info(format string, args ...interface{}) {
	if !l.Quiet {
		fmt.Fprintf(l.Out, format+"\n", args...)
	}
}

// PrintSummary prints the end-of-run totals.
func (l *SyncLogger) PrintSummary(fetched, resumed, skipped, failed int64, bytesWritten int64, duration time.Duration) {
	if l.Quiet && failed == 0 {
		return
	}
	fmt.Fprintln(l.Out)
	fmt.Fprintln(l.Out, "=== Summary ===")
	fmt.Fprintf(l.Out, "Fetched: %d files (%s)\n", fetched, formatBytes(bytesWritten))
	fmt.Fprintf(l.Out, "Resumed: %d files\n", resumed)
	fmt.Fprintf(l.Out, "Skipped: %d files\n", skipped)
	if failed > 0 {
		fmt.Fprintf(l.Out, "Failed: %d files\n", failed)
	}
	fmt.Fprintf(l.Out, "Duration: %s\n", duration.Round(time.Millisecond))
}

// formatBytes formats bytes in human readable form.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// NullLogger discards everything.
type NullLogger struct{}

func (l *NullLogger) Skip(path string, size int64)                   {}
func (l *NullLogger) Fetch(path string, size int64)                  {}
func (l *NullLogger) Resume(path string, existing, total int64)      {}
func (l *NullLogger) Progress(label string, written, expected int64) {}
func (l *NullLogger) Mismatch(path string, existing, expected int64) {}
func (l *NullLogger) NotFound(what string)                           {}
func (l *NullLogger) Error(operation, path string, err error)        {}
func (l *NullLogger) Info(format string, args ...interface{})        {}

package executor

import (
	"fmt"
	"io"
	"os"

	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
)

const (
	chunkSize = 1 << 20 // one block in flight

	// Progress cadence: at most ~20 reports per file, at least 1MB apart.
	maxProgressReports = 20
	minProgressStep    = 1_000_000
)

type writeMode int

const (
	modeTruncate writeMode = iota
	modeAppend
)

func (m writeMode) flags() int {
	if m == modeAppend {
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
}

// streamRequest describes one stream-to-disk operation.
type streamRequest struct {
	destPath    string
	mode        writeMode
	body        io.Reader
	startOffset int64  // bytes already on disk before this call
	expected    *int64 // nil when the remote size is unknown
	label       string
	progress    bool
}

// writeStream copies body to destPath one chunk at a time and returns the
// cumulative byte count, including startOffset, so percentages stay correct
// under resume. The file handle is closed on every exit path. Write
// failures are returned as-is and abort the run upstream; read failures
// are returned as *TransferError so the caller can move on to the next
// item.
func writeStream(req streamRequest, log logger.Logger) (int64, error) {
	out, err := os.OpenFile(req.destPath, req.mode.flags(), 0644)
	if err != nil {
		return req.startOffset, fmt.Errorf("open %s: %w", req.destPath, err)
	}
	defer out.Close()

	written := req.startOffset

	var step, nextReport int64
	if req.progress && req.expected != nil && *req.expected > 0 {
		step = *req.expected / maxProgressReports
		if step < minProgressStep {
			step = minProgressStep
		}
		nextReport = req.startOffset + step
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := req.body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write %s: %w", req.destPath, werr)
			}
			written += int64(n)
			if step > 0 && written >= nextReport {
				log.Progress(req.label, written, *req.expected)
				nextReport += step
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, &TransferError{Path: req.destPath, Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", req.destPath, err)
	}
	return written, nil
}

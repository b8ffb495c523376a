// Package planner decides, per item, whether a transfer can be skipped,
// must start fresh, or can resume from bytes already on disk.
package planner

import (
	"fmt"
	"os"
)

// Make stats destPath and applies the decision table:
//
//  1. destination exists, expected size known and equal -> skip
//  2. resume enabled, destination exists, expected size known,
//     0 < existing < expected -> resume at offset existing
//  3. everything else -> fresh (truncate; destructive when the local
//     file is larger than the remote reports)
//
// An unknown expected size never skips: without a size to compare
// against, the only safe choice is a full re-download.
func Make(destPath string, expectedSize *int64, resumeEnabled bool) (Plan, error) {
	var existing int64
	exists := false
	fi, err := os.Stat(destPath)
	switch {
	case err == nil:
		existing = fi.Size()
		exists = true
	case os.IsNotExist(err):
	default:
		return Plan{}, fmt.Errorf("stat %s: %w", destPath, err)
	}

	p := Plan{
		DestPath:     destPath,
		ExistingSize: existing,
		ExpectedSize: expectedSize,
	}

	switch {
	case exists && expectedSize != nil && existing == *expectedSize:
		p.Decision = DecisionSkip
		p.Reason = "size matches"
	case resumeEnabled && exists && expectedSize != nil && existing > 0 && existing < *expectedSize:
		p.Decision = DecisionResume
		p.Offset = existing
		p.Reason = "partial file"
	default:
		p.Decision = DecisionFresh
		switch {
		case !exists:
			p.Reason = "new file"
		case expectedSize == nil:
			p.Reason = "remote size unknown"
		case existing > *expectedSize:
			p.Reason = fmt.Sprintf("local larger than remote (%d > %d)", existing, *expectedSize)
		default:
			p.Reason = "size differs"
		}
	}

	return p, nil
}

package planner

// Decision is the per-item transfer decision.
type Decision string

const (
	DecisionSkip   Decision = "skip"
	DecisionFresh  Decision = "fresh"
	DecisionResume Decision = "resume"
)

// Plan records one transfer decision. It is computed immediately before
// a transfer attempt and never persisted.
type Plan struct {
	DestPath     string
	ExistingSize int64 // 0 if the destination does not exist
	ExpectedSize *int64
	Decision     Decision
	Offset       int64 // byte offset to request; nonzero only for resume
	Reason       string
}

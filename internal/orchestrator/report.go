package orchestrator

import (
	"time"

	"github.com/dyluth/murmur/pkg/bus"
	"github.com/dyluth/murmur/pkg/forum"
)

// State is a stage of a run. Runs move through the states in order and
// never go back.
type State string

const (
	StateEnumerating State = "Enumerating"
	StateSelecting   State = "Selecting"
	StateProcessing  State = "Processing"
	StateReporting   State = "Reporting"
	StateDone        State = "Done"
)

// Skip reasons assigned by the engine itself. Guard conditions supply the rest.
const (
	ReasonDryRun    = "dry-run"
	ReasonUnchanged = "unchanged"
	ReasonInvalid   = "invalid"
)

// Report is the end-of-run summary.
type Report struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Candidates int `json:"candidates"`
	Selected   int `json:"selected"`
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	FailuresByKind map[forum.FailureKind]int `json:"failures_by_kind"`
	SkipsByReason  map[string]int            `json:"skips_by_reason"`

	PossiblyIncomplete  bool   `json:"possibly_incomplete"`
	EnumerationError    string `json:"enumeration_error,omitempty"`
	LikelyMisconfigured bool   `json:"likely_misconfigured"`
	IdentityDegraded    bool   `json:"identity_degraded"`
	Cancelled           bool   `json:"cancelled"`
	DryRun              bool   `json:"dry_run"`
}

func newReport(runID, job string, startedAt time.Time, dryRun bool) *Report {
	return &Report{
		RunID:          runID,
		Job:            job,
		StartedAt:      startedAt,
		FailuresByKind: make(map[forum.FailureKind]int),
		SkipsByReason:  make(map[string]int),
		DryRun:         dryRun,
	}
}

func (r *Report) skip(reason string) {
	r.Skipped++
	r.SkipsByReason[reason]++
}

func (r *Report) fail(kind forum.FailureKind) {
	r.Failed++
	r.FailuresByKind[kind]++
}

// Duration returns how long the run took, or zero while it is running.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clean reports whether the run finished without failures, cancellation or
// an incomplete candidate set.
func (r *Report) Clean() bool {
	return r.Failed == 0 && !r.Cancelled && !r.PossiblyIncomplete
}

// Counts returns the counters in their event form.
func (r *Report) Counts() bus.Counts {
	return bus.Counts{
		Candidates: r.Candidates,
		Selected:   r.Selected,
		Attempted:  r.Attempted,
		Succeeded:  r.Succeeded,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
	}
}

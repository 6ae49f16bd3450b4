package reconcile

import (
	"time"

	"farmhand/feature/normalizer"
)

// Failure is one record or page that could not be reconciled.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Batch is one set of canonical records to reconcile, plus the failures
// the producing stage already collected.
type Batch struct {
	// Source labels the producing stage, e.g. "modhub" or "archive".
	Source  string
	Records []*normalizer.CanonicalRecord
	// Failures are carried into the run's audit trail unmodified.
	Failures []Failure
	// StartedAt is when the producing stage began gathering the batch.
	// The run keeps this as its start time so the incremental cutoff never
	// skips entries that changed upstream while the batch was gathered.
	// Zero means the reconcile start.
	StartedAt time.Time
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`

	// Failures holds the first failures of the run, capped by the
	// configured limit. The full list lives in the database.
	Failures []Failure `json:"failures,omitempty"`
}

func (r *Report) addFailure(limit int, f Failure) {
	r.Failed++
	if len(r.Failures) < limit {
		r.Failures = append(r.Failures, f)
	}
}

// Package lifecycle runs the periodic maintenance jobs: pending sweep, auto-cancel, auto-finish
// and reconcile.
package lifecycle

import (
	"context"
	"time"

	"roomsched/internal/metrics"
)

// Item outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeFailed        = "failed"
	OutcomeSkippedLocked = "skipped_locked"
	OutcomeSkipped       = "skipped"
	OutcomeCommitted     = "committed"
	OutcomeRolledBack    = "rolled_back"
)

// Job is one idempotent maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}

// ItemResult is the outcome for one booking or reservation processed by a job.
type ItemResult struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Report summarises one job run.
type Report struct {
	Job       string        `json:"job"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Items     []ItemResult  `json:"items"`
}

func newReport(job string, startedAt time.Time) *Report {
	return &Report{Job: job, StartedAt: startedAt, Items: []ItemResult{}}
}

// add records an item. committed and rolled_back count as succeeded.
func (r *Report) add(id, outcome string, err error) {
	item := ItemResult{ID: id, Outcome: outcome}
	if err != nil {
		item.Error = err.Error()
	}
	r.Items = append(r.Items, item)
	r.Total++

	switch outcome {
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped, OutcomeSkippedLocked:
		r.Skipped++
	default:
		r.Succeeded++
	}
}

// finish stamps the duration and records metrics.
func (r *Report) finish(err error) {
	r.Duration = time.Since(r.StartedAt)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case r.Failed > 0:
		result = "partial"
	}
	metrics.ObserveJobRun(r.Job, result, r.Duration)

	counts := make(map[string]int)
	for _, it := range r.Items {
		counts[it.Outcome]++
	}
	for outcome, n := range counts {
		metrics.AddJobItems(r.Job, outcome, n)
	}
}

package pipeline

import (
	"errors"
	"time"

	"github.com/paulmach/orb"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped-empty"
	StatusFailed    Status = "failed"
)

// Stats accounts for every source row.  Total is always Dropped + Valid.
type Stats struct {
	Total   int            `json:"total"`
	Dropped int            `json:"dropped"`
	Valid   int            `json:"valid"`
	Reasons map[string]int `json:"reasons,omitempty"`
}

func (s *Stats) drop(reason string) {
	s.Total += 1
	s.Dropped += 1
	if s.Reasons == nil {
		s.Reasons = map[string]int{}
	}
	s.Reasons[reason] += 1
}

func (s *Stats) keep() {
	s.Total += 1
	s.Valid += 1
}

// Result is the outcome of converting one dataset.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Kind     Kind          `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Stats    *Stats        `json:"stats,omitempty"`
	Path     string        `json:"path,omitempty"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`

	// Bounds is the extent of the written geometries, nil unless the
	// dataset succeeded.
	Bounds *orb.Bound `json:"-"`

	// Extent repeats Bounds as [xmin, ymin, xmax, ymax].
	Extent []float64 `json:"extent,omitempty"`
}

func (r *Result) finish(err error, start time.Time) {
	r.Duration = time.Since(start)
	if err == nil {
		r.Status = StatusSucceeded
		if r.Bounds != nil {
			r.Extent = []float64{r.Bounds.Left(), r.Bounds.Bottom(), r.Bounds.Right(), r.Bounds.Top()}
		}
		return
	}

	r.Kind = KindOf(err)
	r.Message = err.Error()
	r.Path = ""
	r.Rows = 0
	r.Bounds = nil
	if errors.Is(err, ErrEmptyDataset) {
		r.Status = StatusSkipped
		return
	}
	r.Status = StatusFailed
}

// Lost is the number of source rows that did not make it into the output.
func (r *Result) Lost() int {
	if r.Stats == nil {
		return 0
	}
	if r.Status != StatusSucceeded {
		return r.Stats.Total
	}
	return r.Stats.Dropped
}

// Summary counts the results by status.
type Summary struct {
	Succeeded int   `json:"succeeded"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Rows      int64 `json:"rows"`
	Lost      int   `json:"lost"`
}

func Summarize(results []*Result) *Summary {
	summary := &Summary{}
	for _, result := range results {
		switch result.Status {
		case StatusSucceeded:
			summary.Succeeded += 1
		case StatusSkipped:
			summary.Skipped += 1
		default:
			summary.Failed += 1
		}
		summary.Rows += result.Rows
		summary.Lost += result.Lost()
	}
	return summary
}

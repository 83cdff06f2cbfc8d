package results

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mtf-ensembles/internal/ensemble"
)

// Summary aggregates the valid rows of one parameter, optionally at one
// scan point.
type Summary struct {
	Parameter string  `json:"parameter" yaml:"parameter"`
	ScanValue float64 `json:"scan_value,omitempty" yaml:"scan_value,omitempty"`
	HasScan   bool    `json:"-" yaml:"-"`
	Rows      int     `json:"rows" yaml:"rows"`
	Valid     int     `json:"valid" yaml:"valid"`

	MeanEstimate float64 `json:"mean_estimate" yaml:"mean_estimate"`
	StdEstimate  float64 `json:"std_estimate" yaml:"std_estimate"`
	Bias         float64 `json:"bias" yaml:"bias"`
	PullMean     float64 `json:"pull_mean" yaml:"pull_mean"`
	PullWidth    float64 `json:"pull_width" yaml:"pull_width"`
	// Coverage is the fraction of fits whose interval contains the truth.
	Coverage float64 `json:"coverage" yaml:"coverage"`
}

// Summarize computes bias, pull and coverage per parameter. Calibration
// tables are summarized per scan point, in scan order.
func Summarize(t *ensemble.ResultTable) []Summary {
	var out []Summary
	for _, group := range groupByScan(t) {
		for j, name := range t.ParameterNames {
			s := summarizeParameter(group.rows, j)
			s.Parameter = name
			s.ScanValue = group.value
			s.HasScan = group.scan
			out = append(out, s)
		}
	}
	return out
}

type scanGroup struct {
	value float64
	scan  bool
	rows  []ensemble.ResultRow
}

func groupByScan(t *ensemble.ResultTable) []scanGroup {
	var groups []scanGroup
	for _, r := range t.Rows {
		n := len(groups)
		if n > 0 && groups[n-1].scan == r.HasScan && groups[n-1].value == r.ScanValue {
			groups[n-1].rows = append(groups[n-1].rows, r)
			continue
		}
		groups = append(groups, scanGroup{value: r.ScanValue, scan: r.HasScan, rows: []ensemble.ResultRow{r}})
	}
	return groups
}

func summarizeParameter(rows []ensemble.ResultRow, j int) Summary {
	s := Summary{Rows: len(rows)}

	var est, diff, pulls []float64
	covered := 0
	for _, r := range rows {
		if !r.Valid || j >= len(r.Estimates) || j >= len(r.Generation) {
			continue
		}
		e := r.Estimates[j]
		truth := r.Generation[j]
		est = append(est, e.Value)
		diff = append(diff, e.Value-truth)

		// The pull uses the uncertainty on the side facing the truth.
		sigma := e.ErrHigh
		if e.Value > truth {
			sigma = e.ErrLow
		}
		if sigma > 0 {
			pulls = append(pulls, (e.Value-truth)/sigma)
		}
		if truth >= e.Value-e.ErrLow && truth <= e.Value+e.ErrHigh {
			covered++
		}
	}

	s.Valid = len(est)
	if s.Valid == 0 {
		return s
	}
	s.MeanEstimate, s.StdEstimate = meanStdDev(est)
	s.Bias = floats.Sum(diff) / float64(len(diff))
	if len(pulls) > 0 {
		s.PullMean, s.PullWidth = meanStdDev(pulls)
	}
	s.Coverage = float64(covered) / float64(s.Valid)
	return s
}

func meanStdDev(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

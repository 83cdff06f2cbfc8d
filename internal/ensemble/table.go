package ensemble

import (
	"math"
	"strconv"
)

// ResultRow is the outcome of one repetition.
type ResultRow struct {
	Index int `json:"index"`
	// Label names the configuration of single-channel/single-systematic analyses.
	Label     string  `json:"label,omitempty"`
	ScanValue float64 `json:"scan_value"`
	HasScan   bool    `json:"has_scan"`
	// Generation is the truth the pseudo-data was drawn from.
	Generation []float64 `json:"generation"`
	// Estimates follows the table's ParameterNames order.
	Estimates []Estimate `json:"estimates"`
	// ChannelEvents is the total pseudo-data content per channel.
	ChannelEvents []float64 `json:"channel_events"`
	LogLikelihood float64   `json:"log_likelihood"`
	PValue        float64   `json:"p_value"`
	Status        FitStatus `json:"status"`
	Mode          FitMode   `json:"mode"`
	Valid         bool      `json:"valid"`
}

// ResultTable collects one row per repetition, in generation order.
type ResultTable struct {
	RunID          string      `json:"run_id"`
	Seed           uint64      `json:"seed"`
	Options        string      `json:"options,omitempty"`
	ParameterNames []string    `json:"parameter_names"`
	ChannelNames   []string    `json:"channel_names"`
	ScanParameter  string      `json:"scan_parameter,omitempty"`
	Rows           []ResultRow `json:"rows"`
}

// Len returns the number of rows.
func (t *ResultTable) Len() int {
	return len(t.Rows)
}

// ValidCount returns the number of rows whose fit succeeded.
func (t *ResultTable) ValidCount() int {
	n := 0
	for _, r := range t.Rows {
		if r.Valid {
			n++
		}
	}
	return n
}

// ParameterIndex returns the column index of the named parameter, or -1.
func (t *ResultTable) ParameterIndex(name string) int {
	for i, n := range t.ParameterNames {
		if n == name {
			return i
		}
	}
	return -1
}

func (t *ResultTable) hasLabels() bool {
	for _, r := range t.Rows {
		if r.Label != "" {
			return true
		}
	}
	return false
}

// Columns returns the flat column layout used by tabular writers. The
// layout grows with the number of parameters and channels.
func (t *ResultTable) Columns() []string {
	cols := []string{"index"}
	if t.hasLabels() {
		cols = append(cols, "label")
	}
	if t.ScanParameter != "" {
		cols = append(cols, "scan_"+t.ScanParameter)
	}
	for _, p := range t.ParameterNames {
		cols = append(cols, "gen_"+p)
	}
	for _, p := range t.ParameterNames {
		cols = append(cols, "est_"+p, "err_low_"+p, "err_high_"+p)
	}
	for _, c := range t.ChannelNames {
		cols = append(cols, "nevents_"+c)
	}
	return append(cols, "log_likelihood", "p_value", "status", "valid")
}

// Record renders row i in Columns order.
func (t *ResultTable) Record(i int) []string {
	r := t.Rows[i]
	rec := []string{strconv.Itoa(r.Index)}
	if t.hasLabels() {
		rec = append(rec, r.Label)
	}
	if t.ScanParameter != "" {
		rec = append(rec, formatFloat(r.ScanValue))
	}
	for j := range t.ParameterNames {
		rec = append(rec, formatFloat(valueAt(r.Generation, j)))
	}
	for j := range t.ParameterNames {
		var est Estimate
		if j < len(r.Estimates) {
			est = r.Estimates[j]
		}
		rec = append(rec, formatFloat(est.Value), formatFloat(est.ErrLow), formatFloat(est.ErrHigh))
	}
	for j := range t.ChannelNames {
		rec = append(rec, formatFloat(valueAt(r.ChannelEvents, j)))
	}
	return append(rec,
		formatFloat(r.LogLikelihood),
		formatFloat(r.PValue),
		string(r.Status),
		strconv.FormatBool(r.Valid),
	)
}

// newRow converts a fit outcome into a row. Values that are not finite
// are zeroed and flag the row as a numerical failure, so that rows stay
// serializable.
func newRow(set PseudoDataSet, names []string, out FitOutcome) ResultRow {
	row := ResultRow{
		Index:         set.Index,
		Generation:    set.Parameters,
		Estimates:     make([]Estimate, len(names)),
		ChannelEvents: make([]float64, len(set.Channels)),
		LogLikelihood: out.LogLikelihood,
		PValue:        out.PValue,
		Status:        out.Status,
		Mode:          out.Mode,
	}
	for c, h := range set.Channels {
		row.ChannelEvents[c] = h.Integral()
	}

	finite := true
	complete := true
	for j, name := range names {
		est, ok := out.Estimates[name]
		if !ok {
			complete = false
			continue
		}
		if !isFinite(est.Value) || !isFinite(est.ErrLow) || !isFinite(est.ErrHigh) {
			finite = false
			est = Estimate{}
		}
		row.Estimates[j] = est
	}
	if !isFinite(row.LogLikelihood) {
		row.LogLikelihood = 0
		finite = false
	}
	if !isFinite(row.PValue) {
		row.PValue = 0
		finite = false
	}
	if !finite || !complete {
		row.Status = StatusNumericalFailure
	}
	if row.Status == "" {
		row.Status = StatusNotConverged
	}
	row.Valid = row.Status == StatusConverged
	return row
}

func valueAt(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

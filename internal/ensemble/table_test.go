package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mtf-ensembles/internal/model"
)

func TestResultTable_Layout(t *testing.T) {
	table := &ResultTable{
		ParameterNames: []string{"bkg", "sig"},
		ChannelNames:   []string{"ch"},
		ScanParameter:  "sig",
		Rows: []ResultRow{{
			Index:         0,
			ScanValue:     2.5,
			HasScan:       true,
			Generation:    []float64{100, 2.5},
			Estimates:     []Estimate{{Value: 99, ErrLow: 10, ErrHigh: 11}, {Value: 3, ErrLow: 1, ErrHigh: 1.5}},
			ChannelEvents: []float64{104},
			LogLikelihood: -12.5,
			PValue:        0.25,
			Status:        StatusConverged,
			Valid:         true,
		}},
	}

	assert.Equal(t, []string{
		"index", "scan_sig",
		"gen_bkg", "gen_sig",
		"est_bkg", "err_low_bkg", "err_high_bkg",
		"est_sig", "err_low_sig", "err_high_sig",
		"nevents_ch",
		"log_likelihood", "p_value", "status", "valid",
	}, table.Columns())

	assert.Equal(t, []string{
		"0", "2.5",
		"100", "2.5",
		"99", "10", "11",
		"3", "1", "1.5",
		"104",
		"-12.5", "0.25", "converged", "true",
	}, table.Record(0))

	assert.Equal(t, 1, table.ParameterIndex("sig"))
	assert.Equal(t, -1, table.ParameterIndex("nope"))
}

func TestNewRow(t *testing.T) {
	set := PseudoDataSet{
		Index:      3,
		Parameters: []float64{1, 2},
		Channels:   []model.Histogram{model.NewHistogram([]float64{4, 5})},
	}
	names := []string{"a", "b"}

	tests := []struct {
		name       string
		out        FitOutcome
		wantStatus FitStatus
	}{
		{
			name:       "converged",
			out:        FitOutcome{Estimates: map[string]Estimate{"a": {}, "b": {}}, Status: StatusConverged},
			wantStatus: StatusConverged,
		},
		{
			name:       "missing estimate",
			out:        FitOutcome{Estimates: map[string]Estimate{"a": {}}, Status: StatusConverged},
			wantStatus: StatusNumericalFailure,
		},
		{
			name:       "infinite p-value",
			out:        FitOutcome{Estimates: map[string]Estimate{"a": {}, "b": {}}, PValue: math.Inf(1), Status: StatusConverged},
			wantStatus: StatusNumericalFailure,
		},
		{
			name:       "empty status",
			out:        FitOutcome{Estimates: map[string]Estimate{"a": {}, "b": {}}},
			wantStatus: StatusNotConverged,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := newRow(set, names, tt.out)
			assert.Equal(t, tt.wantStatus, row.Status)
			assert.Equal(t, tt.wantStatus == StatusConverged, row.Valid)
			assert.Equal(t, 3, row.Index)
			assert.Equal(t, []float64{9}, row.ChannelEvents)
			assert.False(t, math.IsInf(row.PValue, 0))
		})
	}
}

package ensemble

import (
	"context"
	"fmt"
)

// Calibrate scans parameter index over scanValues. At every scan point it
// runs an ensemble test of perPoint repetitions with the truth equal to
// defaults except for the scanned parameter. Rows are ordered by scan
// point, then by repetition, and carry their scan value.
func (f *Facility) Calibrate(ctx context.Context, defaults []float64, index int, scanValues []float64, perPoint int, opts Options) (*ResultTable, error) {
	if index < 0 || index >= len(defaults) {
		return nil, fmt.Errorf("%w: index %d, parameter vector has %d entries", ErrIndexOutOfRange, index, len(defaults))
	}
	if err := CheckParameters(f.model, defaults); err != nil {
		return nil, err
	}
	if perPoint < 0 {
		return nil, fmt.Errorf("ensemble: negative ensemble count %d", perPoint)
	}
	truths := make([]func(int) ([]float64, error), len(scanValues))
	for p, value := range scanValues {
		params := append([]float64(nil), defaults...)
		params[index] = value
		truth, err := fixedTruth(f.model, params)
		if err != nil {
			return nil, fmt.Errorf("calibration point %g: %w", value, err)
		}
		truths[p] = truth
	}

	// Streams for all points are reserved up front so the layout does not
	// depend on how far a previous attempt got.
	seed, first := f.reserve(len(scanValues) * perPoint)
	logger := f.logger()

	table := newTable(f.model, seed, opts)
	table.ScanParameter = table.ParameterNames[index]
	table.Rows = make([]ResultRow, 0, len(scanValues)*perPoint)

	logger.Info().
		Str("run", table.RunID).
		Str("parameter", table.ScanParameter).
		Int("points", len(scanValues)).
		Int("ensembles_per_point", perPoint).
		Msg("Starting calibration")

	for p, value := range scanValues {
		ens := newEnsemble(f.model, NewSampler(seed), opts.Mode, perPoint, first+uint64(p*perPoint), truths[p])

		point, err := f.RunEnsembleTest(ctx, ens, opts)
		if err != nil {
			return nil, fmt.Errorf("calibration point %s=%g: %w", table.ScanParameter, value, err)
		}

		for _, row := range point.Rows {
			row.Index = len(table.Rows)
			row.ScanValue = value
			row.HasScan = true
			table.Rows = append(table.Rows, row)
		}

		logger.Info().
			Float64(table.ScanParameter, value).
			Int("valid", point.ValidCount()).
			Int("rows", point.Len()).
			Msg("Calibration point done")
	}

	return table, nil
}

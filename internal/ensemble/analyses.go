package ensemble

import (
	"context"
	"fmt"

	"mtf-ensembles/internal/model"
)

type configuration struct {
	label    string
	settings FitSettings
}

// AnalyzeChannels fits data once per channel, with only that channel
// active, and finally with all channels combined. Rows are labelled
// "channel:<name>" and "combination".
func (f *Facility) AnalyzeChannels(ctx context.Context, data []model.Histogram, opts Options) (*ResultTable, error) {
	n := len(f.model.Channels)
	configs := make([]configuration, 0, n+1)
	for c, ch := range f.model.Channels {
		active := make([]bool, n)
		active[c] = true
		configs = append(configs, configuration{
			label:    "channel:" + ch.Name,
			settings: FitSettings{IgnoreSystematics: opts.NoSystematics, ActiveChannels: active},
		})
	}
	configs = append(configs, configuration{
		label:    "combination",
		settings: FitSettings{IgnoreSystematics: opts.NoSystematics},
	})
	return f.fitConfigurations(ctx, data, configs, opts)
}

// AnalyzeSystematics fits data without systematics, with each systematic
// alone, and with all systematics. Rows are labelled "nosyst",
// "syst:<name>" and "all".
func (f *Facility) AnalyzeSystematics(ctx context.Context, data []model.Histogram, opts Options) (*ResultTable, error) {
	n := len(f.model.Systematics)
	configs := make([]configuration, 0, n+2)
	configs = append(configs, configuration{
		label:    "nosyst",
		settings: FitSettings{IgnoreSystematics: true},
	})
	for s, sys := range f.model.Systematics {
		active := make([]bool, n)
		active[s] = true
		configs = append(configs, configuration{
			label:    "syst:" + sys.Name,
			settings: FitSettings{ActiveSystematics: active},
		})
	}
	configs = append(configs, configuration{label: "all"})
	return f.fitConfigurations(ctx, data, configs, opts)
}

func (f *Facility) fitConfigurations(ctx context.Context, data []model.Histogram, configs []configuration, opts Options) (*ResultTable, error) {
	if len(data) != len(f.model.Channels) {
		return nil, fmt.Errorf("%w: got %d data histograms for %d channels", ErrDimensionMismatch, len(data), len(f.model.Channels))
	}
	for c, h := range data {
		if h.Len() != f.model.Channels[c].NumBins() {
			return nil, fmt.Errorf("%w: data of channel %q has %d bins, expected %d", ErrDimensionMismatch, f.model.Channels[c].Name, h.Len(), f.model.Channels[c].NumBins())
		}
	}

	engine, err := f.newEngine()
	if err != nil {
		return nil, fmt.Errorf("%w: create engine: %w", ErrEngineFailure, err)
	}

	logger := f.logger()
	table := newTable(f.model, f.Seed(), opts)
	table.Rows = make([]ResultRow, 0, len(configs))

	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set := PseudoDataSet{Index: i, Channels: data}
		row, err := fitOne(ctx, engine, set, table.ParameterNames, cfg.settings, opts.Marginalize, logger)
		if err != nil {
			return nil, fmt.Errorf("analysis %q: %w", cfg.label, err)
		}
		row.Label = cfg.label
		table.Rows = append(table.Rows, row)

		logger.Info().Str("analysis", cfg.label).Str("status", string(row.Status)).Msg("Analysis fit done")
	}
	return table, nil
}

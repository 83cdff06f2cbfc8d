package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mtf-ensembles/internal/metrics"
)

// RunEnsembleTest fits every pseudo-data set of ens with engine, in order,
// and returns one row per set. The engine is reset before every fit.
//
// Rows whose fit did not converge are kept and flagged invalid. An engine
// error aborts the run with ErrEngineFailure and no table. Cancellation of
// ctx is honoured between repetitions only; a fit in progress always
// completes.
func RunEnsembleTest(ctx context.Context, ens *Ensemble, engine FitEngine, opts Options) (*ResultTable, error) {
	return runSequential(ctx, ens, engine, opts, newTable(ens.model, ens.sampler.Seed(), opts), log.Logger)
}

func runSequential(ctx context.Context, ens *Ensemble, engine FitEngine, opts Options, table *ResultTable, logger zerolog.Logger) (*ResultTable, error) {
	table.Rows = make([]ResultRow, 0, ens.Len())
	names := table.ParameterNames
	settings := FitSettings{IgnoreSystematics: opts.NoSystematics}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ensemble test stopped after %d of %d repetitions: %w", len(table.Rows), ens.Len(), err)
		}

		logger.Trace().Int("repetition", ens.next).Msg("Generating pseudo-data")
		set, ok := ens.Next()
		if !ok {
			break
		}

		row, err := fitOne(ctx, engine, set, names, settings, opts.Marginalize, logger)
		if err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, row)
		logger.Trace().Int("repetition", set.Index).Bool("valid", row.Valid).Msg("Collected fit outcome")
	}

	if err := ens.Err(); err != nil {
		return nil, err
	}
	logSummary(logger, table)
	return table, nil
}

type worker struct {
	engine  FitEngine
	sampler *Sampler
}

// runParallel spreads the remaining repetitions of ens over a pool of
// workers. Each worker owns an engine and a sampler; every repetition
// draws from its own stream, so the result equals the sequential one.
func runParallel(ctx context.Context, ens *Ensemble, newEngine EngineFactory, workers int, opts Options, table *ResultTable, logger zerolog.Logger) (*ResultTable, error) {
	first := ens.next
	count := ens.drain()
	names := table.ParameterNames
	settings := FitSettings{IgnoreSystematics: opts.NoSystematics}

	if workers > count {
		workers = max(count, 1)
	}
	pool := make(chan *worker, workers)
	for w := 0; w < workers; w++ {
		engine, err := newEngine()
		if err != nil {
			return nil, fmt.Errorf("%w: create engine: %w", ErrEngineFailure, err)
		}
		pool <- &worker{engine: engine, sampler: NewSampler(ens.sampler.Seed())}
	}

	rows := make([]ResultRow, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < count; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w := <-pool
			defer func() { pool <- w }()

			logger.Trace().Int("repetition", first+i).Msg("Generating pseudo-data")
			set, err := ens.generate(first+i, w.sampler)
			if err != nil {
				return err
			}
			row, err := fitOne(gctx, w.engine, set, names, settings, opts.Marginalize, logger)
			if err != nil {
				return err
			}
			rows[i] = row
			logger.Trace().Int("repetition", set.Index).Bool("valid", row.Valid).Msg("Collected fit outcome")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ensemble test stopped: %w", err)
	}

	table.Rows = rows
	logSummary(logger, table)
	return table, nil
}

// fitOne runs the reset/load/fit cycle for a single pseudo-data set.
func fitOne(ctx context.Context, engine FitEngine, set PseudoDataSet, names []string, settings FitSettings, marginalize bool, logger zerolog.Logger) (ResultRow, error) {
	engine.Reset()
	if s, ok := engine.(Seeder); ok {
		s.Seed(set.Stream)
	}
	if err := engine.LoadData(set); err != nil {
		metrics.EngineFailures.Inc()
		return ResultRow{}, fmt.Errorf("%w: repetition %d: load data: %w", ErrEngineFailure, set.Index, err)
	}

	logger.Trace().Int("repetition", set.Index).Bool("marginalize", marginalize).Msg("Fitting pseudo-data")

	// A started fit is never interrupted.
	fitCtx := context.WithoutCancel(ctx)
	mode := ModePointEstimate
	start := time.Now()
	var out FitOutcome
	var err error
	if marginalize {
		mode = ModeSampling
		out, err = engine.FitBySampling(fitCtx, settings)
	} else {
		out, err = engine.FitPointEstimate(fitCtx, settings)
	}
	metrics.FitDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EngineFailures.Inc()
		return ResultRow{}, fmt.Errorf("%w: repetition %d: %w", ErrEngineFailure, set.Index, err)
	}
	if out.Mode == "" {
		out.Mode = mode
	}

	row := newRow(set, names, out)
	metrics.Repetitions.WithLabelValues(string(row.Status)).Inc()
	if !row.Valid {
		logger.Debug().Int("repetition", set.Index).Str("status", string(row.Status)).Msg("Fit flagged invalid")
	}
	return row, nil
}

func logSummary(logger zerolog.Logger, table *ResultTable) {
	logger.Debug().
		Str("run", table.RunID).
		Int("rows", table.Len()).
		Int("valid", table.ValidCount()).
		Msg("Ensemble test finished")
}

package ensemble

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mtf-ensembles/internal/model"
)

// Config holds the tunables of a Facility.
type Config struct {
	// Seed is the base of every random stream.
	Seed uint64
	// Workers is the number of parallel fit workers; values below 2 run sequentially.
	Workers int
	// LogLevel is the verbosity of diagnostics emitted during ensemble runs.
	LogLevel zerolog.Level
}

// Facility drives ensemble tests and calibrations for one model. It owns
// the random streams and creates fit engines on demand; the engines
// themselves are never shared between concurrent repetitions.
type Facility struct {
	model     *model.Model
	newEngine EngineFactory
	workers   int
	logLevel  zerolog.Level

	mu     sync.Mutex
	seed   uint64
	stream uint64
}

// NewFacility creates a facility for m. newEngine is called once per
// sequential run and once per worker in parallel runs.
func NewFacility(m *model.Model, newEngine EngineFactory, cfg Config) (*Facility, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", model.ErrInvalidModel)
	}
	if newEngine == nil {
		return nil, fmt.Errorf("ensemble: nil engine factory")
	}
	return &Facility{
		model:     m,
		newEngine: newEngine,
		workers:   cfg.Workers,
		logLevel:  cfg.LogLevel,
		seed:      cfg.Seed,
	}, nil
}

// Model returns the model the facility operates on.
func (f *Facility) Model() *model.Model {
	return f.model
}

// Seed returns the current base seed.
func (f *Facility) Seed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seed
}

// SetSeed sets the base seed and rewinds the stream counter, so the next
// operation reproduces the first operation after a previous SetSeed.
func (f *Facility) SetSeed(seed uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seed = seed
	f.stream = 0
}

// SetLogLevel changes the verbosity of ensemble diagnostics.
func (f *Facility) SetLogLevel(level zerolog.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLevel = level
}

// LogLevel returns the verbosity of ensemble diagnostics.
func (f *Facility) LogLevel() zerolog.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logLevel
}

// reserve hands out n consecutive random streams.
func (f *Facility) reserve(n int) (seed, first uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first = f.stream
	f.stream += uint64(n)
	return f.seed, first
}

func (f *Facility) logger() zerolog.Logger {
	f.mu.Lock()
	level := f.logLevel
	f.mu.Unlock()
	return log.Logger.Level(level).With().Str("model", f.model.Name).Logger()
}

func newTable(m *model.Model, seed uint64, opts Options) *ResultTable {
	return &ResultTable{
		RunID:          uuid.NewString(),
		Seed:           seed,
		Options:        opts.String(),
		ParameterNames: m.ParameterNames(),
		ChannelNames:   m.ChannelNames(),
	}
}

// BuildEnsemble generates a single pseudo-data set from params.
func (f *Facility) BuildEnsemble(params []float64, opts Options) ([]model.Histogram, error) {
	ens, err := f.BuildEnsembles(params, 1, opts)
	if err != nil {
		return nil, err
	}
	set, ok := ens.Next()
	if !ok {
		return nil, ens.Err()
	}
	return set.Channels, nil
}

// BuildEnsembles returns count pseudo-data sets generated from the same
// parameter vector. Only the random draws differ between sets.
func (f *Facility) BuildEnsembles(params []float64, count int, opts Options) (*Ensemble, error) {
	if count < 0 {
		return nil, fmt.Errorf("ensemble: negative count %d", count)
	}
	truth, err := fixedTruth(f.model, params)
	if err != nil {
		return nil, err
	}
	seed, first := f.reserve(count)
	return newEnsemble(f.model, NewSampler(seed), opts.Mode, count, first, truth), nil
}

// BuildEnsemblesFromSamples returns count pseudo-data sets, the i-th
// generated from row start+i of samples. The table must hold at least
// start+count rows.
func (f *Facility) BuildEnsemblesFromSamples(samples ParameterSamples, count, start int, opts Options) (*Ensemble, error) {
	if count < 0 {
		return nil, fmt.Errorf("ensemble: negative count %d", count)
	}
	truth, err := sampledTruth(f.model, samples, count, start)
	if err != nil {
		return nil, err
	}
	seed, first := f.reserve(count)
	return newEnsemble(f.model, NewSampler(seed), opts.Mode, count, first, truth), nil
}

// RunEnsembleTest fits every set of ens, sequentially or on the worker
// pool depending on the facility configuration.
func (f *Facility) RunEnsembleTest(ctx context.Context, ens *Ensemble, opts Options) (*ResultTable, error) {
	logger := f.logger()
	table := newTable(f.model, ens.sampler.Seed(), opts)

	logger.Debug().
		Str("run", table.RunID).
		Int("ensembles", ens.Len()).
		Str("options", opts.String()).
		Int("workers", max(f.workers, 1)).
		Msg("Starting ensemble test")

	if f.workers > 1 {
		return runParallel(ctx, ens, f.newEngine, f.workers, opts, table, logger)
	}

	engine, err := f.newEngine()
	if err != nil {
		return nil, fmt.Errorf("%w: create engine: %w", ErrEngineFailure, err)
	}
	return runSequential(ctx, ens, engine, opts, table, logger)
}

// PerformEnsembleTest builds count pseudo-data sets from params and fits them.
func (f *Facility) PerformEnsembleTest(ctx context.Context, params []float64, count int, opts Options) (*ResultTable, error) {
	ens, err := f.BuildEnsembles(params, count, opts)
	if err != nil {
		return nil, err
	}
	return f.RunEnsembleTest(ctx, ens, opts)
}

// PerformEnsembleTestFromSamples builds count pseudo-data sets from rows
// start.. of samples and fits them.
func (f *Facility) PerformEnsembleTestFromSamples(ctx context.Context, samples ParameterSamples, count, start int, opts Options) (*ResultTable, error) {
	ens, err := f.BuildEnsemblesFromSamples(samples, count, start, opts)
	if err != nil {
		return nil, err
	}
	return f.RunEnsembleTest(ctx, ens, opts)
}

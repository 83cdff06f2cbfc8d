package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/fitengine"
	"mtf-ensembles/internal/model"
	"mtf-ensembles/internal/results"
)

func loadModel() (*model.Model, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("no model given: use --model or set MTF_MODEL")
	}
	return model.Load(cfg.ModelPath)
}

func newFacility(m *model.Model) (*ensemble.Facility, error) {
	engineCfg := fitengine.Config{
		MaxIterations: cfg.Engine.MaxIterations,
		Samples:       cfg.Engine.Samples,
		BurnIn:        cfg.Engine.BurnIn,
		Seed:          cfg.Seed,
	}
	return ensemble.NewFacility(m, fitengine.Factory(m, engineCfg), ensemble.Config{
		Seed:     cfg.Seed,
		Workers:  cfg.Workers,
		LogLevel: log.Logger.GetLevel(),
	})
}

// parameterVector returns values, or the model defaults when none are given.
func parameterVector(m *model.Model, values []float64) []float64 {
	if len(values) == 0 {
		return m.Defaults()
	}
	return values
}

// finish saves the table and prints the summaries as YAML.
func finish(out io.Writer, table *ensemble.ResultTable) error {
	path := outputPath
	if path == "" {
		path = filepath.Join(cfg.OutputDir, table.RunID+".csv")
	}
	if err := results.SaveTable(path, table); err != nil {
		return err
	}

	report := struct {
		RunID     string            `yaml:"run_id"`
		Seed      uint64            `yaml:"seed"`
		Output    string            `yaml:"output"`
		Rows      int               `yaml:"rows"`
		Valid     int               `yaml:"valid"`
		Summaries []results.Summary `yaml:"summaries"`
	}{
		RunID:     table.RunID,
		Seed:      table.Seed,
		Output:    path,
		Rows:      table.Len(),
		Valid:     table.ValidCount(),
		Summaries: results.Summarize(table),
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to print summary: %w", err)
	}
	return enc.Close()
}

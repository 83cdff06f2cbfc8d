package mcp

import (
	"context"
	"fmt"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/model"
	"mtf-ensembles/internal/results"
)

// maxInlineSets bounds the pseudo-data returned inline by build_ensemble.
const maxInlineSets = 100

type ModelInput struct {
	ModelPath string `json:"model_path,omitempty" jsonschema:"path of the model description YAML, relative to DATA_PATH; defaults to MTF_MODEL"`
}

type ParameterInfo struct {
	Name  string  `json:"name"`
	Kind  string  `json:"kind"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Start float64 `json:"start"`
}

type ChannelInfo struct {
	Name      string   `json:"name"`
	Bins      int      `json:"bins"`
	Templates []string `json:"templates"`
	HasData   bool     `json:"has_data"`
}

type DescribeOutput struct {
	Name       string          `json:"name"`
	Parameters []ParameterInfo `json:"parameters"`
	Channels   []ChannelInfo   `json:"channels"`
}

type BuildEnsembleInput struct {
	ModelPath  string    `json:"model_path,omitempty" jsonschema:"path of the model description YAML; defaults to MTF_MODEL"`
	Parameters []float64 `json:"parameters,omitempty" jsonschema:"true parameter vector, processes first then systematics; defaults to the model start values"`
	Count      int       `json:"count" jsonschema:"number of pseudo-data sets, at most 100"`
	Options    string    `json:"options,omitempty" jsonschema:"option flags: data, MC, nosyst, mcmc"`
	Seed       *uint64   `json:"seed,omitempty" jsonschema:"random seed; defaults to MTF_SEED"`
}

type ChannelContents struct {
	Name     string    `json:"name"`
	Contents []float64 `json:"contents"`
}

type PseudoData struct {
	Index    int               `json:"index"`
	Channels []ChannelContents `json:"channels"`
}

type BuildEnsembleOutput struct {
	Seed uint64       `json:"seed"`
	Sets []PseudoData `json:"sets"`
}

type RunEnsembleInput struct {
	ModelPath   string    `json:"model_path,omitempty" jsonschema:"path of the model description YAML; defaults to MTF_MODEL"`
	Parameters  []float64 `json:"parameters,omitempty" jsonschema:"true parameter vector; defaults to the model start values"`
	SamplesPath string    `json:"samples_path,omitempty" jsonschema:"CSV of parameter samples with one column per parameter name; replaces parameters"`
	Start       int       `json:"start,omitempty" jsonschema:"first sample row to use"`
	Count       int       `json:"count,omitempty" jsonschema:"number of repetitions; defaults to MTF_ENSEMBLES"`
	Options     string    `json:"options,omitempty" jsonschema:"option flags: data, MC, nosyst, mcmc"`
	Seed        *uint64   `json:"seed,omitempty" jsonschema:"random seed; defaults to MTF_SEED"`
	Output      string    `json:"output,omitempty" jsonschema:"result file (.csv, .jsonl or .json); defaults to <run_id>.jsonl in the output directory"`
}

type CalibrationInput struct {
	ModelPath  string    `json:"model_path,omitempty" jsonschema:"path of the model description YAML; defaults to MTF_MODEL"`
	Parameter  string    `json:"parameter" jsonschema:"name of the scanned parameter"`
	ScanValues []float64 `json:"scan_values" jsonschema:"true values of the scanned parameter"`
	PerPoint   int       `json:"per_point,omitempty" jsonschema:"repetitions per scan value; defaults to MTF_ENSEMBLES"`
	Defaults   []float64 `json:"defaults,omitempty" jsonschema:"values of all other parameters; defaults to the model start values"`
	Options    string    `json:"options,omitempty" jsonschema:"option flags: data, MC, nosyst, mcmc"`
	Seed       *uint64   `json:"seed,omitempty" jsonschema:"random seed; defaults to MTF_SEED"`
	Output     string    `json:"output,omitempty" jsonschema:"result file (.csv, .jsonl or .json)"`
}

type RunOutput struct {
	RunID     string            `json:"run_id"`
	Seed      uint64            `json:"seed"`
	Rows      int               `json:"rows"`
	Valid     int               `json:"valid"`
	Output    string            `json:"output"`
	Summaries []results.Summary `json:"summaries"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "describe_model",
		Description: "List the parameters (in vector order) and channels of a multi-template fit model. Call this first: every other tool takes parameter vectors in this order.",
	}, s.handleDescribeModel)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "build_ensemble",
		Description: "Generate pseudo-data sets from a known parameter vector and return their bin contents. Useful to inspect what the fit will see; does not fit anything.",
	}, s.handleBuildEnsemble)

	sdk.AddTool(s.server, &sdk.Tool{
		Name: "run_ensemble_test",
		Description: "Generate pseudo-data from known truth, fit every set and summarize bias, pull and coverage per parameter. " +
			"The full per-repetition table is written to disk; its path is returned.",
	}, s.handleRunEnsembleTest)

	sdk.AddTool(s.server, &sdk.Tool{
		Name: "run_calibration",
		Description: "Scan one parameter over a list of true values, running an ensemble test at each value with all other parameters fixed. " +
			"Returns per-scan-point summaries; the full table is written to disk.",
	}, s.handleRunCalibration)
}

func (s *Server) handleDescribeModel(ctx context.Context, req *sdk.CallToolRequest, in ModelInput) (*sdk.CallToolResult, DescribeOutput, error) {
	m, err := s.loadModel(in.ModelPath)
	if err != nil {
		return nil, DescribeOutput{}, err
	}
	return nil, describe(m), nil
}

func describe(m *model.Model) DescribeOutput {
	out := DescribeOutput{
		Name:       m.Name,
		Parameters: make([]ParameterInfo, 0, m.NumParameters()),
		Channels:   make([]ChannelInfo, 0, len(m.Channels)),
	}
	for _, p := range m.Parameters() {
		out.Parameters = append(out.Parameters, ParameterInfo{
			Name:  p.Name,
			Kind:  string(p.Kind),
			Min:   p.Min,
			Max:   p.Max,
			Start: p.Start,
		})
	}
	for _, c := range m.Channels {
		info := ChannelInfo{
			Name:      c.Name,
			Bins:      c.NumBins(),
			Templates: make([]string, 0, len(c.Templates)),
			HasData:   c.Data != nil,
		}
		for _, t := range c.Templates {
			info.Templates = append(info.Templates, t.Process)
		}
		out.Channels = append(out.Channels, info)
	}
	return out
}

func (s *Server) handleBuildEnsemble(ctx context.Context, req *sdk.CallToolRequest, in BuildEnsembleInput) (*sdk.CallToolResult, BuildEnsembleOutput, error) {
	if in.Count <= 0 || in.Count > maxInlineSets {
		return nil, BuildEnsembleOutput{}, fmt.Errorf("count must be between 1 and %d", maxInlineSets)
	}
	m, err := s.loadModel(in.ModelPath)
	if err != nil {
		return nil, BuildEnsembleOutput{}, err
	}
	f, err := s.facility(m, in.Seed)
	if err != nil {
		return nil, BuildEnsembleOutput{}, err
	}

	ens, err := f.BuildEnsembles(orDefaults(m, in.Parameters), in.Count, ensemble.ParseOptions(in.Options))
	if err != nil {
		return nil, BuildEnsembleOutput{}, err
	}

	out := BuildEnsembleOutput{Seed: f.Seed(), Sets: make([]PseudoData, 0, in.Count)}
	for _, set := range ens.All() {
		pd := PseudoData{Index: set.Index, Channels: make([]ChannelContents, len(set.Channels))}
		for c, h := range set.Channels {
			pd.Channels[c] = ChannelContents{Name: m.Channels[c].Name, Contents: h.Contents}
		}
		out.Sets = append(out.Sets, pd)
	}
	if err := ens.Err(); err != nil {
		return nil, BuildEnsembleOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleRunEnsembleTest(ctx context.Context, req *sdk.CallToolRequest, in RunEnsembleInput) (*sdk.CallToolResult, RunOutput, error) {
	m, err := s.loadModel(in.ModelPath)
	if err != nil {
		return nil, RunOutput{}, err
	}
	f, err := s.facility(m, in.Seed)
	if err != nil {
		return nil, RunOutput{}, err
	}

	count := in.Count
	if count <= 0 {
		count = s.cfg.Ensembles
	}
	opts := ensemble.ParseOptions(in.Options)

	var table *ensemble.ResultTable
	if in.SamplesPath != "" {
		samples, err := results.LoadSamplesCSV(s.resolve(in.SamplesPath), m.ParameterNames())
		if err != nil {
			return nil, RunOutput{}, err
		}
		table, err = f.PerformEnsembleTestFromSamples(ctx, samples, count, in.Start, opts)
		if err != nil {
			return nil, RunOutput{}, err
		}
	} else {
		table, err = f.PerformEnsembleTest(ctx, orDefaults(m, in.Parameters), count, opts)
		if err != nil {
			return nil, RunOutput{}, err
		}
	}
	out, err := s.finish(table, in.Output)
	return nil, out, err
}

func (s *Server) handleRunCalibration(ctx context.Context, req *sdk.CallToolRequest, in CalibrationInput) (*sdk.CallToolResult, RunOutput, error) {
	m, err := s.loadModel(in.ModelPath)
	if err != nil {
		return nil, RunOutput{}, err
	}
	index := m.ParameterIndex(in.Parameter)
	if index < 0 {
		return nil, RunOutput{}, fmt.Errorf("%w: unknown parameter %q", ensemble.ErrIndexOutOfRange, in.Parameter)
	}
	f, err := s.facility(m, in.Seed)
	if err != nil {
		return nil, RunOutput{}, err
	}

	perPoint := in.PerPoint
	if perPoint <= 0 {
		perPoint = s.cfg.Ensembles
	}
	table, err := f.Calibrate(ctx, orDefaults(m, in.Defaults), index, in.ScanValues, perPoint, ensemble.ParseOptions(in.Options))
	if err != nil {
		return nil, RunOutput{}, err
	}
	out, err := s.finish(table, in.Output)
	return nil, out, err
}

// finish persists the table and summarizes it.
func (s *Server) finish(table *ensemble.ResultTable, output string) (RunOutput, error) {
	if output == "" {
		output = filepath.Join(s.cfg.OutputDir, table.RunID+".jsonl")
	} else {
		output = s.resolve(output)
	}
	if err := results.SaveTable(output, table); err != nil {
		return RunOutput{}, err
	}

	summaries := results.Summarize(table)
	if summaries == nil {
		summaries = []results.Summary{}
	}
	log.Info().Str("run", table.RunID).Int("rows", table.Len()).Int("valid", table.ValidCount()).Msg("Tool run finished")
	return RunOutput{
		RunID:     table.RunID,
		Seed:      table.Seed,
		Rows:      table.Len(),
		Valid:     table.ValidCount(),
		Output:    output,
		Summaries: summaries,
	}, nil
}

func (s *Server) resolve(path string) string {
	if filepath.IsAbs(path) || s.cfg.DataPath == "" {
		return path
	}
	return filepath.Join(s.cfg.DataPath, path)
}

func orDefaults(m *model.Model, params []float64) []float64 {
	if len(params) == 0 {
		return m.Defaults()
	}
	return params
}

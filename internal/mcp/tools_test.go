package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtf-ensembles/internal/config"
	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/model"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	start := 200.0
	m := &model.Model{
		Name: "toy",
		Processes: []model.Process{
			{Name: "background", Min: 0, Max: 500, Start: &start},
			{Name: "signal", Min: 0, Max: 200},
		},
		Channels: []model.Channel{{
			Name:  "mass",
			Edges: []float64{0, 1, 2, 3, 4},
			Templates: []model.Template{
				{Process: "background", Normalize: true, Histogram: model.NewHistogram([]float64{40, 30, 20, 10})},
				{Process: "signal", Normalize: true, Histogram: model.NewHistogram([]float64{0, 5, 10, 5})},
			},
		}},
	}
	require.NoError(t, model.Save(filepath.Join(dir, "toy.yaml"), m))

	cfg := &config.AppConfig{
		DataPath:  dir,
		OutputDir: filepath.Join(dir, "results"),
		ModelPath: "toy.yaml",
		Seed:      5,
		Workers:   1,
		Ensembles: 4,
		Engine:    config.EngineConfig{MaxIterations: 2000, Samples: 300, BurnIn: 100},
	}
	return NewServer(cfg, "test"), dir
}

func TestDescribeModel(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleDescribeModel(context.Background(), nil, ModelInput{})
	require.NoError(t, err)

	assert.Equal(t, "toy", out.Name)
	require.Len(t, out.Parameters, 2)
	assert.Equal(t, ParameterInfo{Name: "background", Kind: "process", Min: 0, Max: 500, Start: 200}, out.Parameters[0])
	assert.Equal(t, 100.0, out.Parameters[1].Start)
	assert.Equal(t, []ChannelInfo{{Name: "mass", Bins: 4, Templates: []string{"background", "signal"}}}, out.Channels)
}

func TestDescribeModel_MissingModel(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.ModelPath = ""

	_, _, err := s.handleDescribeModel(context.Background(), nil, ModelInput{})
	assert.ErrorIs(t, err, errNoModel)

	_, _, err = s.handleDescribeModel(context.Background(), nil, ModelInput{ModelPath: "nope.yaml"})
	assert.Error(t, err)
}

func TestBuildEnsemble(t *testing.T) {
	s, _ := newTestServer(t)
	seed := uint64(42)

	in := BuildEnsembleInput{Parameters: []float64{100, 20}, Count: 3, Seed: &seed}
	_, first, err := s.handleBuildEnsemble(context.Background(), nil, in)
	require.NoError(t, err)
	_, second, err := s.handleBuildEnsemble(context.Background(), nil, in)
	require.NoError(t, err)

	assert.Equal(t, first, second, "each call starts from the seed")
	assert.Equal(t, uint64(42), first.Seed)
	require.Len(t, first.Sets, 3)
	assert.Equal(t, "mass", first.Sets[0].Channels[0].Name)
	assert.Len(t, first.Sets[0].Channels[0].Contents, 4)

	t.Run("data mode returns the expectation", func(t *testing.T) {
		_, out, err := s.handleBuildEnsemble(context.Background(), nil, BuildEnsembleInput{Parameters: []float64{100, 20}, Count: 1, Options: "data"})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{40, 35, 30, 15}, out.Sets[0].Channels[0].Contents, 1e-9)
	})

	t.Run("count bounds", func(t *testing.T) {
		_, _, err := s.handleBuildEnsemble(context.Background(), nil, BuildEnsembleInput{Count: maxInlineSets + 1})
		assert.Error(t, err)
		_, _, err = s.handleBuildEnsemble(context.Background(), nil, BuildEnsembleInput{})
		assert.Error(t, err)
	})

	t.Run("wrong parameter count", func(t *testing.T) {
		_, _, err := s.handleBuildEnsemble(context.Background(), nil, BuildEnsembleInput{Parameters: []float64{1}, Count: 1})
		assert.ErrorIs(t, err, ensemble.ErrDimensionMismatch)
	})
}

func TestRunEnsembleTest(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleRunEnsembleTest(context.Background(), nil, RunEnsembleInput{Options: "data"})
	require.NoError(t, err)

	assert.Equal(t, 4, out.Rows)
	assert.Equal(t, 4, out.Valid)
	assert.FileExists(t, out.Output)
	assert.Equal(t, ".jsonl", filepath.Ext(out.Output))
	require.Len(t, out.Summaries, 2)
	assert.InDelta(t, 200, out.Summaries[0].MeanEstimate, 1)
	assert.InDelta(t, 0, out.Summaries[1].Bias, 1)
}

func TestRunEnsembleTest_FromSamples(t *testing.T) {
	s, dir := newTestServer(t)
	csv := "background,signal\n150,10\n160,20\n170,30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "samples.csv"), []byte(csv), 0644))

	_, out, err := s.handleRunEnsembleTest(context.Background(), nil, RunEnsembleInput{
		SamplesPath: "samples.csv",
		Start:       1,
		Count:       2,
		Output:      "from-samples.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)
	assert.Equal(t, filepath.Join(dir, "from-samples.csv"), out.Output)

	_, _, err = s.handleRunEnsembleTest(context.Background(), nil, RunEnsembleInput{SamplesPath: "samples.csv", Count: 5})
	assert.ErrorIs(t, err, ensemble.ErrInsufficientSamples)
}

func TestRunCalibration(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleRunCalibration(context.Background(), nil, CalibrationInput{
		Parameter:  "signal",
		ScanValues: []float64{10, 50},
		PerPoint:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Rows)
	require.Len(t, out.Summaries, 4)
	assert.Equal(t, 10.0, out.Summaries[0].ScanValue)
	assert.Equal(t, 50.0, out.Summaries[3].ScanValue)

	_, _, err = s.handleRunCalibration(context.Background(), nil, CalibrationInput{Parameter: "mystery", ScanValues: []float64{1}})
	assert.ErrorIs(t, err, ensemble.ErrIndexOutOfRange)
}

func TestServer_ListsToolsOverTransport(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	serverSession, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"describe_model", "build_ensemble", "run_ensemble_test", "run_calibration"}, names)

	call, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "describe_model", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, call.IsError)

	require.NoError(t, session.Close())
	_ = serverSession.Wait()
}

package fitengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/model"
)

func testModel(withSyst bool) *model.Model {
	m := &model.Model{
		Name: "fit-test",
		Processes: []model.Process{
			{Name: "background", Min: 0, Max: 400},
			{Name: "signal", Min: 0, Max: 200},
		},
		Channels: []model.Channel{{
			Name: "ch1",
			Bins: 4,
			Templates: []model.Template{
				{Process: "background", Normalize: true, Histogram: model.NewHistogram([]float64{25, 25, 25, 25})},
				{Process: "signal", Normalize: true, Histogram: model.NewHistogram([]float64{0, 10, 30, 10})},
			},
		}},
	}
	if withSyst {
		m.Systematics = []model.Systematic{{Name: "shape", Min: -3, Max: 3}}
		m.Channels[0].Templates[1].Variations = []model.Variation{{
			Systematic: "shape",
			Up:         model.NewHistogram([]float64{0, 12, 30, 8}),
			Down:       model.NewHistogram([]float64{0, 8, 30, 12}),
		}}
	}
	return m
}

func asimov(t *testing.T, m *model.Model, params []float64) ensemble.PseudoDataSet {
	t.Helper()
	hists, err := ensemble.Combine(m, params)
	require.NoError(t, err)
	return ensemble.PseudoDataSet{Parameters: params, Channels: hists}
}

func TestEngine_FitRequiresData(t *testing.T) {
	e := New(testModel(false), Config{})
	_, err := e.FitPointEstimate(context.Background(), ensemble.FitSettings{})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = e.FitBySampling(context.Background(), ensemble.FitSettings{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEngine_LoadDataValidates(t *testing.T) {
	m := testModel(false)
	e := New(m, Config{})

	tests := []struct {
		name     string
		channels []model.Histogram
	}{
		{"missing channel", nil},
		{"wrong bin count", []model.Histogram{model.NewHistogram([]float64{1, 2, 3})}},
		{"negative content", []model.Histogram{{Contents: []float64{1, -2, 3, 4}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.LoadData(ensemble.PseudoDataSet{Channels: tt.channels})
			assert.Error(t, err)
		})
	}
}

func TestEngine_ResetDropsData(t *testing.T) {
	m := testModel(false)
	e := New(m, Config{})
	require.NoError(t, e.LoadData(asimov(t, m, []float64{100, 50})))

	e.Reset()
	_, err := e.FitPointEstimate(context.Background(), ensemble.FitSettings{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEngine_PointEstimateRecoversTruth(t *testing.T) {
	m := testModel(false)
	e := New(m, Config{})
	require.NoError(t, e.LoadData(asimov(t, m, []float64{100, 50})))

	out, err := e.FitPointEstimate(context.Background(), ensemble.FitSettings{})
	require.NoError(t, err)

	assert.Equal(t, ensemble.StatusConverged, out.Status)
	assert.Equal(t, ensemble.ModePointEstimate, out.Mode)
	assert.InDelta(t, 100, out.Estimates["background"].Value, 0.5)
	assert.InDelta(t, 50, out.Estimates["signal"].Value, 0.5)
	assert.Greater(t, out.Estimates["signal"].ErrLow, 0.0)
	assert.Equal(t, out.Estimates["signal"].ErrLow, out.Estimates["signal"].ErrHigh)
	assert.Greater(t, out.PValue, 0.99)
}

func TestEngine_PointEstimateWithSystematic(t *testing.T) {
	m := testModel(true)
	e := New(m, Config{})
	require.NoError(t, e.LoadData(asimov(t, m, []float64{100, 50, 0})))

	out, err := e.FitPointEstimate(context.Background(), ensemble.FitSettings{})
	require.NoError(t, err)
	assert.Equal(t, ensemble.StatusConverged, out.Status)
	assert.InDelta(t, 0, out.Estimates["shape"].Value, 0.1)
	assert.Greater(t, out.Estimates["shape"].ErrHigh, 0.0)

	t.Run("ignored systematic stays fixed", func(t *testing.T) {
		out, err := e.FitPointEstimate(context.Background(), ensemble.FitSettings{IgnoreSystematics: true})
		require.NoError(t, err)
		assert.Equal(t, ensemble.Estimate{}, out.Estimates["shape"])
		assert.InDelta(t, 50, out.Estimates["signal"].Value, 0.5)
	})
}

func TestEngine_SamplingIsReproducible(t *testing.T) {
	m := testModel(false)
	cfg := Config{Samples: 1500, BurnIn: 300, Seed: 11}
	data := asimov(t, m, []float64{100, 50})

	run := func() ensemble.FitOutcome {
		e := New(m, cfg)
		e.Seed(3)
		require.NoError(t, e.LoadData(data))
		out, err := e.FitBySampling(context.Background(), ensemble.FitSettings{})
		require.NoError(t, err)
		return out
	}

	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.Equal(t, ensemble.ModeSampling, a.Mode)
	assert.Equal(t, ensemble.StatusConverged, a.Status)
	assert.InDelta(t, 50, a.Estimates["signal"].Value, 15)
	assert.Greater(t, a.Estimates["signal"].ErrLow, 0.0)
	assert.Greater(t, a.Estimates["signal"].ErrHigh, 0.0)
}

func TestFactory_CreatesIndependentEngines(t *testing.T) {
	factory := Factory(testModel(false), Config{})
	a, err := factory()
	require.NoError(t, err)
	b, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, ok := a.(ensemble.Seeder)
	assert.True(t, ok)
}

package ensemble

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"mtf-ensembles/internal/model"
)

func TestBuildEnsembles_ReproducibleWithSeed(t *testing.T) {
	m := systModel()
	params := []float64{400, 80, 0.5}

	build := func(f *Facility) []PseudoDataSet {
		ens, err := f.BuildEnsembles(params, 25, Options{})
		require.NoError(t, err)
		return collect(t, ens)
	}

	a := build(newTestFacility(t, m, nil, Config{Seed: 99}))
	b := build(newTestFacility(t, m, nil, Config{Seed: 99}))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed gave different ensembles (-first +second):\n%s", diff)
	}

	t.Run("successive calls advance the streams", func(t *testing.T) {
		f := newTestFacility(t, m, nil, Config{Seed: 99})
		first := build(f)
		second := build(f)
		assert.NotEqual(t, first, second)

		f.SetSeed(99)
		assert.Equal(t, first, build(f))
	})

	t.Run("different seeds differ", func(t *testing.T) {
		c := build(newTestFacility(t, m, nil, Config{Seed: 100}))
		assert.NotEqual(t, a, c)
	})
}

func TestBuildEnsembles_SharesTruth(t *testing.T) {
	m := systModel()
	params := []float64{400, 80, 0.5}
	f := newTestFacility(t, m, nil, Config{Seed: 1})

	ens, err := f.BuildEnsembles(params, 4, Options{})
	require.NoError(t, err)
	sets := collect(t, ens)
	require.Len(t, sets, 4)

	for i, set := range sets {
		assert.Equal(t, i, set.Index)
		assert.Equal(t, params, set.Parameters)
		assert.Len(t, set.Channels, 2)
	}
	params[0] = 0
	assert.Equal(t, 400.0, sets[0].Parameters[0], "truth is copied")
}

func TestBuildEnsembles_DataMode(t *testing.T) {
	m := systModel()
	params := []float64{400, 80, 0.5}
	expected, err := Combine(m, params)
	require.NoError(t, err)

	f := newTestFacility(t, m, nil, Config{Seed: 1})
	ens, err := f.BuildEnsembles(params, 3, Options{Mode: SampleExact})
	require.NoError(t, err)
	for _, set := range collect(t, ens) {
		assert.Equal(t, expected, set.Channels)
	}
}

func TestBuildEnsembles_IsSinglePass(t *testing.T) {
	f := newTestFacility(t, twoBinModel(), nil, Config{Seed: 1})
	ens, err := f.BuildEnsembles([]float64{1}, 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ens.Len())

	_, ok := ens.Next()
	assert.True(t, ok)
	_, ok = ens.Next()
	assert.True(t, ok)
	_, ok = ens.Next()
	assert.False(t, ok)
	assert.NoError(t, ens.Err())
	assert.Empty(t, collect(t, ens))
}

func TestBuildEnsembles_RejectsBadInput(t *testing.T) {
	f := newTestFacility(t, systModel(), nil, Config{})

	_, err := f.BuildEnsembles([]float64{1, 2}, 3, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = f.BuildEnsembles([]float64{1, 2, 0}, -1, Options{})
	assert.Error(t, err)
}

func TestBuildEnsemble_Single(t *testing.T) {
	f := newTestFacility(t, twoBinModel(), nil, Config{Seed: 3})
	got, err := f.BuildEnsemble([]float64{1}, Options{Mode: SampleExact})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float64{10, 20}, got[0].Contents)
}

func sampleTable(rows int) *MatrixSamples {
	data := make([]float64, 0, rows*3)
	for i := 0; i < rows; i++ {
		data = append(data, 100+float64(i), 10+float64(i), 0)
	}
	return NewMatrixSamples(mat.NewDense(rows, 3, data))
}

func TestBuildEnsemblesFromSamples(t *testing.T) {
	m := systModel()
	f := newTestFacility(t, m, nil, Config{Seed: 8})

	ens, err := f.BuildEnsemblesFromSamples(sampleTable(10), 4, 3, Options{})
	require.NoError(t, err)
	sets := collect(t, ens)
	require.Len(t, sets, 4)
	for i, set := range sets {
		assert.Equal(t, []float64{103 + float64(i), 13 + float64(i), 0}, set.Parameters)
	}

	t.Run("exact fit of the table", func(t *testing.T) {
		_, err := f.BuildEnsemblesFromSamples(sampleTable(10), 5, 5, Options{})
		assert.NoError(t, err)
	})
}

func TestBuildEnsemblesFromSamples_Failures(t *testing.T) {
	m := systModel()

	tests := []struct {
		name    string
		samples ParameterSamples
		count   int
		start   int
		want    error
	}{
		{"too few rows", sampleTable(3), 5, 0, ErrInsufficientSamples},
		{"start past end", sampleTable(10), 2, 9, ErrInsufficientSamples},
		{"negative start", sampleTable(10), 2, -1, ErrInsufficientSamples},
		{"empty table", NewMatrixSamples(nil), 1, 0, ErrInsufficientSamples},
		{"wrong width", NewMatrixSamples(mat.NewDense(5, 2, nil)), 2, 0, ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFacility(t, m, nil, Config{Seed: 8})
			ens, err := f.BuildEnsemblesFromSamples(tt.samples, tt.count, tt.start, Options{})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, ens)
		})
	}
}

func TestBuildEnsemblesFromSamples_FailureConsumesNoRandomness(t *testing.T) {
	m := systModel()
	params := []float64{400, 80, 0}

	failed := newTestFacility(t, m, nil, Config{Seed: 21})
	_, err := failed.BuildEnsemblesFromSamples(sampleTable(2), 10, 0, Options{})
	require.ErrorIs(t, err, ErrInsufficientSamples)

	after, err := failed.BuildEnsembles(params, 5, Options{})
	require.NoError(t, err)

	fresh, err := newTestFacility(t, m, nil, Config{Seed: 21}).BuildEnsembles(params, 5, Options{})
	require.NoError(t, err)

	assert.Equal(t, collect(t, fresh), collect(t, after))
}

func TestBuild_BadTemplateBinningConsumesNoRandomness(t *testing.T) {
	m := twoBinModel()
	m.Channels[0].Templates[0].Histogram = model.NewHistogram([]float64{10, 20, 30})
	f := newTestFacility(t, m, nil, Config{Seed: 21})

	ens, err := f.BuildEnsembles([]float64{1}, 5, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Nil(t, ens)

	samples := NewMatrixSamples(mat.NewDense(3, 1, []float64{1, 2, 3}))
	_, err = f.BuildEnsemblesFromSamples(samples, 3, 0, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	table, err := f.PerformEnsembleTest(context.Background(), []float64{1}, 3, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Nil(t, table)

	_, err = f.Calibrate(context.Background(), []float64{1}, 0, []float64{1, 2}, 3, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Zero(t, f.stream, "failed builds must not reserve streams")
}

func TestBuild_RejectsNonFiniteTruth(t *testing.T) {
	m := twoBinModel()
	f := newTestFacility(t, m, nil, Config{Seed: 21})

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := f.BuildEnsembles([]float64{v}, 2, Options{})
		assert.ErrorIs(t, err, ErrNonFiniteParameter)
	}

	samples := NewMatrixSamples(mat.NewDense(3, 1, []float64{1, math.NaN(), 3}))
	ens, err := f.BuildEnsemblesFromSamples(samples, 3, 0, Options{})
	assert.ErrorIs(t, err, ErrNonFiniteParameter)
	assert.Nil(t, ens)

	_, err = f.BuildEnsemblesFromSamples(samples, 1, 2, Options{})
	assert.NoError(t, err, "rows outside the requested range are not checked")

	_, err = f.Calibrate(context.Background(), []float64{1}, 0, []float64{1, math.Inf(1)}, 2, Options{})
	assert.ErrorIs(t, err, ErrNonFiniteParameter)

	assert.Equal(t, uint64(1), f.stream)
}

package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const singleChannelYAML = `
name: single-channel
processes:
  - name: background
    min: 200
    max: 400
    start: 300
  - name: signal
    min: 0
    max: 200
systematics:
  - name: jes
    min: -4
    max: 4
channels:
  - name: channel1
    edges: [0, 1, 2, 3]
    data:
      contents: [110, 210, 90]
    templates:
      - process: background
        normalize: true
        histogram:
          contents: [100, 200, 100]
      - process: signal
        efficiency: 0.5
        histogram:
          contents: [10, 20, 10]
          errors: [1, 1, 1]
        variations:
          - systematic: jes
            up:
              contents: [11, 22, 11]
            down:
              contents: [9, 18, 9]
`

func TestParse_SingleChannel(t *testing.T) {
	m, err := Parse([]byte(singleChannelYAML))
	require.NoError(t, err)

	assert.Equal(t, "single-channel", m.Name)
	assert.Equal(t, 3, m.NumParameters())
	assert.Equal(t, []string{"background", "signal", "jes"}, m.ParameterNames())
	assert.Equal(t, []string{"channel1"}, m.ChannelNames())
	assert.Equal(t, 3, m.Channels[0].NumBins())

	// background has an explicit start, signal takes its midpoint, jes is centred.
	assert.Equal(t, []float64{300, 100, 0}, m.Defaults())

	assert.Equal(t, 0, m.ParameterIndex("background"))
	assert.Equal(t, 2, m.ParameterIndex("jes"))
	assert.Equal(t, -1, m.ParameterIndex("missing"))

	assert.Equal(t, 1.0, m.Channels[0].Templates[0].Weight())
	assert.Equal(t, 0.5, m.Channels[0].Templates[1].Weight())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\nprocesess: []\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Model {
		return &Model{
			Processes: []Process{{Name: "sig", Min: 0, Max: 10}},
			Channels: []Channel{{
				Name: "c1",
				Bins: 2,
				Templates: []Template{
					{Process: "sig", Histogram: NewHistogram([]float64{1, 2})},
				},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(m *Model)
		ok     bool
	}{
		{"Valid", func(m *Model) {}, true},
		{"NoProcesses", func(m *Model) { m.Processes = nil }, false},
		{"DuplicateParameter", func(m *Model) {
			m.Systematics = []Systematic{{Name: "sig", Min: -1, Max: 1}}
		}, false},
		{"InvertedRange", func(m *Model) { m.Processes[0].Max = -1 }, false},
		{"UnknownProcess", func(m *Model) { m.Channels[0].Templates[0].Process = "bkg" }, false},
		{"TemplateBinning", func(m *Model) {
			m.Channels[0].Templates[0].Histogram = NewHistogram([]float64{1, 2, 3})
		}, false},
		{"DataBinning", func(m *Model) {
			h := NewHistogram([]float64{1})
			m.Channels[0].Data = &h
		}, false},
		{"UnknownSystematic", func(m *Model) {
			m.Channels[0].Templates[0].Variations = []Variation{{
				Systematic: "jes",
				Up:         NewHistogram([]float64{1, 2}),
				Down:       NewHistogram([]float64{1, 2}),
			}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			err := m.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidModel)
			}
		})
	}
}

func TestHistogramsFromMatrix(t *testing.T) {
	m, err := Parse([]byte(singleChannelYAML))
	require.NoError(t, err)

	hists, err := m.HistogramsFromMatrix([][]float64{{4, 9, 16}})
	require.NoError(t, err)
	require.Len(t, hists, 1)
	assert.Equal(t, []float64{4, 9, 16}, hists[0].Contents)
	assert.Equal(t, []float64{2, 3, 4}, hists[0].Errors)

	_, err = m.HistogramsFromMatrix([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = m.HistogramsFromMatrix(nil)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestObservedData(t *testing.T) {
	m, err := Parse([]byte(singleChannelYAML))
	require.NoError(t, err)

	data, err := m.ObservedData()
	require.NoError(t, err)
	assert.Equal(t, []float64{110, 210, 90}, data[0].Contents)

	// The copy must not alias the model.
	data[0].Contents[0] = 0
	assert.Equal(t, 110.0, m.Channels[0].Data.Contents[0])

	m.Channels[0].Data = nil
	_, err = m.ObservedData()
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestHistogram_IsWeighted(t *testing.T) {
	assert.False(t, NewHistogram([]float64{4, 9}).IsWeighted())
	assert.False(t, Histogram{Contents: []float64{4, 9}}.IsWeighted())
	assert.True(t, Histogram{Contents: []float64{4, 9}, Errors: []float64{1, 1}}.IsWeighted())
}

func TestSaveAndLoad(t *testing.T) {
	m, err := Parse([]byte(singleChannelYAML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "single.yaml")
	require.NoError(t, Save(path, m))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

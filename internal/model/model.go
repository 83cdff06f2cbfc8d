package model

import (
	"errors"
	"fmt"
)

// ErrInvalidModel is returned when a model description is internally inconsistent.
var ErrInvalidModel = errors.New("invalid model")

// Process is a physics process whose yield is a free fit parameter.
type Process struct {
	Name  string   `json:"name" yaml:"name"`
	Min   float64  `json:"min" yaml:"min"`
	Max   float64  `json:"max" yaml:"max"`
	Start *float64 `json:"start,omitempty" yaml:"start,omitempty"`
}

// Systematic is a source of shape uncertainty steered by a nuisance parameter.
type Systematic struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// Variation holds the +1 and -1 sigma shapes of one template for one systematic.
type Variation struct {
	Systematic string    `json:"systematic" yaml:"systematic"`
	Up         Histogram `json:"up" yaml:"up"`
	Down       Histogram `json:"down" yaml:"down"`
}

// Template is the expected shape of one process in one channel.
type Template struct {
	Process    string      `json:"process" yaml:"process"`
	Efficiency float64     `json:"efficiency,omitempty" yaml:"efficiency,omitempty"`
	Normalize  bool        `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	Histogram  Histogram   `json:"histogram" yaml:"histogram"`
	Variations []Variation `json:"variations,omitempty" yaml:"variations,omitempty"`
}

// Weight returns the template efficiency, treating an unset value as 1.
func (t Template) Weight() float64 {
	if t.Efficiency == 0 {
		return 1
	}
	return t.Efficiency
}

// Channel is one independent histogram-fitting sub-problem.
type Channel struct {
	Name      string     `json:"name" yaml:"name"`
	Bins      int        `json:"bins,omitempty" yaml:"bins,omitempty"`
	Edges     []float64  `json:"edges,omitempty" yaml:"edges,omitempty"`
	Data      *Histogram `json:"data,omitempty" yaml:"data,omitempty"`
	Templates []Template `json:"templates" yaml:"templates"`
}

// NumBins returns the reference binning of the channel.
func (c Channel) NumBins() int {
	if len(c.Edges) > 1 {
		return len(c.Edges) - 1
	}
	return c.Bins
}

// ParameterKind distinguishes process yields from nuisance parameters.
type ParameterKind string

const (
	KindProcess    ParameterKind = "process"
	KindSystematic ParameterKind = "systematic"
)

// Parameter is one entry of the fit parameter vector.
type Parameter struct {
	Name  string        `json:"name"`
	Kind  ParameterKind `json:"kind"`
	Min   float64       `json:"min"`
	Max   float64       `json:"max"`
	Start float64       `json:"start"`
}

// Model describes a multi-template fit: processes, systematics and the
// per-channel templates. Parameters are ordered processes first, then
// systematics, each in declaration order.
type Model struct {
	Name        string       `json:"name" yaml:"name"`
	Processes   []Process    `json:"processes" yaml:"processes"`
	Systematics []Systematic `json:"systematics,omitempty" yaml:"systematics,omitempty"`
	Channels    []Channel    `json:"channels" yaml:"channels"`
}

// NumParameters returns the length of the parameter vector.
func (m *Model) NumParameters() int {
	return len(m.Processes) + len(m.Systematics)
}

// Parameters returns the ordered parameter list.
func (m *Model) Parameters() []Parameter {
	params := make([]Parameter, 0, m.NumParameters())
	for _, p := range m.Processes {
		start := (p.Min + p.Max) / 2
		if p.Start != nil {
			start = *p.Start
		}
		params = append(params, Parameter{Name: p.Name, Kind: KindProcess, Min: p.Min, Max: p.Max, Start: start})
	}
	for _, s := range m.Systematics {
		params = append(params, Parameter{Name: s.Name, Kind: KindSystematic, Min: s.Min, Max: s.Max})
	}
	return params
}

// ParameterNames returns the parameter names in vector order.
func (m *Model) ParameterNames() []string {
	params := m.Parameters()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// ChannelNames returns the channel names in declaration order.
func (m *Model) ChannelNames() []string {
	names := make([]string, len(m.Channels))
	for i, c := range m.Channels {
		names[i] = c.Name
	}
	return names
}

// Defaults returns the starting parameter vector.
func (m *Model) Defaults() []float64 {
	params := m.Parameters()
	out := make([]float64, len(params))
	for i, p := range params {
		out[i] = p.Start
	}
	return out
}

// ProcessIndex returns the parameter index of the named process, or -1.
func (m *Model) ProcessIndex(name string) int {
	for i, p := range m.Processes {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// SystematicIndex returns the parameter index of the named systematic, or -1.
func (m *Model) SystematicIndex(name string) int {
	for i, s := range m.Systematics {
		if s.Name == name {
			return len(m.Processes) + i
		}
	}
	return -1
}

// ParameterIndex returns the index of the named parameter, or -1.
func (m *Model) ParameterIndex(name string) int {
	if i := m.ProcessIndex(name); i >= 0 {
		return i
	}
	return m.SystematicIndex(name)
}

// ObservedData returns the data histograms of all channels. It fails if
// any channel has no data attached.
func (m *Model) ObservedData() ([]Histogram, error) {
	out := make([]Histogram, len(m.Channels))
	for i, c := range m.Channels {
		if c.Data == nil {
			return nil, fmt.Errorf("%w: channel %q has no data", ErrInvalidModel, c.Name)
		}
		out[i] = c.Data.Clone()
	}
	return out, nil
}

// HistogramsFromMatrix converts one row of bin contents per channel into
// histograms with Poisson uncertainties.
func (m *Model) HistogramsFromMatrix(rows [][]float64) ([]Histogram, error) {
	if len(rows) != len(m.Channels) {
		return nil, fmt.Errorf("%w: got %d rows for %d channels", ErrInvalidModel, len(rows), len(m.Channels))
	}
	out := make([]Histogram, len(rows))
	for i, row := range rows {
		if len(row) != m.Channels[i].NumBins() {
			return nil, fmt.Errorf("%w: channel %q expects %d bins, got %d", ErrInvalidModel, m.Channels[i].Name, m.Channels[i].NumBins(), len(row))
		}
		out[i] = NewHistogram(row)
	}
	return out, nil
}

// Validate checks names, references and binning.
func (m *Model) Validate() error {
	if len(m.Processes) == 0 {
		return fmt.Errorf("%w: no processes defined", ErrInvalidModel)
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("%w: no channels defined", ErrInvalidModel)
	}

	seen := make(map[string]bool)
	for _, p := range m.Parameters() {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter with empty name", ErrInvalidModel)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidModel, p.Name)
		}
		if p.Max < p.Min {
			return fmt.Errorf("%w: parameter %q has max < min", ErrInvalidModel, p.Name)
		}
		seen[p.Name] = true
	}

	channels := make(map[string]bool)
	for _, c := range m.Channels {
		if channels[c.Name] {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidModel, c.Name)
		}
		channels[c.Name] = true

		nbins := c.NumBins()
		if nbins <= 0 {
			return fmt.Errorf("%w: channel %q has no bins", ErrInvalidModel, c.Name)
		}
		if c.Data != nil && c.Data.Len() != nbins {
			return fmt.Errorf("%w: channel %q data has %d bins, expected %d", ErrInvalidModel, c.Name, c.Data.Len(), nbins)
		}
		for _, t := range c.Templates {
			if m.ProcessIndex(t.Process) < 0 {
				return fmt.Errorf("%w: channel %q references unknown process %q", ErrInvalidModel, c.Name, t.Process)
			}
			if t.Histogram.Len() != nbins {
				return fmt.Errorf("%w: template %s/%s has %d bins, expected %d", ErrInvalidModel, c.Name, t.Process, t.Histogram.Len(), nbins)
			}
			for _, v := range t.Variations {
				if m.SystematicIndex(v.Systematic) < 0 {
					return fmt.Errorf("%w: template %s/%s references unknown systematic %q", ErrInvalidModel, c.Name, t.Process, v.Systematic)
				}
				if v.Up.Len() != nbins || v.Down.Len() != nbins {
					return fmt.Errorf("%w: variation %s of %s/%s has wrong binning", ErrInvalidModel, v.Systematic, c.Name, t.Process)
				}
			}
		}
	}
	return nil
}

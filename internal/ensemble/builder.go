package ensemble

import (
	"fmt"
	"iter"

	"mtf-ensembles/internal/model"
)

// PseudoDataSet is one realized set of histograms, one per channel.
type PseudoDataSet struct {
	// Index is the position of the set within its ensemble.
	Index int
	// Stream is the random stream the set was drawn from.
	Stream uint64
	// Parameters is the truth the set was generated from.
	Parameters []float64
	Channels   []model.Histogram
}

// Ensemble is a lazy, finite, single-pass sequence of pseudo-data sets.
// Each element is generated when requested and never cached.
type Ensemble struct {
	model   *model.Model
	sampler *Sampler
	mode    SampleMode
	count   int
	offset  uint64
	truth   func(i int) ([]float64, error)

	next int
	err  error
}

func newEnsemble(m *model.Model, sampler *Sampler, mode SampleMode, count int, offset uint64, truth func(i int) ([]float64, error)) *Ensemble {
	return &Ensemble{
		model:   m,
		sampler: sampler,
		mode:    mode,
		count:   count,
		offset:  offset,
		truth:   truth,
	}
}

// fixedTruth validates params and returns a generator repeating it.
func fixedTruth(m *model.Model, params []float64) (func(int) ([]float64, error), error) {
	if err := CheckParameters(m, params); err != nil {
		return nil, err
	}
	if err := checkTruth(m, params); err != nil {
		return nil, err
	}
	if err := checkBinning(m); err != nil {
		return nil, err
	}
	fixed := append([]float64(nil), params...)
	return func(int) ([]float64, error) {
		return append([]float64(nil), fixed...), nil
	}, nil
}

// sampledTruth validates the sample table and returns a generator reading
// rows start, start+1, ... .
func sampledTruth(m *model.Model, samples ParameterSamples, count, start int) (func(int) ([]float64, error), error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: negative start index %d", ErrInsufficientSamples, start)
	}
	if samples == nil || samples.Len() < start+count {
		n := 0
		if samples != nil {
			n = samples.Len()
		}
		return nil, fmt.Errorf("%w: need rows [%d, %d), table has %d", ErrInsufficientSamples, start, start+count, n)
	}
	if samples.Width() != m.NumParameters() {
		return nil, fmt.Errorf("%w: samples have %d columns, model %q declares %d parameters", ErrDimensionMismatch, samples.Width(), m.Name, m.NumParameters())
	}
	if err := checkBinning(m); err != nil {
		return nil, err
	}
	for i := start; i < start+count; i++ {
		row, err := samples.Row(i)
		if err != nil {
			return nil, err
		}
		if err := checkTruth(m, row); err != nil {
			return nil, fmt.Errorf("sample row %d: %w", i, err)
		}
	}
	return func(i int) ([]float64, error) {
		return samples.Row(start + i)
	}, nil
}

// Len returns the total number of sets in the ensemble.
func (e *Ensemble) Len() int {
	return e.count
}

// Next generates the next pseudo-data set. It returns false when the
// ensemble is exhausted or generation failed; check Err afterwards.
func (e *Ensemble) Next() (PseudoDataSet, bool) {
	if e.err != nil || e.next >= e.count {
		return PseudoDataSet{}, false
	}
	i := e.next
	e.next++

	set, err := e.generate(i, e.sampler)
	if err != nil {
		e.err = err
		return PseudoDataSet{}, false
	}
	return set, true
}

// Err returns the first generation error, if any.
func (e *Ensemble) Err() error {
	return e.err
}

// All returns an iterator over the remaining sets. Like Next, it consumes
// the ensemble.
func (e *Ensemble) All() iter.Seq2[int, PseudoDataSet] {
	return func(yield func(int, PseudoDataSet) bool) {
		for {
			set, ok := e.Next()
			if !ok || !yield(set.Index, set) {
				return
			}
		}
	}
}

// drain marks every element as consumed and returns how many were left.
func (e *Ensemble) drain() int {
	remaining := e.count - e.next
	e.next = e.count
	return remaining
}

// generate produces element i with the given sampler, positioned on the
// element's own stream.
func (e *Ensemble) generate(i int, sampler *Sampler) (PseudoDataSet, error) {
	params, err := e.truth(i)
	if err != nil {
		return PseudoDataSet{}, err
	}
	if err := CheckParameters(e.model, params); err != nil {
		return PseudoDataSet{}, err
	}

	stream := e.offset + uint64(i)
	sampler.Reseed(stream)
	channels, err := sampler.Generate(e.model, params, e.mode)
	if err != nil {
		return PseudoDataSet{}, err
	}
	return PseudoDataSet{
		Index:      i,
		Stream:     stream,
		Parameters: params,
		Channels:   channels,
	}, nil
}

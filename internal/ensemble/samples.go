package ensemble

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ParameterSamples is a table of parameter vectors, e.g. draws from a
// prior or posterior, used to vary the truth between repetitions.
type ParameterSamples interface {
	// Len returns the number of rows.
	Len() int
	// Width returns the length of each row.
	Width() int
	// Row returns a copy of row i.
	Row(i int) ([]float64, error)
}

// MatrixSamples adapts a dense matrix (one sample per row) to ParameterSamples.
type MatrixSamples struct {
	m *mat.Dense
}

// NewMatrixSamples wraps m. A nil matrix is an empty table.
func NewMatrixSamples(m *mat.Dense) *MatrixSamples {
	return &MatrixSamples{m: m}
}

// Matrix returns the underlying matrix.
func (s *MatrixSamples) Matrix() *mat.Dense {
	return s.m
}

func (s *MatrixSamples) Len() int {
	if s.m == nil {
		return 0
	}
	r, _ := s.m.Dims()
	return r
}

func (s *MatrixSamples) Width() int {
	if s.m == nil {
		return 0
	}
	_, c := s.m.Dims()
	return c
}

func (s *MatrixSamples) Row(i int) ([]float64, error) {
	if i < 0 || i >= s.Len() {
		return nil, fmt.Errorf("%w: row %d of %d", ErrInsufficientSamples, i, s.Len())
	}
	return mat.Row(nil, i, s.m), nil
}

package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"mtf-ensembles/internal/ensemble"
)

// ErrMissingColumn is returned when a sample table lacks a requested parameter.
var ErrMissingColumn = errors.New("missing column")

// ReadSamplesCSV reads a CSV table with a header row and returns the
// columns named by names, in that order, as parameter samples. Extra
// columns are ignored.
func ReadSamplesCSV(r io.Reader, names []string) (*ensemble.MatrixSamples, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty sample table")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	cols := make([]int, len(names))
	for j, name := range names {
		i, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		cols[j] = i
	}

	var data []float64
	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rows+1, err)
		}
		for j, i := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", rows+1, names[j], err)
			}
			data = append(data, v)
		}
		rows++
	}

	if rows == 0 || len(names) == 0 {
		return ensemble.NewMatrixSamples(nil), nil
	}
	return ensemble.NewMatrixSamples(mat.NewDense(rows, len(names), data)), nil
}

// LoadSamplesCSV opens path and reads it with ReadSamplesCSV.
func LoadSamplesCSV(path string, names []string) (*ensemble.MatrixSamples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample table: %w", err)
	}
	defer f.Close()
	return ReadSamplesCSV(f, names)
}

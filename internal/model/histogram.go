package model

import "math"

// Histogram holds binned contents and their per-bin statistical uncertainty.
// Bin edges live on the owning Channel.
type Histogram struct {
	Contents []float64 `json:"contents" yaml:"contents"`
	Errors   []float64 `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewHistogram creates a histogram with Poisson (sqrt N) uncertainties.
func NewHistogram(contents []float64) Histogram {
	h := Histogram{
		Contents: make([]float64, len(contents)),
		Errors:   make([]float64, len(contents)),
	}
	copy(h.Contents, contents)
	for i, c := range contents {
		h.Errors[i] = math.Sqrt(math.Max(c, 0))
	}
	return h
}

// Len returns the number of bins.
func (h Histogram) Len() int {
	return len(h.Contents)
}

// Error returns the uncertainty of bin i, falling back to sqrt(content)
// when no explicit errors were provided.
func (h Histogram) Error(i int) float64 {
	if i < len(h.Errors) {
		return h.Errors[i]
	}
	return math.Sqrt(math.Max(h.Contents[i], 0))
}

// Integral returns the sum of all bin contents.
func (h Histogram) Integral() float64 {
	sum := 0.0
	for _, c := range h.Contents {
		sum += c
	}
	return sum
}

// Clone returns a deep copy.
func (h Histogram) Clone() Histogram {
	out := Histogram{Contents: make([]float64, len(h.Contents))}
	copy(out.Contents, h.Contents)
	if h.Errors != nil {
		out.Errors = make([]float64, len(h.Errors))
		copy(out.Errors, h.Errors)
	}
	return out
}

// IsWeighted reports whether the histogram was filled with weighted
// entries, i.e. whether any bin's squared error differs from its content.
// Unweighted histograms are raw event counts.
func (h Histogram) IsWeighted() bool {
	if len(h.Errors) == 0 {
		return false
	}
	for i, c := range h.Contents {
		if i >= len(h.Errors) {
			break
		}
		e := h.Errors[i]
		if math.Abs(e*e-c) > 1e-9*math.Max(1, math.Abs(c)) {
			return true
		}
	}
	return false
}

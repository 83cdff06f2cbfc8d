package ensemble

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"mtf-ensembles/internal/model"
)

// Sampler turns expectations into pseudo-data. It is not safe for
// concurrent use; parallel workers own one Sampler each.
type Sampler struct {
	seed uint64
	src  *rand.PCG
}

// NewSampler creates a sampler whose streams are derived from seed.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{
		seed: seed,
		src:  rand.NewPCG(seed, 0),
	}
}

// Seed returns the base seed.
func (s *Sampler) Seed() uint64 {
	return s.seed
}

// Reseed positions the sampler at the start of the given stream. Each
// repetition of an ensemble draws from its own stream, so a repetition's
// pseudo-data depends only on the base seed and its stream number.
func (s *Sampler) Reseed(stream uint64) {
	s.src.Seed(s.seed, stream)
}

// Sample realizes one pseudo-data set from an expectation. SampleExact
// returns a copy of the expectation; all other modes draw Poisson counts
// per bin.
func (s *Sampler) Sample(expected []model.Histogram, mode SampleMode) []model.Histogram {
	out := make([]model.Histogram, len(expected))
	for i, h := range expected {
		if mode == SampleExact {
			out[i] = h.Clone()
			continue
		}
		counts := make([]float64, h.Len())
		for b, mu := range h.Contents {
			counts[b] = s.poisson(mu)
		}
		out[i] = model.NewHistogram(counts)
	}
	return out
}

// Generate combines the templates at params and samples the result. In
// SampleTemplates mode the templates are fluctuated within their own
// statistical uncertainty before combination.
func (s *Sampler) Generate(m *model.Model, params []float64, mode SampleMode) ([]model.Histogram, error) {
	var opts []CombineOption
	if mode == SampleTemplates {
		fluctuated := s.fluctuateTemplates(m)
		opts = append(opts, withTemplates(func(c, t int) model.Histogram {
			return fluctuated[c][t]
		}))
	}

	expected, err := Combine(m, params, opts...)
	if err != nil {
		return nil, err
	}
	return s.Sample(expected, mode), nil
}

// fluctuateTemplates draws one realization of every template: Poisson for
// raw event counts, a Gaussian truncated at zero for weighted histograms.
func (s *Sampler) fluctuateTemplates(m *model.Model) [][]model.Histogram {
	out := make([][]model.Histogram, len(m.Channels))
	for c, ch := range m.Channels {
		out[c] = make([]model.Histogram, len(ch.Templates))
		for t, tmpl := range ch.Templates {
			h := tmpl.Histogram
			weighted := h.IsWeighted()
			fl := model.Histogram{
				Contents: make([]float64, h.Len()),
				Errors:   make([]float64, h.Len()),
			}
			for b, content := range h.Contents {
				if weighted {
					fl.Contents[b] = s.gaussian(content, h.Error(b))
				} else {
					fl.Contents[b] = s.poisson(content)
				}
				fl.Errors[b] = h.Error(b)
			}
			out[c][t] = fl
		}
	}
	return out
}

func (s *Sampler) poisson(mu float64) float64 {
	if !(mu > 0) || math.IsInf(mu, 1) {
		return 0
	}
	return distuv.Poisson{Lambda: mu, Src: s.src}.Rand()
}

func (s *Sampler) gaussian(mu, sigma float64) float64 {
	if !(sigma > 0) {
		return math.Max(mu, 0)
	}
	return math.Max(distuv.Normal{Mu: mu, Sigma: sigma, Src: s.src}.Rand(), 0)
}

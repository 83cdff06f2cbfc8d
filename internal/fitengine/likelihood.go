package fitengine

import (
	"math"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/model"
)

// penaltyScale weights the squared distance outside the parameter range.
const penaltyScale = 1e3

// likelihood is the binned Poisson likelihood of one data set, restricted
// to the free parameters of one fit configuration.
type likelihood struct {
	model *model.Model
	data  []model.Histogram

	channels []bool
	// free maps a free-parameter position to its index in the full vector.
	free   []int
	params []model.Parameter
	base   []float64
	opts   []ensemble.CombineOption
}

func newLikelihood(m *model.Model, data []model.Histogram, settings ensemble.FitSettings) *likelihood {
	l := &likelihood{
		model:    m,
		data:     data,
		channels: make([]bool, len(m.Channels)),
		params:   m.Parameters(),
		base:     m.Defaults(),
	}

	for c := range m.Channels {
		l.channels[c] = settings.ActiveChannels == nil || (c < len(settings.ActiveChannels) && settings.ActiveChannels[c])
	}

	systActive := func(s int) bool {
		if settings.IgnoreSystematics {
			return false
		}
		return settings.ActiveSystematics == nil || (s < len(settings.ActiveSystematics) && settings.ActiveSystematics[s])
	}

	used := make([]bool, len(l.params))
	for c, ch := range m.Channels {
		if !l.channels[c] {
			continue
		}
		for _, t := range ch.Templates {
			if idx := m.ProcessIndex(t.Process); idx >= 0 {
				used[idx] = true
			}
			for _, v := range t.Variations {
				idx := m.SystematicIndex(v.Systematic)
				if idx >= 0 && systActive(idx-len(m.Processes)) {
					used[idx] = true
				}
			}
		}
	}

	anySyst := false
	for i, p := range l.params {
		if !used[i] {
			continue
		}
		l.free = append(l.free, i)
		if p.Kind == model.KindSystematic {
			anySyst = true
		}
	}
	if !anySyst {
		l.opts = append(l.opts, ensemble.WithoutSystematics())
	}
	return l
}

// dim returns the number of free parameters.
func (l *likelihood) dim() int {
	return len(l.free)
}

// start returns the free-parameter starting point.
func (l *likelihood) start() []float64 {
	x := make([]float64, len(l.free))
	for i, idx := range l.free {
		x[i] = l.base[idx]
	}
	return x
}

// full expands free parameters into the complete parameter vector.
func (l *likelihood) full(x []float64) []float64 {
	out := append([]float64(nil), l.base...)
	for i, idx := range l.free {
		out[idx] = x[i]
	}
	return out
}

// inBounds reports whether x lies inside the parameter ranges.
func (l *likelihood) inBounds(x []float64) bool {
	for i, idx := range l.free {
		p := l.params[idx]
		if x[i] < p.Min || x[i] > p.Max {
			return false
		}
	}
	return true
}

// clamp moves x into the parameter ranges and returns the squared distance moved.
func (l *likelihood) clamp(x []float64) ([]float64, float64) {
	out := make([]float64, len(x))
	dist := 0.0
	for i, idx := range l.free {
		p := l.params[idx]
		v := math.Min(math.Max(x[i], p.Min), p.Max)
		d := x[i] - v
		dist += d * d
		out[i] = v
	}
	return out, dist
}

// nll returns the negative log-likelihood including the unit-Gaussian
// constraint on nuisance parameters. Outside the parameter ranges the
// value at the nearest in-range point is continued with a quadratic
// penalty so that the minimizer is pulled back.
func (l *likelihood) nll(x []float64) float64 {
	inside, dist := l.clamp(x)
	v := l.nllInside(inside)
	if dist > 0 {
		v += penaltyScale * dist
	}
	return v
}

func (l *likelihood) nllInside(x []float64) float64 {
	expected, err := ensemble.Combine(l.model, l.full(x), l.opts...)
	if err != nil {
		return math.Inf(1)
	}

	sum := 0.0
	for c, h := range expected {
		if !l.channels[c] {
			continue
		}
		for b, nu := range h.Contents {
			n := l.data[c].Contents[b]
			if nu <= 0 {
				if n > 0 {
					return math.Inf(1)
				}
				continue
			}
			lg, _ := math.Lgamma(n + 1)
			sum += nu - n*math.Log(nu) + lg
		}
	}

	for i, idx := range l.free {
		if l.params[idx].Kind == model.KindSystematic {
			sum += 0.5 * x[i] * x[i]
		}
	}
	return sum
}

// logProb is the log posterior density with flat priors on the yields.
func (l *likelihood) logProb(x []float64) float64 {
	if !l.inBounds(x) {
		return math.Inf(-1)
	}
	return -l.nllInside(x)
}

// deviance returns the likelihood-ratio goodness-of-fit statistic against
// the saturated model and the number of active bins.
func (l *likelihood) deviance(x []float64) (float64, int) {
	expected, err := ensemble.Combine(l.model, l.full(x), l.opts...)
	if err != nil {
		return math.NaN(), 0
	}

	d := 0.0
	bins := 0
	for c, h := range expected {
		if !l.channels[c] {
			continue
		}
		for b, nu := range h.Contents {
			bins++
			n := l.data[c].Contents[b]
			if nu <= 0 {
				if n > 0 {
					return math.Inf(1), bins
				}
				continue
			}
			d += nu - n
			if n > 0 {
				d += n * math.Log(n/nu)
			}
		}
	}
	return 2 * d, bins
}

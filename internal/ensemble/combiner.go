package ensemble

import (
	"fmt"
	"math"

	"mtf-ensembles/internal/model"
)

type combineConfig struct {
	noSystematics bool
	// templates optionally replaces the nominal content of template t in channel c.
	templates func(c, t int) model.Histogram
}

// CombineOption tweaks how templates are combined.
type CombineOption func(*combineConfig)

// WithoutSystematics ignores all nuisance parameters.
func WithoutSystematics() CombineOption {
	return func(cfg *combineConfig) { cfg.noSystematics = true }
}

func withTemplates(fn func(c, t int) model.Histogram) CombineOption {
	return func(cfg *combineConfig) { cfg.templates = fn }
}

// CheckParameters verifies that params fits the model's parameter vector.
func CheckParameters(m *model.Model, params []float64) error {
	if len(params) != m.NumParameters() {
		return fmt.Errorf("%w: got %d parameters, model %q declares %d", ErrDimensionMismatch, len(params), m.Name, m.NumParameters())
	}
	return nil
}

// checkTruth rejects truth vectors with NaN or infinite entries. Such a
// vector would otherwise yield empty pseudo-data without an error.
func checkTruth(m *model.Model, params []float64) error {
	names := m.ParameterNames()
	for i, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s = %g", ErrNonFiniteParameter, names[i], v)
		}
	}
	return nil
}

// checkBinning verifies that every template and variation matches the
// binning of its channel and references declared parameters.
func checkBinning(m *model.Model) error {
	for _, ch := range m.Channels {
		nbins := ch.NumBins()
		for _, tmpl := range ch.Templates {
			if tmpl.Histogram.Len() != nbins {
				return fmt.Errorf("%w: template %s/%s has %d bins, channel has %d", ErrDimensionMismatch, ch.Name, tmpl.Process, tmpl.Histogram.Len(), nbins)
			}
			if m.ProcessIndex(tmpl.Process) < 0 {
				return fmt.Errorf("%w: template %s/%s references unknown process", model.ErrInvalidModel, ch.Name, tmpl.Process)
			}
			for _, v := range tmpl.Variations {
				if v.Up.Len() != nbins || v.Down.Len() != nbins {
					return fmt.Errorf("%w: variation %s of %s/%s has wrong binning", ErrDimensionMismatch, v.Systematic, ch.Name, tmpl.Process)
				}
				if m.SystematicIndex(v.Systematic) < 0 {
					return fmt.Errorf("%w: variation references unknown systematic %q", model.ErrInvalidModel, v.Systematic)
				}
			}
		}
	}
	return nil
}

// Combine computes the expected histogram of every channel for the given
// parameter vector.
//
// Each template contributes yield * efficiency * content, where yield is
// the parameter of its process and content is optionally normalized to
// unit area. Systematic variations are interpolated piecewise-linearly per
// bin: a nuisance value d shifts the template by d*(up/nominal-1) for d >= 0
// and by -d*(down/nominal-1) for d < 0. Shifts of several systematics add
// and the resulting scale factor is clipped at zero.
//
// The result is a pure function of its inputs.
func Combine(m *model.Model, params []float64, opts ...CombineOption) ([]model.Histogram, error) {
	var cfg combineConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := CheckParameters(m, params); err != nil {
		return nil, err
	}

	out := make([]model.Histogram, len(m.Channels))
	for ci, ch := range m.Channels {
		nbins := ch.NumBins()
		contents := make([]float64, nbins)
		variances := make([]float64, nbins)

		for ti, tmpl := range ch.Templates {
			hist := tmpl.Histogram
			if cfg.templates != nil {
				hist = cfg.templates(ci, ti)
			}
			if hist.Len() != nbins || tmpl.Histogram.Len() != nbins {
				return nil, fmt.Errorf("%w: template %s/%s has %d bins, channel has %d", ErrDimensionMismatch, ch.Name, tmpl.Process, hist.Len(), nbins)
			}

			pidx := m.ProcessIndex(tmpl.Process)
			if pidx < 0 {
				return nil, fmt.Errorf("%w: template %s/%s references unknown process", model.ErrInvalidModel, ch.Name, tmpl.Process)
			}

			scale := params[pidx] * tmpl.Weight()
			if tmpl.Normalize {
				integral := hist.Integral()
				if integral <= 0 {
					continue
				}
				scale /= integral
			}

			sysIdx := make([]int, len(tmpl.Variations))
			for vi, v := range tmpl.Variations {
				if v.Up.Len() != nbins || v.Down.Len() != nbins {
					return nil, fmt.Errorf("%w: variation %s of %s/%s has wrong binning", ErrDimensionMismatch, v.Systematic, ch.Name, tmpl.Process)
				}
				sysIdx[vi] = m.SystematicIndex(v.Systematic)
				if sysIdx[vi] < 0 {
					return nil, fmt.Errorf("%w: variation references unknown systematic %q", model.ErrInvalidModel, v.Systematic)
				}
			}

			for b := 0; b < nbins; b++ {
				factor := 1.0
				if !cfg.noSystematics {
					nominal := tmpl.Histogram.Contents[b]
					for vi, v := range tmpl.Variations {
						factor += shift(params[sysIdx[vi]], nominal, v.Up.Contents[b], v.Down.Contents[b])
					}
					factor = math.Max(factor, 0)
				}

				w := scale * factor
				contents[b] += w * hist.Contents[b]
				e := w * hist.Error(b)
				variances[b] += e * e
			}
		}

		errs := make([]float64, nbins)
		for b, v := range variances {
			errs[b] = math.Sqrt(v)
		}
		out[ci] = model.Histogram{Contents: contents, Errors: errs}
	}
	return out, nil
}

func shift(delta, nominal, up, down float64) float64 {
	if nominal == 0 {
		return 0
	}
	if delta >= 0 {
		return delta * (up/nominal - 1)
	}
	return -delta * (down/nominal - 1)
}

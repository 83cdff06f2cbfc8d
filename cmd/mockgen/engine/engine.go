package engine

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"mtf-ensembles/internal/model"
)

type GeneratorConfig struct {
	Name       string
	Background string // "flat" or "exponential"
	Channels   int
	Bins       int
	Low, High  float64

	SignalYield     float64
	BackgroundYield float64
	// SignalMean and SignalWidth place the Gaussian peak in units of the axis.
	SignalMean  float64
	SignalWidth float64
	// Slope is the decay constant of the exponential background.
	Slope float64
	// Scale is the relative +-1 sigma shift of the peak position; zero disables the systematic.
	Scale float64

	// WithData attaches a Poisson realization of the true yields to every channel.
	WithData bool
	Seed     uint64
}

// Defaults fills unset fields with a small single-peak model.
func (cfg GeneratorConfig) Defaults() GeneratorConfig {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	if cfg.Background == "" {
		cfg.Background = "exponential"
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bins <= 0 {
		cfg.Bins = 20
	}
	if cfg.High <= cfg.Low {
		cfg.Low, cfg.High = 0, 10
	}
	if cfg.SignalMean == 0 {
		cfg.SignalMean = (cfg.Low + cfg.High) / 2
	}
	if cfg.SignalWidth <= 0 {
		cfg.SignalWidth = (cfg.High - cfg.Low) / 20
	}
	if cfg.Slope <= 0 {
		cfg.Slope = 2 / (cfg.High - cfg.Low)
	}
	if cfg.SignalYield <= 0 {
		cfg.SignalYield = 100
	}
	if cfg.BackgroundYield <= 0 {
		cfg.BackgroundYield = 1000
	}
	return cfg
}

// Generate builds a model with a Gaussian signal over a flat or
// exponential background, optionally with a peak-scale systematic and
// observed data.
func Generate(cfg GeneratorConfig) (*model.Model, error) {
	cfg = cfg.Defaults()
	if cfg.Background != "flat" && cfg.Background != "exponential" {
		return nil, fmt.Errorf("unknown background shape %q", cfg.Background)
	}

	edges := make([]float64, cfg.Bins+1)
	width := (cfg.High - cfg.Low) / float64(cfg.Bins)
	for i := range edges {
		edges[i] = cfg.Low + float64(i)*width
	}

	bkgStart, sigStart := cfg.BackgroundYield, cfg.SignalYield
	m := &model.Model{
		Name: cfg.Name,
		Processes: []model.Process{
			{Name: "background", Min: 0, Max: 3 * cfg.BackgroundYield, Start: &bkgStart},
			{Name: "signal", Min: 0, Max: 3 * cfg.SignalYield, Start: &sigStart},
		},
	}
	if cfg.Scale > 0 {
		m.Systematics = []model.Systematic{{Name: "scale", Min: -5, Max: 5}}
	}

	src := rand.New(rand.NewPCG(cfg.Seed, 0))
	share := 1 / float64(cfg.Channels)

	for c := 0; c < cfg.Channels; c++ {
		bkg := backgroundShape(cfg, edges)
		sig := gaussianShape(edges, cfg.SignalMean, cfg.SignalWidth)

		signal := model.Template{Process: "signal", Efficiency: share, Normalize: true, Histogram: model.NewHistogram(sig)}
		if cfg.Scale > 0 {
			shiftUp := cfg.SignalMean * (1 + cfg.Scale)
			shiftDown := cfg.SignalMean * (1 - cfg.Scale)
			signal.Variations = []model.Variation{{
				Systematic: "scale",
				Up:         model.NewHistogram(gaussianShape(edges, shiftUp, cfg.SignalWidth)),
				Down:       model.NewHistogram(gaussianShape(edges, shiftDown, cfg.SignalWidth)),
			}}
		}

		channel := model.Channel{
			Name:  fmt.Sprintf("channel%d", c+1),
			Edges: edges,
			Templates: []model.Template{
				{Process: "background", Efficiency: share, Normalize: true, Histogram: model.NewHistogram(bkg)},
				signal,
			},
		}

		if cfg.WithData {
			data := make([]float64, cfg.Bins)
			for i := range data {
				mu := share * (cfg.BackgroundYield*bkg[i] + cfg.SignalYield*sig[i])
				if mu > 0 {
					data[i] = distuv.Poisson{Lambda: mu, Src: src}.Rand()
				}
			}
			h := model.NewHistogram(data)
			channel.Data = &h
		}
		m.Channels = append(m.Channels, channel)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the generated model as YAML.
func Save(path string, m *model.Model) error {
	return model.Save(path, m)
}

// backgroundShape returns unit-integral bin fractions of the background.
func backgroundShape(cfg GeneratorConfig, edges []float64) []float64 {
	out := make([]float64, len(edges)-1)
	if cfg.Background == "flat" {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	cdf := func(x float64) float64 { return -math.Exp(-cfg.Slope * (x - cfg.Low)) }
	total := cdf(edges[len(edges)-1]) - cdf(edges[0])
	for i := range out {
		out[i] = (cdf(edges[i+1]) - cdf(edges[i])) / total
	}
	return out
}

// gaussianShape returns the Gaussian bin fractions, renormalized to the axis range.
func gaussianShape(edges []float64, mean, sigma float64) []float64 {
	dist := distuv.Normal{Mu: mean, Sigma: sigma}
	out := make([]float64, len(edges)-1)
	var total float64
	for i := range out {
		out[i] = dist.CDF(edges[i+1]) - dist.CDF(edges[i])
		total += out[i]
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}

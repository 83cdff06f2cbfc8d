package ensemble

import "strings"

// SampleMode selects how pseudo-data is drawn from the expectation.
type SampleMode int

const (
	// SamplePoisson draws every bin from a Poisson distribution around the expectation.
	SamplePoisson SampleMode = iota
	// SampleExact returns the expectation unchanged.
	SampleExact
	// SampleTemplates fluctuates the templates within their statistical
	// uncertainty before combining, then draws Poisson counts.
	SampleTemplates
)

func (m SampleMode) String() string {
	switch m {
	case SampleExact:
		return "data"
	case SampleTemplates:
		return "MC"
	default:
		return "poisson"
	}
}

// Options configures generation and fitting of an ensemble.
type Options struct {
	Mode SampleMode
	// NoSystematics is handed to the fit engine; generation is unaffected.
	NoSystematics bool
	// Marginalize selects sampling-based fits instead of point estimates.
	Marginalize bool
}

// ParseOptions maps the legacy option string ("data", "MC", "nosyst",
// "mcmc", separated by spaces, commas or semicolons) onto Options.
// Unknown tokens are ignored. "data" takes precedence over "MC".
func ParseOptions(s string) Options {
	var opts Options
	var data, mc bool
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t'
	})
	for _, f := range fields {
		switch f {
		case "data":
			data = true
		case "MC":
			mc = true
		case "nosyst":
			opts.NoSystematics = true
		case "mcmc":
			opts.Marginalize = true
		}
	}
	switch {
	case data:
		opts.Mode = SampleExact
	case mc:
		opts.Mode = SampleTemplates
	}
	return opts
}

// String renders the options in the legacy string form.
func (o Options) String() string {
	var parts []string
	switch o.Mode {
	case SampleExact:
		parts = append(parts, "data")
	case SampleTemplates:
		parts = append(parts, "MC")
	}
	if o.NoSystematics {
		parts = append(parts, "nosyst")
	}
	if o.Marginalize {
		parts = append(parts, "mcmc")
	}
	return strings.Join(parts, " ")
}

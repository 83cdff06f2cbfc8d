package ensemble

import "context"

// FitStatus classifies the numerical outcome of one fit.
type FitStatus string

const (
	// StatusConverged marks a fit whose estimates can be used.
	StatusConverged FitStatus = "converged"
	// StatusNotConverged marks a fit that stopped before meeting its convergence criterion.
	StatusNotConverged FitStatus = "not_converged"
	// StatusNumericalFailure marks a fit with non-finite or missing outputs.
	StatusNumericalFailure FitStatus = "numerical_failure"
)

// FitMode records how a fit was obtained.
type FitMode string

const (
	// ModePointEstimate is a likelihood maximization with covariance errors.
	ModePointEstimate FitMode = "point"
	// ModeSampling is a marginalization over posterior samples.
	ModeSampling FitMode = "sampling"
)

// Estimate is a parameter estimate with asymmetric uncertainties.
type Estimate struct {
	Value   float64 `json:"value"`
	ErrLow  float64 `json:"err_low"`
	ErrHigh float64 `json:"err_high"`
}

// FitOutcome is the result of one fit engine invocation.
type FitOutcome struct {
	Estimates     map[string]Estimate `json:"estimates"`
	LogLikelihood float64             `json:"log_likelihood"`
	PValue        float64             `json:"p_value"`
	Status        FitStatus           `json:"status"`
	Mode          FitMode             `json:"mode"`
}

// FitSettings switches parts of the model on or off for one fit. Nil
// slices mean everything is active.
type FitSettings struct {
	IgnoreSystematics bool
	ActiveChannels    []bool
	ActiveSystematics []bool
}

// FitEngine performs fits on one pseudo-data set at a time. An engine is
// stateful and not safe for concurrent use.
//
// Non-convergence is reported through FitOutcome.Status. A returned error
// is a hard fault and aborts the ensemble run.
type FitEngine interface {
	Reset()
	LoadData(data PseudoDataSet) error
	FitPointEstimate(ctx context.Context, settings FitSettings) (FitOutcome, error)
	FitBySampling(ctx context.Context, settings FitSettings) (FitOutcome, error)
}

// Seeder is implemented by engines with internal randomness. The runner
// seeds them with the stream of each pseudo-data set.
type Seeder interface {
	Seed(stream uint64)
}

// EngineFactory creates independent engines for parallel workers.
type EngineFactory func() (FitEngine, error)

package ensemble

import "errors"

var (
	// ErrDimensionMismatch reports a parameter vector or template binning
	// that does not fit the model.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInsufficientSamples reports a parameter sample table with fewer
	// rows than requested.
	ErrInsufficientSamples = errors.New("insufficient parameter samples")

	// ErrNonFiniteParameter reports a truth value that is NaN or infinite.
	ErrNonFiniteParameter = errors.New("non-finite parameter")

	// ErrIndexOutOfRange reports a scan parameter index outside the vector.
	ErrIndexOutOfRange = errors.New("parameter index out of range")

	// ErrEngineFailure reports a hard fault of the fit engine. It aborts the run.
	ErrEngineFailure = errors.New("fit engine failure")
)

package dynamo

import "github.com/pkg/errors"

var (
	// ErrInvalidState indicates a state vector holding NaN or Inf.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrDimensionMismatch indicates mismatched state/system dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// SimulationError wraps an error with the body and time it happened at.
type SimulationError struct {
	Body    string
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return e.Body + ": " + e.Wrapped.Error()
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

package steps

import "errors"

var (
	ErrNegativeSteps = errors.New("steps must not be negative")
	ErrFutureDate    = errors.New("date must not be in the future")
)

package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for the pipeline. Stages classify provider and
// evaluation failures into these so the run controller can decide between
// fail-open, candidate-skipping, and fatal outcomes.
var (
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrSymbolUnknown        = errors.New("symbol unknown")
	ErrIPSSchema            = errors.New("ips schema error")
	ErrBudgetExhausted      = errors.New("provider budget exhausted")
	ErrReasoningUnparseable = errors.New("reasoning response unparseable")
	ErrCancelled            = errors.New("run cancelled")
	ErrInternalInvariant    = errors.New("internal invariant violation")
)

// ErrorKind reduces an error to its taxonomy name for persistence and the
// run's error list. Unrecognized errors report as "Internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderUnavailable):
		return "ProviderUnavailable"
	case errors.Is(err, ErrSymbolUnknown):
		return "SymbolUnknown"
	case errors.Is(err, ErrIPSSchema):
		return "IPSSchemaError"
	case errors.Is(err, ErrBudgetExhausted):
		return "BudgetExhausted"
	case errors.Is(err, ErrReasoningUnparseable):
		return "ReasoningUnparseable"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrInternalInvariant):
		return "InternalInvariantViolation"
	default:
		return "Internal"
	}
}

// Providerf wraps an underlying transport failure as ProviderUnavailable.
func Providerf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProviderUnavailable, fmt.Sprintf(format, args...))
}

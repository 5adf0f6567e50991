// Package invariant reports violated algorithm invariants. A violation is a
// defect in the matching or price decomposition code, never an ordinary
// outcome: it is logged, counted and returned as an error. Builds tagged
// `assertions` panic instead.
package invariant

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/uwol/computational-economy-sub002/internal/metrics"
)

// ErrViolation wraps every reported violation.
var ErrViolation = errors.New("invariant violated")

// Epsilon is the absolute tolerance used by float comparisons in checks.
const Epsilon = 1e-9

// Check returns nil if cond holds. Otherwise it reports the violation of the
// named check and returns an error wrapping ErrViolation.
func Check(cond bool, check string, format string, args ...any) error {
	if cond {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	metrics.InvariantViolations.WithLabelValues(check).Inc()
	slog.Error("invariant violated", "check", check, "detail", msg)
	if panicOnViolation {
		panic(fmt.Sprintf("invariant %s violated: %s", check, msg))
	}
	return fmt.Errorf("%w: %s: %s", ErrViolation, check, msg)
}

// LessOrEqual reports whether a <= b within a tolerance relative to b.
func LessOrEqual(a, b float64) bool {
	tol := Epsilon
	if m := abs(b) * Epsilon; m > tol {
		tol = m
	}
	return a <= b+tol
}

// Close reports whether a and b agree within the relative tolerance.
func Close(a, b float64) bool {
	return LessOrEqual(a, b) && LessOrEqual(b, a)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

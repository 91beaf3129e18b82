// Package fixedpoint solves a cyclic system of equations by forward
// substitution until the combined solution stops changing, and replays the
// adjoint of the converged solution by the reverse fixed-point iteration.
package fixedpoint

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/adjoint-ml/adjoint/fn"
)

var (
	// ErrNotConverged reports a forward or adjoint iteration terminating
	// without meeting the tolerance.
	ErrNotConverged = errors.New("fixedpoint: not converged")
	// ErrDuplicateSolve reports a solution variable owned by more than one
	// equation in the system.
	ErrDuplicateSolve = errors.New("fixedpoint: duplicate solve")
	// ErrInvalidParameters reports an unusable Parameters value.
	ErrInvalidParameters = errors.New("fixedpoint: invalid parameters")
)

// NormSq measures the squared convergence norm of one solution component.
type NormSq func(x fn.Fn) (float64, error)

// L2NormSq is the default convergence norm, the squared l2 norm.
func L2NormSq(x fn.Fn) (float64, error) {
	return x.Inner(x)
}

// Parameters controls the forward and adjoint iterations.
type Parameters struct {
	// AbsoluteTolerance bounds the change norm directly.
	AbsoluteTolerance float64
	// RelativeTolerance bounds the change norm relative to the solution
	// norm. Zero disables the relative criterion.
	RelativeTolerance float64
	// MaximumIterations bounds both iteration counts.
	MaximumIterations int
	// NonzeroInitialGuess keeps the current solution values as the
	// starting point. When false the solution is zeroed first.
	NonzeroInitialGuess bool
	// AdjointNonzeroInitialGuess keeps the current adjoint values as the
	// starting point and seeds the first-pass cross-terms from them.
	AdjointNonzeroInitialGuess bool
	// AdjointEqsIndex0 rotates the within-pass equation order of the
	// adjoint iteration.
	AdjointEqsIndex0 int
}

// DefaultParameters returns the parameters used when callers have no
// preference: nonzero initial guesses and an iteration cap of 1000.
func DefaultParameters() Parameters {
	return Parameters{
		MaximumIterations:          1000,
		NonzeroInitialGuess:        true,
		AdjointNonzeroInitialGuess: true,
	}
}

// Validate reports whether the parameters can drive an iteration.
func (p Parameters) Validate() error {
	if p.AbsoluteTolerance < 0 {
		return fmt.Errorf("%w: negative absolute tolerance", ErrInvalidParameters)
	}
	if p.RelativeTolerance < 0 {
		return fmt.Errorf("%w: negative relative tolerance", ErrInvalidParameters)
	}
	if p.MaximumIterations < 1 {
		return fmt.Errorf("%w: maximum iterations %d", ErrInvalidParameters, p.MaximumIterations)
	}
	return nil
}

type solverConfig struct {
	normSqs    [][]NormSq
	adjNormSqs [][]NormSq
	logger     *slog.Logger
}

// SolverOption configures a Solver.
type SolverOption func(*solverConfig)

// WithNormSqs overrides the forward convergence norms, one per equation per
// solution component.
func WithNormSqs(normSqs [][]NormSq) SolverOption {
	return func(c *solverConfig) { c.normSqs = normSqs }
}

// WithAdjointNormSqs overrides the adjoint convergence norms, one per
// equation per solution component.
func WithAdjointNormSqs(normSqs [][]NormSq) SolverOption {
	return func(c *solverConfig) { c.adjNormSqs = normSqs }
}

// WithLogger sets the logger for per-iteration diagnostics. Defaults to
// slog.Default.
func WithLogger(logger *slog.Logger) SolverOption {
	return func(c *solverConfig) { c.logger = logger }
}

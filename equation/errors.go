package equation

import "errors"

var (
	// ErrNotFunction reports a nil or invalid solution variable.
	ErrNotFunction = errors.New("equation: solution must be a function")
	// ErrNotCheckpointed reports a solution variable that is not recorded
	// on the tape.
	ErrNotCheckpointed = errors.New("equation: solution must be checkpointed")
	// ErrAlias reports an alias used as a solution or dependency.
	ErrAlias = errors.New("equation: alias not permitted")
	// ErrNotDependency reports a solution or non-linear dependency missing
	// from the dependency list.
	ErrNotDependency = errors.New("equation: not a dependency")
	// ErrDuplicateDependency reports a repeated dependency.
	ErrDuplicateDependency = errors.New("equation: duplicate dependency")
	// ErrNotSolution reports an initial-condition dependency that is not a
	// solution component.
	ErrNotSolution = errors.New("equation: not a solution variable")
	// ErrInvalidAdjointType reports an adjoint space type outside
	// {primal, conjugate_dual} or a count mismatch with the solution.
	ErrInvalidAdjointType = errors.New("equation: invalid adjoint type")
	// ErrIndexOutOfBounds reports an invalid dependency index.
	ErrIndexOutOfBounds = errors.New("equation: dependency index out of bounds")
	// ErrReferencesDropped reports use of an equation after
	// DropReferences in a way that needs live values.
	ErrReferencesDropped = errors.New("equation: references dropped")
	// ErrNotImplemented reports an optional operation the concrete
	// equation type does not provide.
	ErrNotImplemented = errors.New("equation: not implemented")
	// ErrNilTangentLinear reports a tangent-linear derivation that
	// produced no equation; derivations must return a ZeroAssignment when
	// the derivative is structurally zero.
	ErrNilTangentLinear = errors.New("equation: tangent linear returned no equation")
)

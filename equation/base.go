package equation

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
)

// Equation is one record on the adjoint tape. The bookkeeping half
// (dependency classification, lifecycle) is usually provided by embedding
// Base; the solve half is type-specific.
type Equation interface {
	// X returns the owned solution variables.
	X() []fn.Fn
	// Dependencies returns every function the residual depends on,
	// a superset of X, unique by identity.
	Dependencies() []fn.Fn
	// NonlinearDependencies returns the dependencies required to
	// linearize the residual, needed again during adjoint and
	// tangent-linear calculations.
	NonlinearDependencies() []fn.Fn
	// InitialConditionDependencies returns the solution components whose
	// current value must be available before a forward solve.
	InitialConditionDependencies() []fn.Fn
	// AdjointInitialConditionDependencies returns the solution components
	// whose value must be available before an adjoint solve.
	AdjointInitialConditionDependencies() []fn.Fn
	// AdjXTypes returns, per solution component, the space type of the
	// adjoint variable relative to the forward variable. Each entry is
	// fn.Primal or fn.ConjugateDual.
	AdjXTypes() []fn.SpaceType

	// ForwardSolve computes the forward solution in place in X. X may
	// carry an initial guess. deps, when non-nil, supplies dependency
	// values in place of the attached ones; only the elements
	// corresponding to X may be modified.
	ForwardSolve(X []fn.Fn, deps []fn.Fn) error

	// AdjointJacobianSolve solves the adjoint of the linearized residual.
	// adjX, when non-nil, carries an initial guess and may be modified or
	// returned. B is the right-hand-side and may be modified or returned.
	// A nil result (with nil error) means the adjoint solution is
	// structurally zero and propagation stops here.
	AdjointJacobianSolve(adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) ([]fn.Fn, error)

	// AdjointDerivativeAction returns the action of the adjoint of
	// dF/d(deps[depIndex]) on adjX: the negative of one adjoint
	// right-hand-side term. A nil result means the action is zero.
	AdjointDerivativeAction(nlDeps []fn.Fn, depIndex int, adjX []fn.Fn) (fn.Fn, error)

	// SubtractAdjointDerivativeActions subtracts this equation's
	// derivative actions from the supplied per-dependency accumulators.
	// The default loops over depBs calling AdjointDerivativeAction;
	// implementations may batch instead.
	SubtractAdjointDerivativeActions(adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*AdjointRHS) error

	// TangentLinear derives the equation for the directional derivative
	// with respect to controls m along direction dm, with tangent-linear
	// variables resolved through tlmMap. A structurally zero derivative
	// must produce a ZeroAssignment, never a nil Equation.
	TangentLinear(m, dm []fn.Fn, tlmMap *TLMMap) (Equation, error)

	// DropReferences replaces owned functions with placeholders once the
	// tape no longer needs live values. Structural queries keep working;
	// numeric ones fail.
	DropReferences()

	// Referrer returns this equation's reference-graph node.
	Referrer() *Referrer
}

// Base carries the validated dependency classification shared by every
// equation type. Embed it and implement the solve methods.
type Base struct {
	ref       *Referrer
	x         []fn.Fn
	deps      []fn.Fn
	nlDeps    []fn.Fn
	icDeps    []fn.Fn
	adjICDeps []fn.Fn
	adjXTypes []fn.SpaceType
}

type baseConfig struct {
	nlDeps       []fn.Fn
	nlDepsSet    bool
	icDeps       []fn.Fn
	icDepsSet    bool
	ic           bool
	icSet        bool
	adjICDeps    []fn.Fn
	adjICDepsSet bool
	adjIC        bool
	adjICSet     bool
	adjXTypes    []fn.SpaceType
}

// Option configures a Base at construction.
type Option func(*baseConfig)

// WithNonlinearDeps declares the dependencies needed to linearize the
// residual. Defaults to all dependencies.
func WithNonlinearDeps(nlDeps ...fn.Fn) Option {
	return func(c *baseConfig) {
		c.nlDeps = nlDeps
		c.nlDepsSet = true
	}
}

// WithICDeps declares the solution components whose value is needed before a
// forward solve.
func WithICDeps(icDeps ...fn.Fn) Option {
	return func(c *baseConfig) {
		c.icDeps = icDeps
		c.icDepsSet = true
	}
}

// WithInitialCondition sets whether the forward solve uses all of X as
// initial guess. Defaults to true when WithICDeps is not given.
func WithInitialCondition(ic bool) Option {
	return func(c *baseConfig) {
		c.ic = ic
		c.icSet = true
	}
}

// WithAdjICDeps declares the solution components whose value is needed before
// an adjoint solve.
func WithAdjICDeps(adjICDeps ...fn.Fn) Option {
	return func(c *baseConfig) {
		c.adjICDeps = adjICDeps
		c.adjICDepsSet = true
	}
}

// WithAdjointInitialCondition sets whether the adjoint solve uses all of X as
// initial guess. Defaults to true when WithAdjICDeps is not given.
func WithAdjointInitialCondition(adjIC bool) Option {
	return func(c *baseConfig) {
		c.adjIC = adjIC
		c.adjICSet = true
	}
}

// WithAdjointTypes declares the space type of each adjoint variable relative
// to the corresponding forward variable. A single value broadcasts over X.
// Defaults to fn.ConjugateDual.
func WithAdjointTypes(types ...fn.SpaceType) Option {
	return func(c *baseConfig) { c.adjXTypes = types }
}

// NewBase validates the dependency classification and returns the
// bookkeeping half of an equation. Violations are reported immediately;
// no solve may run on an invalid equation.
func NewBase(X []fn.Fn, deps []fn.Fn, opts ...Option) (*Base, error) {
	cfg := baseConfig{adjXTypes: []fn.SpaceType{fn.ConjugateDual}}
	for _, opt := range opts {
		opt(&cfg)
	}

	depIndex := make(map[uint64]int, len(deps))
	for i, dep := range deps {
		if dep == nil {
			return nil, ErrNotFunction
		}
		if dep.Alias() {
			return nil, fmt.Errorf("%w: dependency %d", ErrAlias, i)
		}
		if _, ok := depIndex[dep.ID()]; ok {
			return nil, fmt.Errorf("%w: dependency %d", ErrDuplicateDependency, i)
		}
		depIndex[dep.ID()] = i
	}

	xIDs := make(map[uint64]struct{}, len(X))
	for i, x := range X {
		if x == nil {
			return nil, ErrNotFunction
		}
		if !x.Checkpointed() {
			return nil, fmt.Errorf("%w: solution %d", ErrNotCheckpointed, i)
		}
		if x.Alias() {
			return nil, fmt.Errorf("%w: solution %d", ErrAlias, i)
		}
		if _, ok := depIndex[x.ID()]; !ok {
			return nil, fmt.Errorf("%w: solution %d", ErrNotDependency, i)
		}
		xIDs[x.ID()] = struct{}{}
	}

	nlDeps := deps
	if cfg.nlDepsSet {
		nlDeps = cfg.nlDeps
		seen := make(map[uint64]struct{}, len(nlDeps))
		for i, dep := range nlDeps {
			if _, ok := seen[dep.ID()]; ok {
				return nil, fmt.Errorf("%w: non-linear dependency %d", ErrDuplicateDependency, i)
			}
			seen[dep.ID()] = struct{}{}
			if _, ok := depIndex[dep.ID()]; !ok {
				return nil, fmt.Errorf("%w: non-linear dependency %d", ErrNotDependency, i)
			}
		}
	}

	icDeps, err := initialConditionSet(X, xIDs, cfg.icDeps, cfg.icDepsSet, cfg.ic, cfg.icSet)
	if err != nil {
		return nil, err
	}
	adjICDeps, err := initialConditionSet(X, xIDs, cfg.adjICDeps, cfg.adjICDepsSet, cfg.adjIC, cfg.adjICSet)
	if err != nil {
		return nil, err
	}

	adjXTypes := cfg.adjXTypes
	if len(adjXTypes) == 1 && len(X) != 1 {
		t := adjXTypes[0]
		adjXTypes = make([]fn.SpaceType, len(X))
		for i := range adjXTypes {
			adjXTypes[i] = t
		}
	}
	if len(adjXTypes) != len(X) {
		return nil, fmt.Errorf("%w: %d types for %d solutions", ErrInvalidAdjointType, len(adjXTypes), len(X))
	}
	for _, t := range adjXTypes {
		if t != fn.Primal && t != fn.ConjugateDual {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAdjointType, t)
		}
	}

	return &Base{
		ref:       NewReferrer(),
		x:         append([]fn.Fn(nil), X...),
		deps:      append([]fn.Fn(nil), deps...),
		nlDeps:    append([]fn.Fn(nil), nlDeps...),
		icDeps:    icDeps,
		adjICDeps: adjICDeps,
		adjXTypes: adjXTypes,
	}, nil
}

// initialConditionSet resolves the ic/adj_ic declaration: an explicit subset
// of X, or all of X when the flag (defaulting to true in the absence of an
// explicit subset) is set.
func initialConditionSet(X []fn.Fn, xIDs map[uint64]struct{}, explicit []fn.Fn, explicitSet bool, flag, flagSet bool) ([]fn.Fn, error) {
	if explicitSet {
		seen := make(map[uint64]struct{}, len(explicit))
		for i, dep := range explicit {
			if _, ok := seen[dep.ID()]; ok {
				return nil, fmt.Errorf("%w: initial condition dependency %d", ErrDuplicateDependency, i)
			}
			seen[dep.ID()] = struct{}{}
			if _, ok := xIDs[dep.ID()]; !ok {
				return nil, fmt.Errorf("%w: initial condition dependency %d", ErrNotSolution, i)
			}
		}
		if flagSet && flag {
			return append([]fn.Fn(nil), X...), nil
		}
		return append([]fn.Fn(nil), explicit...), nil
	}
	if !flagSet || flag {
		return append([]fn.Fn(nil), X...), nil
	}
	return nil, nil
}

// X returns the solution variables.
func (b *Base) X() []fn.Fn { return b.x }

// Dependencies returns the dependency list.
func (b *Base) Dependencies() []fn.Fn { return b.deps }

// NonlinearDependencies returns the non-linear dependency list.
func (b *Base) NonlinearDependencies() []fn.Fn { return b.nlDeps }

// InitialConditionDependencies returns the forward initial-condition set.
func (b *Base) InitialConditionDependencies() []fn.Fn { return b.icDeps }

// AdjointInitialConditionDependencies returns the adjoint initial-condition
// set.
func (b *Base) AdjointInitialConditionDependencies() []fn.Fn { return b.adjICDeps }

// AdjXTypes returns the per-component adjoint space types.
func (b *Base) AdjXTypes() []fn.SpaceType { return b.adjXTypes }

// Referrer returns the reference-graph node.
func (b *Base) Referrer() *Referrer { return b.ref }

// NewAdjX allocates functions suitable for storing the adjoint solution,
// one per solution component, in the declared adjoint space types.
func (b *Base) NewAdjX() []fn.Fn {
	adjX := make([]fn.Fn, len(b.x))
	for m, x := range b.x {
		adjX[m] = x.NewLike(b.adjXTypes[m])
	}
	return adjX
}

// DropReferences swaps every held function for its replacement placeholder.
// Idempotent.
func (b *Base) DropReferences() {
	if b.ref.Dropped() {
		return
	}
	b.x = fn.ReplaceAll(b.x)
	b.deps = fn.ReplaceAll(b.deps)
	b.nlDeps = fn.ReplaceAll(b.nlDeps)
	b.icDeps = fn.ReplaceAll(b.icDeps)
	b.adjICDeps = fn.ReplaceAll(b.adjICDeps)
	b.ref.MarkDropped()
}

// SubtractAdjointDerivativeActions applies the default per-dependency loop
// on behalf of eq. Concrete types forward to this unless they batch.
func SubtractAdjointDerivativeActionsDefault(eq Equation, adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*AdjointRHS) error {
	for depIndex, depB := range depBs {
		action, err := eq.AdjointDerivativeAction(nlDeps, depIndex, adjX)
		if err != nil {
			return err
		}
		if action == nil {
			continue
		}
		if err := depB.Sub(action); err != nil {
			return err
		}
	}
	return nil
}

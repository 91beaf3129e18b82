// Package equation defines the residual-based equation contract at the heart
// of the library. An Equation is one record on an externally managed tape: it
// knows how to compute its forward solution, how to solve the adjoint of its
// linearization, and how to derive the tangent-linear equation associated
// with a control and direction.
//
// The forward solution x of an equation is defined implicitly by a residual
//
//	F(x, y0, y1, ...) = 0,
//
// where the y_i are dependencies. Concrete equation types implement the
// Equation interface, usually by embedding Base for the dependency
// bookkeeping and validation, and the package-level drivers (Forward,
// Adjoint, Solve, ...) wrap the type-specific solves with cache invalidation
// and tape recording.
//
// Adjoint replay visits equations in reverse order. Each equation solves its
// adjoint variable from a right-hand-side seeded by the functional gradient
// and accumulated cross-equation contributions, then subtracts its own
// derivative actions from the right-hand-sides of earlier, not-yet-replayed
// equations via AdjointRHS accumulators.
package equation

package equation

import "github.com/adjoint-ml/adjoint/fn"

// Recorder is the boundary to the external equation manager. Solve registers
// initial-condition dependencies before the forward computation and appends
// the equation afterwards; the manager decides what to do with them
// (annotation, tangent-linear propagation, checkpointing).
type Recorder interface {
	AddInitialCondition(x fn.Fn)
	AddEquation(eq Equation)
}

type noopRecorder struct{}

func (noopRecorder) AddInitialCondition(fn.Fn) {}
func (noopRecorder) AddEquation(Equation)      {}

// The process default records nothing; an embedding framework installs its
// manager once at startup via SetRecorder.
var currentRecorder Recorder = noopRecorder{}

// CurrentRecorder returns the recorder Solve reports to.
func CurrentRecorder() Recorder { return currentRecorder }

// SetRecorder installs a recorder and returns the previous one.
func SetRecorder(r Recorder) Recorder {
	old := currentRecorder
	currentRecorder = r
	return old
}

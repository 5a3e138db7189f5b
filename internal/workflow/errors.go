package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNoWorkflowLoaded         = errors.New("no workflow loaded")
	ErrInvalidStartIndex        = errors.New("invalid start index")
	ErrNoModelSpecified         = errors.New("no model specified and no default workflow model set")
	ErrConnectorUnavailable     = errors.New("connector not found or unavailable")
	ErrStepNotAwaitingSynthesis = errors.New("step is not awaiting synthesis")
)

// StepExecutionError is a failure reported by a connector. Its message is
// the connector's own error text.
type StepExecutionError struct {
	Step    string
	Model   string
	Message string
}

func (e *StepExecutionError) Error() string {
	return e.Message
}

// StepError is returned by Execute when a run halts on a step.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (index %d): %v", e.Step, e.Index, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func IsStepExecutionError(err error) bool {
	var se *StepExecutionError
	return errors.As(err, &se)
}

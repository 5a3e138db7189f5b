package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opentalon/hybridflow/internal/connector"
	"github.com/opentalon/hybridflow/internal/metrics"
	"github.com/opentalon/hybridflow/internal/prompt"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/synthesis"
)

// Dependencies are the collaborators an Executor calls. Only Router is
// required; the rest fall back to usable defaults.
type Dependencies struct {
	Router    *connector.Router
	Renderer  *prompt.Renderer
	Synthesis *synthesis.Registry
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// OnError is called for every run-terminating failure. step is nil when
	// the failure is not tied to a step.
	OnError func(err error, step *Step)
	Now     func() time.Time
}

// Executor runs one workflow at a time against a session context.
//
// runMu serializes runs and workflow changes; mu guards wf alone, so the
// error hook may read the executor while a run is in progress.
type Executor struct {
	runMu sync.Mutex
	mu    sync.Mutex
	sess  *state.Context
	wf    *Workflow
	deps  Dependencies
	log   *slog.Logger
}

func NewExecutor(sess *state.Context, deps Dependencies) *Executor {
	if sess == nil {
		sess = state.New("")
	}
	if deps.Router == nil {
		deps.Router = connector.NewRouter()
	}
	if deps.Renderer == nil {
		deps.Renderer = prompt.NewRenderer()
	}
	if deps.Synthesis == nil {
		deps.Synthesis = synthesis.NewRegistry(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Executor{
		sess: sess,
		deps: deps,
		log:  deps.Logger.With("component", "workflow"),
	}
}

// Context returns the session context the executor mutates.
func (e *Executor) Context() *state.Context { return e.sess }

// Workflow returns the loaded definition, or nil.
func (e *Executor) Workflow() *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wf
}

// LoadWorkflow installs wf and clears the execution history. Step outputs
// from earlier runs stay visible to templates.
func (e *Executor) LoadWorkflow(wf *Workflow) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.mu.Lock()
	e.wf = wf
	e.mu.Unlock()
	e.sess.WorkflowInfo = &state.WorkflowInfo{Name: wf.Name, Status: state.WorkflowIdle}
	e.sess.ExecutionHistory = make([]*state.StepState, 0, len(wf.Steps))
	if e.sess.StepOutputs == nil {
		e.sess.StepOutputs = make(map[string]any)
	}
	e.log.Info("workflow loaded", "workflow", wf.Name, "steps", len(wf.Steps))
}

// Execute runs the loaded workflow from startIndex to the end. The first
// failing step halts the run: its state is recorded as failed, the error
// hook fires and a *StepError is returned together with the context.
func (e *Executor) Execute(ctx context.Context, startIndex int) (*state.Context, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.wf == nil {
		e.OnError(ErrNoWorkflowLoaded, nil)
		return e.sess, ErrNoWorkflowLoaded
	}
	steps := e.wf.Steps
	if startIndex < 0 || startIndex > len(steps) {
		return e.sess, fmt.Errorf("%w: %d (workflow %q has %d steps)", ErrInvalidStartIndex, startIndex, e.wf.Name, len(steps))
	}

	info := e.sess.WorkflowInfo
	info.Status = state.WorkflowRunning
	e.log.Info("run started", "workflow", e.wf.Name, "session", e.sess.SessionID, "start", startIndex)

	for i := startIndex; i < len(steps); i++ {
		step := &steps[i]
		info.CurrentStepIndex = i

		st := &state.StepState{
			StepName:  step.Name,
			Status:    state.StatusPending,
			Timestamp: e.deps.Now(),
		}
		e.sess.ExecutionHistory = append(e.sess.ExecutionHistory, st)

		st.Status = state.StatusRunning
		started := e.deps.Now()
		err := e.RunStep(ctx, step, st)
		elapsed := e.deps.Now().Sub(started)

		if err != nil {
			st.Status = state.StatusFailed
			st.Error = err.Error()
			e.deps.Metrics.StepFinished(string(state.StatusFailed), elapsed)

			runErr := &StepError{Step: step.Name, Index: i, Err: err}
			e.OnError(runErr, step)
			info.Status = state.WorkflowFailed
			e.sess.Touch()
			return e.sess, runErr
		}

		st.Status = state.StatusCompleted
		e.deps.Metrics.StepFinished(string(state.StatusCompleted), elapsed)
		e.log.Debug("step completed", "step", step.Name, "elapsed", elapsed)
	}

	info.CurrentStepIndex = len(steps)
	info.Status = state.WorkflowCompleted
	if last := e.sess.LastStep(); last != nil {
		if out, ok := last.Output.(string); ok {
			e.sess.FinalOutput = out
		}
	}
	e.sess.Touch()
	e.log.Info("run completed", "workflow", e.wf.Name, "session", e.sess.SessionID)
	return e.sess, nil
}

// RunStep renders the step prompt against the step outputs, calls one or
// many connectors and stores the result under the step's output key.
func (e *Executor) RunStep(ctx context.Context, step *Step, st *state.StepState) error {
	rendered := e.deps.Renderer.Render(step.Prompt, e.sess.StepOutputs)
	st.PromptSent = rendered

	var (
		output string
		err    error
	)
	if step.MultiModelConfig != nil && len(step.MultiModelConfig.Models) > 0 {
		output, err = e.runMulti(ctx, step, st, rendered)
	} else {
		output, err = e.runSingle(ctx, step, st, rendered)
	}
	if err != nil {
		return err
	}

	e.sess.StepOutputs[step.OutputKey()] = output
	st.Output = output
	return nil
}

func (e *Executor) runSingle(ctx context.Context, step *Step, st *state.StepState, rendered string) (string, error) {
	model := step.Model
	if model == "" && e.wf != nil {
		model = e.wf.DefaultModel
	}
	if model == "" {
		return "", fmt.Errorf("%w for step %q", ErrNoModelSpecified, step.Name)
	}

	conn, ok := e.deps.Router.Resolve(ctx, model)
	if !ok {
		return "", fmt.Errorf("%w: model %q for step %q", ErrConnectorUnavailable, model, step.Name)
	}
	st.ModelUsed = []string{conn.Name()}
	if conn.Name() != model {
		e.log.Info("connector fallback", "step", step.Name, "requested", model, "using", conn.Name())
	}

	resp := conn.Execute(ctx, rendered, step.Params)
	e.deps.Metrics.ConnectorCall(conn.Name(), resp.Success)
	st.RawResponse = resp
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("model execution failed for step %q", step.Name)
		}
		return "", &StepExecutionError{Step: step.Name, Model: conn.Name(), Message: msg}
	}
	return resp.Content, nil
}

func (e *Executor) runMulti(ctx context.Context, step *Step, st *state.StepState, rendered string) (string, error) {
	cfg := step.MultiModelConfig
	method := cfg.SynthesisMethod
	if method == "" {
		method = synthesis.MethodManual
	}
	st.SynthesisMethod = string(method)
	st.ModelUsed = append([]string(nil), cfg.Models...)

	responses := e.fanOut(ctx, step, rendered)
	st.RawResponse = responses

	if _, ok := e.deps.Synthesis.Get(method); !ok {
		return "", fmt.Errorf("%w: method %q for step %q", synthesis.ErrSynthesizerUnavailable, method, step.Name)
	}
	return e.deps.Synthesis.Synthesize(ctx, responses, method, cfg.SynthesisInstructions)
}

// fanOut calls every listed model concurrently and waits for all of them.
// Individual failures become failed responses in the result.
func (e *Executor) fanOut(ctx context.Context, step *Step, rendered string) []connector.Response {
	models := step.MultiModelConfig.Models
	responses := make([]connector.Response, len(models))

	var wg sync.WaitGroup
	for i, model := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = e.callModel(ctx, step, model, rendered)
		}()
	}
	wg.Wait()
	return responses
}

func (e *Executor) callModel(ctx context.Context, step *Step, model, rendered string) (resp connector.Response) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("connector panicked", "step", step.Name, "model", model, "panic", r)
			resp = connector.Failed(model, "connector for model %q panicked: %v", model, r)
		}
	}()

	conn, ok := e.deps.Router.Resolve(ctx, model)
	if !ok {
		return connector.Failed(model, "connector for model %q not found or unavailable for step %q", model, step.Name)
	}
	resp = conn.Execute(ctx, rendered, step.Params)
	e.deps.Metrics.ConnectorCall(conn.Name(), resp.Success)
	if resp.ModelName == "" {
		resp.ModelName = conn.Name()
	}
	if !resp.Success {
		e.log.Warn("model call failed", "step", step.Name, "model", model, "error", resp.Error)
	}
	return resp
}

// CompleteManualSynthesis finalizes a step parked in awaiting_synthesis with
// content supplied by the host. Resuming the run is up to the caller.
func (e *Executor) CompleteManualSynthesis(stepName, content string) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	hist := e.sess.ExecutionHistory
	for i := len(hist) - 1; i >= 0; i-- {
		st := hist[i]
		if st.StepName != stepName || st.Status != state.StatusAwaitingSynthesis {
			continue
		}
		key := stepName + "_output"
		if e.wf != nil {
			if step, _, ok := e.wf.Step(stepName); ok {
				key = step.OutputKey()
			}
		}
		st.Status = state.StatusCompleted
		st.Output = content
		st.SynthesisMethod = string(synthesis.MethodManual)
		e.sess.StepOutputs[key] = content
		e.sess.Touch()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrStepNotAwaitingSynthesis, stepName)
}

// OnError reports a run-terminating failure. It never changes control flow.
func (e *Executor) OnError(err error, step *Step) {
	var name string
	if step != nil {
		name = step.Name
	}
	var se *StepExecutionError
	switch {
	case errors.As(err, &se):
		e.log.Error("step failed", "step", name, "model", se.Model, "error", err)
	default:
		e.log.Error("workflow error", "step", name, "error", err)
	}
	e.deps.Metrics.RunError()
	if e.deps.OnError != nil {
		e.deps.OnError(err, step)
	}
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/opentalon/hybridflow/internal/connector"
	"github.com/opentalon/hybridflow/internal/metrics"
	"github.com/opentalon/hybridflow/internal/prompt"
	"github.com/opentalon/hybridflow/internal/scheduler"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/synthesis"
	"github.com/opentalon/hybridflow/internal/workflow"
)

// ErrMissingInputs is returned before any step runs when a required
// workflow input has no value.
var ErrMissingInputs = errors.New("missing required inputs")

// Request describes one workflow run against a stored session.
type Request struct {
	Workflow   *workflow.Workflow
	SessionID  string
	StartIndex int
	// Vars are written into the session's step outputs before the run and
	// recorded as its initial input when the session is new.
	Vars map[string]any
}

// Runner loads a session, runs a workflow on it and saves the result. Runs
// on the same session id are serialized.
type Runner struct {
	router    *connector.Router
	synthesis *synthesis.Registry
	renderer  *prompt.Renderer
	store     state.Store
	metrics   *metrics.Metrics
	log       *slog.Logger

	locks sync.Map // session id -> *sync.Mutex
}

func New(router *connector.Router, synth *synthesis.Registry, store state.Store, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		router:    router,
		synthesis: synth,
		renderer:  prompt.NewRenderer(),
		store:     store,
		metrics:   m,
		log:       logger,
	}
}

func (r *Runner) Store() state.Store { return r.store }

func (r *Runner) Router() *connector.Router { return r.router }

func (r *Runner) lock(id string) func() {
	v, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Run executes req. The session is saved whether or not the run succeeds;
// a run error is returned alongside the saved context.
func (r *Runner) Run(ctx context.Context, req Request) (*state.Context, error) {
	if req.Workflow == nil {
		return nil, workflow.ErrNoWorkflowLoaded
	}
	id := req.SessionID
	if id == "" {
		id = state.DefaultSessionID
	}
	if err := state.ValidateID(id); err != nil {
		return nil, err
	}
	defer r.lock(id)()

	sess, err := state.LoadOrNew(ctx, r.store, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}
	if sess.InitialInput == nil && len(req.Vars) > 0 {
		sess.InitialInput = req.Vars
	}
	for k, v := range req.Vars {
		sess.SetVar(k, v)
	}
	if missing := req.Workflow.MissingInputs(sess.StepOutputs); len(missing) > 0 {
		return nil, fmt.Errorf("workflow %q: %w: %s", req.Workflow.Name, ErrMissingInputs, strings.Join(missing, ", "))
	}

	exec := workflow.NewExecutor(sess, workflow.Dependencies{
		Router:    r.router,
		Renderer:  r.renderer,
		Synthesis: r.synthesis,
		Logger:    r.log,
		Metrics:   r.metrics,
	})
	exec.LoadWorkflow(req.Workflow)
	out, runErr := exec.Execute(ctx, req.StartIndex)

	if err := r.store.Save(ctx, out); err != nil {
		if runErr != nil {
			return out, fmt.Errorf("%w (saving session: %v)", runErr, err)
		}
		return out, fmt.Errorf("saving session %q: %w", id, err)
	}
	return out, runErr
}

// RunJob loads the job's workflow file and runs it; it lets the runner
// drive scheduled jobs.
func (r *Runner) RunJob(ctx context.Context, job scheduler.Job) error {
	wf, err := workflow.Load(job.Workflow)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx, Request{Workflow: wf, SessionID: job.Session, Vars: job.Input})
	return err
}

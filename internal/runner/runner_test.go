package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opentalon/hybridflow/internal/connector"
	"github.com/opentalon/hybridflow/internal/scheduler"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/synthesis"
	"github.com/opentalon/hybridflow/internal/workflow"
)

type echoConnector struct{ name string }

func (e echoConnector) Name() string                   { return e.name }
func (e echoConnector) Type() connector.Type           { return connector.TypeLocal }
func (e echoConnector) Available(context.Context) bool { return true }
func (e echoConnector) Execute(_ context.Context, prompt string, _ map[string]any) connector.Response {
	if prompt == "fail" {
		return connector.Failed(e.name, "refused")
	}
	return connector.Response{Success: true, Content: "echo: " + prompt, ModelName: e.name}
}

func newRunner(t *testing.T) (*Runner, state.Store) {
	t.Helper()
	router := connector.NewRouter()
	router.Register(echoConnector{name: "echo"}, 0)
	store := state.NewFileStore(t.TempDir(), nil)
	return New(router, synthesis.NewRegistry(nil), store, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestRunSavesSession(t *testing.T) {
	r, store := newRunner(t)
	wf := &workflow.Workflow{
		Name:   "w",
		Inputs: map[string]workflow.InputSpec{"topic": {Required: true}},
		Steps:  []workflow.Step{{Name: "s", Prompt: "{{topic}}", Model: "echo"}},
	}

	out, err := r.Run(context.Background(), Request{Workflow: wf, SessionID: "s1", Vars: map[string]any{"topic": "go"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.FinalOutput != "echo: go" {
		t.Errorf("FinalOutput = %q", out.FinalOutput)
	}

	saved, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if saved.StepOutputs["s_output"] != "echo: go" {
		t.Errorf("saved outputs = %v", saved.StepOutputs)
	}
	if saved.InitialInput == nil {
		t.Error("initial input should be recorded")
	}
}

func TestRunSavesFailedRun(t *testing.T) {
	r, store := newRunner(t)
	wf := &workflow.Workflow{Name: "w", Steps: []workflow.Step{{Name: "s", Prompt: "fail", Model: "echo"}}}

	_, err := r.Run(context.Background(), Request{Workflow: wf})
	if !workflow.IsStepExecutionError(err) {
		t.Fatalf("err = %v, want step execution error", err)
	}
	saved, err := store.Load(context.Background(), state.DefaultSessionID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.WorkflowInfo.Status != state.WorkflowFailed || saved.ExecutionHistory[0].Error != "refused" {
		t.Errorf("saved = %+v", saved.ExecutionHistory[0])
	}
}

func TestRunMissingInputs(t *testing.T) {
	r, _ := newRunner(t)
	wf := &workflow.Workflow{
		Name:   "w",
		Inputs: map[string]workflow.InputSpec{"topic": {Required: true}},
		Steps:  []workflow.Step{{Name: "s", Prompt: "x", Model: "echo"}},
	}
	_, err := r.Run(context.Background(), Request{Workflow: wf})
	if !errors.Is(err, ErrMissingInputs) || !strings.Contains(err.Error(), "topic") {
		t.Errorf("err = %v, want missing topic", err)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	r, _ := newRunner(t)
	if _, err := r.Run(context.Background(), Request{}); !errors.Is(err, workflow.ErrNoWorkflowLoaded) {
		t.Errorf("err = %v, want ErrNoWorkflowLoaded", err)
	}
	wf := &workflow.Workflow{Name: "w", Steps: []workflow.Step{{Name: "s", Prompt: "x", Model: "echo"}}}
	if _, err := r.Run(context.Background(), Request{Workflow: wf, SessionID: "../etc"}); !errors.Is(err, state.ErrInvalidID) {
		t.Error("expected invalid session id error")
	}
}

func TestRunJob(t *testing.T) {
	r, store := newRunner(t)
	path := filepath.Join(t.TempDir(), "wf.yaml")
	doc := "name: nightly\nsteps:\n  - name: s\n    prompt: \"report on {{topic}}\"\n    model: echo\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	err := r.RunJob(context.Background(), scheduler.Job{Name: "n", Workflow: path, Session: "reports", Input: map[string]any{"topic": "sales"}})
	if err != nil {
		t.Fatal(err)
	}
	saved, err := store.Load(context.Background(), "reports")
	if err != nil {
		t.Fatal(err)
	}
	if saved.FinalOutput != "echo: report on sales" {
		t.Errorf("FinalOutput = %q", saved.FinalOutput)
	}
}

package state

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags every persisted session record.
const SchemaVersion = "1.0.0"

// DefaultSessionID is used when the host does not name a session.
const DefaultSessionID = "default"

// Status is the lifecycle state of one attempted step.
type Status string

const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusSkipped           Status = "skipped"
	StatusAwaitingSynthesis Status = "awaiting_synthesis"
)

// WorkflowStatus is the lifecycle state of a run.
type WorkflowStatus string

const (
	WorkflowIdle      WorkflowStatus = "idle"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

type WorkflowInfo struct {
	Name             string         `json:"name" yaml:"name"`
	Status           WorkflowStatus `json:"status" yaml:"status"`
	CurrentStepIndex int            `json:"currentStepIndex" yaml:"currentStepIndex"`
}

// StepState records one attempted step. RawResponse holds a single
// connector.Response or a slice of them for multi-model steps.
type StepState struct {
	StepName        string    `json:"stepName" yaml:"stepName"`
	Status          Status    `json:"status" yaml:"status"`
	ModelUsed       []string  `json:"modelUsed,omitempty" yaml:"modelUsed,omitempty"`
	PromptSent      string    `json:"promptSent,omitempty" yaml:"promptSent,omitempty"`
	RawResponse     any       `json:"rawResponse,omitempty" yaml:"rawResponse,omitempty"`
	Output          any       `json:"output,omitempty" yaml:"output,omitempty"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
	SynthesisMethod string    `json:"synthesisMethod,omitempty" yaml:"synthesisMethod,omitempty"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

// Context is the state threaded through a workflow run. StepOutputs is the
// only open-ended part: it holds every variable visible to templates.
//
// A Context is not safe for concurrent use; one run at a time.
type Context struct {
	SessionID        string         `json:"sessionId" yaml:"sessionId"`
	Version          string         `json:"version" yaml:"version"`
	CreatedAt        time.Time      `json:"createdAt" yaml:"createdAt"`
	LastUpdatedAt    time.Time      `json:"lastUpdatedAt" yaml:"lastUpdatedAt"`
	InitialInput     any            `json:"initialInput,omitempty" yaml:"initialInput,omitempty"`
	StepOutputs      map[string]any `json:"stepOutputs" yaml:"stepOutputs"`
	ExecutionHistory []*StepState   `json:"executionHistory" yaml:"executionHistory"`
	FinalOutput      string         `json:"finalOutput,omitempty" yaml:"finalOutput,omitempty"`
	WorkflowInfo     *WorkflowInfo  `json:"workflowInfo,omitempty" yaml:"workflowInfo,omitempty"`
}

// New returns an empty session. An empty id gets a random one.
func New(id string) *Context {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Context{
		SessionID:        id,
		Version:          SchemaVersion,
		CreatedAt:        now,
		LastUpdatedAt:    now,
		StepOutputs:      make(map[string]any),
		ExecutionHistory: make([]*StepState, 0),
	}
}

// Touch records a modification.
func (c *Context) Touch() {
	c.LastUpdatedAt = time.Now().UTC()
}

// SetVar seeds or overwrites a template variable.
func (c *Context) SetVar(key string, value any) {
	if c.StepOutputs == nil {
		c.StepOutputs = make(map[string]any)
	}
	c.StepOutputs[key] = value
}

// LastStep returns the most recent history entry, or nil.
func (c *Context) LastStep() *StepState {
	if len(c.ExecutionHistory) == 0 {
		return nil
	}
	return c.ExecutionHistory[len(c.ExecutionHistory)-1]
}

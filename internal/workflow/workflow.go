package workflow

import (
	"github.com/opentalon/hybridflow/internal/synthesis"
)

// Workflow is a named, ordered list of steps. It is treated as immutable
// once loaded into an Executor.
type Workflow struct {
	Name         string               `yaml:"name" json:"name" validate:"required"`
	Description  string               `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string               `yaml:"version" json:"version" default:"1.0.0"`
	Steps        []Step               `yaml:"steps" json:"steps" validate:"required,min=1,unique=Name,dive"`
	DefaultModel string               `yaml:"defaultModel,omitempty" json:"defaultModel,omitempty"`
	Inputs       map[string]InputSpec `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// InputSpec documents a variable the host is expected to seed before a run.
type InputSpec struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

type Step struct {
	Name             string            `yaml:"name" json:"name" validate:"required"`
	Prompt           string            `yaml:"prompt" json:"prompt"`
	Model            string            `yaml:"model,omitempty" json:"model,omitempty"`
	Output           string            `yaml:"output,omitempty" json:"output,omitempty"`
	Params           map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
	MultiModelConfig *MultiModelConfig `yaml:"multiModelConfig,omitempty" json:"multiModelConfig,omitempty"`
	// Condition is kept with the definition but never evaluated.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// MultiModelConfig fans a step out to several connectors and merges the
// results.
type MultiModelConfig struct {
	Models                []string         `yaml:"models" json:"models" validate:"min=1,dive,required"`
	SynthesisMethod       synthesis.Method `yaml:"synthesisMethod,omitempty" json:"synthesisMethod,omitempty" default:"manual" validate:"oneof=manual ai"`
	SynthesisInstructions string           `yaml:"synthesisInstructions,omitempty" json:"synthesisInstructions,omitempty"`
}

// OutputKey is the StepOutputs key the step writes to.
func (s *Step) OutputKey() string {
	if s.Output != "" {
		return s.Output
	}
	return s.Name + "_output"
}

// Step returns the step named name and its index.
func (w *Workflow) Step(name string) (*Step, int, bool) {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i], i, true
		}
	}
	return nil, -1, false
}

// MissingInputs lists required inputs that have no value in vars.
func (w *Workflow) MissingInputs(vars map[string]any) []string {
	var missing []string
	for name, in := range w.Inputs {
		if !in.Required {
			continue
		}
		if v, ok := vars[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

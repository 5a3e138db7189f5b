package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opentalon/hybridflow/internal/connector"
	"github.com/opentalon/hybridflow/internal/metrics"
)

// Method names a synthesis strategy.
type Method string

const (
	MethodManual Method = "manual"
	MethodAI     Method = "ai"
)

var (
	ErrSynthesizerUnavailable = errors.New("synthesizer not available")
	ErrSynthesisFailed        = errors.New("synthesis failed")
)

// SynthesisFailedError reports why an AI synthesis could not produce an answer.
type SynthesisFailedError struct {
	Message string
}

func (e *SynthesisFailedError) Error() string {
	return fmt.Sprintf("AI synthesis process encountered an error: %s", e.Message)
}

func (e *SynthesisFailedError) Unwrap() error { return ErrSynthesisFailed }

// Synthesizer reduces several connector responses to one answer.
type Synthesizer interface {
	Method() Method
	Synthesize(ctx context.Context, responses []connector.Response, instructions string) (string, error)
}

// Registry holds synthesizers by method.
type Registry struct {
	mu       sync.RWMutex
	byMethod map[Method]Synthesizer
	metrics  *metrics.Metrics
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry registers the manual synthesizer, and the AI synthesizer bound
// to ai when ai is non-nil.
func NewRegistry(ai connector.Connector, opts ...Option) *Registry {
	r := &Registry{byMethod: make(map[Method]Synthesizer)}
	for _, o := range opts {
		o(r)
	}
	r.Register(Manual{})
	if ai != nil {
		r.Register(NewAI(ai))
	}
	return r
}

// Register adds or replaces the synthesizer for s.Method().
func (r *Registry) Register(s Synthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMethod[s.Method()] = s
}

func (r *Registry) Get(method Method) (Synthesizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byMethod[method]
	return s, ok
}

// Methods returns the registered method names.
func (r *Registry) Methods() []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Method, 0, len(r.byMethod))
	for m := range r.byMethod {
		out = append(out, m)
	}
	return out
}

// Synthesize runs the synthesizer registered for method. An empty method
// means manual.
func (r *Registry) Synthesize(ctx context.Context, responses []connector.Response, method Method, instructions string) (string, error) {
	if method == "" {
		method = MethodManual
	}
	s, ok := r.Get(method)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSynthesizerUnavailable, method)
	}
	out, err := s.Synthesize(ctx, responses, instructions)
	r.metrics.Synthesis(string(method), err == nil)
	return out, err
}

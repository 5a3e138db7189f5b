package connector

import (
	"context"
	"fmt"
)

// Type identifies how a connector reaches its model.
type Type string

const (
	TypeAPI     Type = "api"
	TypeBrowser Type = "browser"
	TypeLocal   Type = "local"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAPI, TypeBrowser, TypeLocal:
		return true
	}
	return false
}

// Response is the outcome of one connector invocation.
type Response struct {
	Success   bool   `json:"success" yaml:"success"`
	Content   string `json:"content,omitempty" yaml:"content,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ModelName string `json:"modelName" yaml:"modelName"`
}

// Failed builds an unsuccessful Response for model.
func Failed(model, format string, args ...any) Response {
	return Response{
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		ModelName: model,
	}
}

// Connector is a named backend able to run a prompt against a model.
//
// Available may perform I/O (a ping, a session check). Execute never returns
// an error: failures are reported through Response.Success and
// Response.Error.
type Connector interface {
	Name() string
	Type() Type
	Available(ctx context.Context) bool
	Execute(ctx context.Context, prompt string, params map[string]any) Response
}

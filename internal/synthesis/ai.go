package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentalon/hybridflow/internal/connector"
)

const DefaultInstructions = "Please synthesize the following model responses into a single, clear, and accurate answer."

// AI asks a bound connector to merge the successful responses.
type AI struct {
	conn connector.Connector
}

func NewAI(conn connector.Connector) *AI {
	return &AI{conn: conn}
}

func (*AI) Method() Method { return MethodAI }

func (a *AI) Synthesize(ctx context.Context, responses []connector.Response, instructions string) (string, error) {
	resp := a.conn.Execute(ctx, BuildPrompt(responses, instructions), nil)
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "AI synthesis failed"
		}
		return "", &SynthesisFailedError{Message: msg}
	}
	if resp.Content == "" {
		return "", &SynthesisFailedError{Message: "AI synthesis returned no content"}
	}
	return resp.Content, nil
}

// BuildPrompt renders the synthesis prompt. Only successful responses with
// content are included; an empty set still yields a prompt.
func BuildPrompt(responses []connector.Response, instructions string) string {
	if instructions == "" {
		instructions = DefaultInstructions
	}
	var sections []string
	for _, r := range responses {
		if !r.Success || r.Content == "" {
			continue
		}
		model := r.ModelName
		if model == "" {
			model = "Unknown"
		}
		sections = append(sections, fmt.Sprintf("\nResponse %d (from model: %s):\n```\n%s\n```",
			len(sections)+1, model, r.Content))
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(instructions)
	b.WriteString("\n\nThe original prompt might have been complex, but focus on the provided responses. Here are the responses to synthesize:\n\n")
	b.WriteString(strings.Join(sections, ManualSeparator))
	b.WriteString("\n\nSynthesized Response:\n")
	return b.String()
}

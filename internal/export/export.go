// Package export renders a session's execution trace for people and tools.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/hybridflow/internal/state"
)

// Format names an output format.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts the format names plus "md" and "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown output format %q (supported: yaml, json, markdown)", s)
}

// YAML returns the full session document.
func YAML(c *state.Context) ([]byte, error) {
	return yaml.Marshal(c)
}

// JSON returns the full session document, indented.
func JSON(c *state.Context) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Markdown summarizes the session: run status, every history entry with its
// prompt, output and error, then the final output.
func Markdown(c *state.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", c.SessionID)
	if wi := c.WorkflowInfo; wi != nil {
		fmt.Fprintf(&b, "- **Workflow:** %s\n", wi.Name)
		fmt.Fprintf(&b, "- **Status:** %s\n", wi.Status)
		fmt.Fprintf(&b, "- **Current step:** %d\n", wi.CurrentStepIndex)
	}
	fmt.Fprintf(&b, "- **Created:** %s\n", c.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Updated:** %s\n\n", c.LastUpdatedAt.UTC().Format(time.RFC3339))

	if c.InitialInput != nil {
		b.WriteString("## Initial Input\n\n")
		writeValue(&b, c.InitialInput)
	}

	if len(c.ExecutionHistory) > 0 {
		b.WriteString("## Execution History\n\n")
		for i, st := range c.ExecutionHistory {
			writeStep(&b, i+1, st)
		}
	}

	if c.FinalOutput != "" {
		b.WriteString("## Final Output\n\n")
		b.WriteString(c.FinalOutput)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func writeStep(b *strings.Builder, n int, st *state.StepState) {
	fmt.Fprintf(b, "### %d. %s (%s)\n\n", n, st.StepName, st.Status)
	if len(st.ModelUsed) > 0 {
		fmt.Fprintf(b, "- **Models:** %s\n", strings.Join(st.ModelUsed, ", "))
	}
	if st.SynthesisMethod != "" {
		fmt.Fprintf(b, "- **Synthesis:** %s\n", st.SynthesisMethod)
	}
	if !st.Timestamp.IsZero() {
		fmt.Fprintf(b, "- **Time:** %s\n", st.Timestamp.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
	if st.PromptSent != "" {
		b.WriteString("**Prompt**\n\n")
		writeFenced(b, "", st.PromptSent)
	}
	if st.Output != nil {
		b.WriteString("**Output**\n\n")
		writeValue(b, st.Output)
	}
	if st.Error != "" {
		fmt.Fprintf(b, "**Error:** %s\n\n", st.Error)
	}
}

// writeValue prints strings as text and anything else as a YAML block.
func writeValue(b *strings.Builder, v any) {
	if s, ok := v.(string); ok {
		b.WriteString(s)
		b.WriteString("\n\n")
		return
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(b, "%v\n\n", v)
		return
	}
	writeFenced(b, "yaml", strings.TrimRight(string(data), "\n"))
}

func writeFenced(b *strings.Builder, lang, body string) {
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s%s\n%s\n%s\n\n", fence, lang, body, fence)
}

// Write encodes c in the given format.
func Write(w io.Writer, format Format, c *state.Context) error {
	var data []byte
	var err error
	switch format {
	case FormatJSON:
		data, err = JSON(c)
	case FormatMarkdown:
		data = []byte(Markdown(c))
	default:
		data, err = YAML(c)
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", format, err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// Terminal renders markdown for display in a terminal.
func Terminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}

package synthesis

import (
	"context"
	"strings"

	"github.com/opentalon/hybridflow/internal/connector"
)

// ManualSeparator joins response contents in manual synthesis.
const ManualSeparator = "\n---\n"

// Manual concatenates response contents in order. Failed responses
// contribute an empty section.
type Manual struct{}

func (Manual) Method() Method { return MethodManual }

func (Manual) Synthesize(_ context.Context, responses []connector.Response, _ string) (string, error) {
	parts := make([]string, len(responses))
	for i, r := range responses {
		if r.Success {
			parts[i] = r.Content
		}
	}
	return strings.Join(parts, ManualSeparator), nil
}

package connector

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// CallOptions are the step params connectors understand. Unknown keys are
// ignored so a workflow can carry params meant for other connectors.
type CallOptions struct {
	Model       string   `mapstructure:"model"`
	System      string   `mapstructure:"system"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature *float64 `mapstructure:"temperature"`
}

// DecodeOptions reads CallOptions from opaque step params. Values are
// converted loosely ("512" is accepted for max_tokens).
func DecodeOptions(params map[string]any) (CallOptions, error) {
	var opts CallOptions
	if len(params) == 0 {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(params); err != nil {
		return opts, fmt.Errorf("decode params: %w", err)
	}
	return opts, nil
}

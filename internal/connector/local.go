package connector

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	localDefaultBaseURL = "http://localhost:11434"
	localGeneratePath   = "/api/generate"
	localTagsPath       = "/api/tags"
	localPingTimeout    = 2 * time.Second
)

// LocalConnector talks to a local Ollama server. Availability is a live ping
// of the server's model list.
type LocalConnector struct {
	name    string
	model   string
	baseURL string
	client  *resty.Client
}

type LocalOption func(*LocalConnector)

// WithRestyClient replaces the HTTP client, mostly for tests.
func WithRestyClient(c *resty.Client) LocalOption {
	return func(l *LocalConnector) { l.client = c }
}

func NewLocalConnector(name, model, baseURL string, timeout time.Duration, opts ...LocalOption) *LocalConnector {
	if baseURL == "" {
		baseURL = localDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	l := &LocalConnector{
		name:    name,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  resty.New().SetTimeout(timeout),
	}
	for _, o := range opts {
		o(l)
	}
	l.client.SetBaseURL(l.baseURL)
	return l
}

func (l *LocalConnector) Name() string { return l.name }
func (l *LocalConnector) Type() Type   { return TypeLocal }

func (l *LocalConnector) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, localPingTimeout)
	defer cancel()
	resp, err := l.client.R().SetContext(ctx).Get(localTagsPath)
	if err != nil {
		return false
	}
	return resp.IsSuccess()
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (l *LocalConnector) Execute(ctx context.Context, prompt string, params map[string]any) Response {
	opts, err := DecodeOptions(params)
	if err != nil {
		return Failed(l.name, "%v", err)
	}
	model := opts.Model
	if model == "" {
		model = l.model
	}

	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: opts.System,
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		body.Options = make(map[string]any)
		if opts.Temperature != nil {
			body.Options["temperature"] = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			body.Options["num_predict"] = opts.MaxTokens
		}
	}

	var out ollamaGenerateResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(localGeneratePath)
	if err != nil {
		return Failed(l.name, "local model not available: %v", err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = resp.String()
		}
		return Failed(l.name, "local model error (status %d): %s", resp.StatusCode(), msg)
	}
	if out.Error != "" {
		return Failed(l.name, "local model error: %s", out.Error)
	}
	return Response{Success: true, Content: out.Response, ModelName: l.name}
}

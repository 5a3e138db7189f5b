package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Wire formats understood by APIConnector.
const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

const (
	openAIDefaultBaseURL    = "https://api.openai.com/v1"
	openAICompletionsPath   = "/chat/completions"
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// APIConnector calls a hosted model over HTTP, either an OpenAI-compatible
// chat completions endpoint or the Anthropic Messages API. It is available
// once an API key is set.
type APIConnector struct {
	name      string
	api       string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client

	mu     sync.RWMutex
	apiKey string
}

type APIOption func(*APIConnector)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIConnector) { a.client = c }
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) APIOption {
	return func(a *APIConnector) { a.maxTokens = n }
}

func NewAPIConnector(name, api, baseURL, apiKey, model string, opts ...APIOption) (*APIConnector, error) {
	switch api {
	case "", APIOpenAI:
		api = APIOpenAI
		if baseURL == "" {
			baseURL = openAIDefaultBaseURL
		}
	case APIAnthropic:
		if baseURL == "" {
			baseURL = anthropicDefaultBaseURL
		}
	default:
		return nil, fmt.Errorf("unknown api type %q for connector %q (supported: %s, %s)",
			api, name, APIOpenAI, APIAnthropic)
	}
	a := &APIConnector{
		name:    name,
		api:     api,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *APIConnector) Name() string { return a.name }
func (a *APIConnector) Type() Type   { return TypeAPI }

// SetAPIKey replaces the key used for subsequent calls.
func (a *APIConnector) SetAPIKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = key
}

func (a *APIConnector) key() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.apiKey
}

func (a *APIConnector) Available(_ context.Context) bool {
	return a.key() != ""
}

func (a *APIConnector) Execute(ctx context.Context, prompt string, params map[string]any) Response {
	key := a.key()
	if key == "" {
		return Failed(a.name, "API key not set")
	}
	opts, err := DecodeOptions(params)
	if err != nil {
		return Failed(a.name, "%v", err)
	}
	if opts.Model == "" {
		opts.Model = a.model
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = a.maxTokens
	}

	var content string
	if a.api == APIAnthropic {
		content, err = a.completeAnthropic(ctx, key, prompt, opts)
	} else {
		content, err = a.completeOpenAI(ctx, key, prompt, opts)
	}
	if err != nil {
		return Failed(a.name, "%v", err)
	}
	return Response{Success: true, Content: content, ModelName: a.name}
}

// -- OpenAI wire types --

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (a *APIConnector) completeOpenAI(ctx context.Context, key, prompt string, opts CallOptions) (string, error) {
	msgs := make([]oaiMessage, 0, 2)
	if opts.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: opts.System})
	}
	msgs = append(msgs, oaiMessage{Role: "user", Content: prompt})

	headers := map[string]string{"Authorization": "Bearer " + key}
	var resp oaiResponse
	err := a.post(ctx, openAICompletionsPath, headers, oaiRequest{
		Model:       opts.Model,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai error [%s]: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// -- Anthropic wire types --

type anthRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []anthMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *APIConnector) completeAnthropic(ctx context.Context, key, prompt string, opts CallOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}
	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicAPIVersion,
	}
	var resp anthResponse
	err := a.post(ctx, anthropicMessagesPath, headers, anthRequest{
		Model:       opts.Model,
		System:      opts.System,
		Messages:    []anthMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic error [%s]: %s", resp.Error.Type, resp.Error.Message)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (a *APIConnector) post(ctx context.Context, path string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s api error (status %d): %s", a.name, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

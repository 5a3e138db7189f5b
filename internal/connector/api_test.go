package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIConnectorOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}

		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Hi" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.MaxTokens != 256 {
			t.Errorf("max_tokens = %d, want 256", req.MaxTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.2 {
			t.Errorf("temperature = %v", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`))
	}))
	defer server.Close()

	c, err := NewAPIConnector("gpt", APIOpenAI, server.URL, "test-key", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	resp := c.Execute(context.Background(), "Hi", map[string]any{
		"system":      "Be brief.",
		"max_tokens":  "256",
		"temperature": 0.2,
	})
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	if resp.Content != "Hello!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ModelName != "gpt" {
		t.Errorf("model name = %q, want connector name", resp.ModelName)
	}
}

func TestAPIConnectorAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ant-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		var req anthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.MaxTokens != anthropicMaxTokens {
			t.Errorf("max_tokens = %d, want default %d", req.MaxTokens, anthropicMaxTokens)
		}
		if req.Model != "claude-override" {
			t.Errorf("model = %q, want param override", req.Model)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Hel"},{"type":"tool_use"},{"type":"text","text":"lo"}]}`))
	}))
	defer server.Close()

	c, err := NewAPIConnector("claude", APIAnthropic, server.URL, "ant-key", "claude-default")
	if err != nil {
		t.Fatal(err)
	}
	resp := c.Execute(context.Background(), "Hi", map[string]any{"model": "claude-override"})
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	if resp.Content != "Hello" {
		t.Errorf("content = %q, want Hello", resp.Content)
	}
}

func TestAPIConnectorHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	c, _ := NewAPIConnector("gpt", APIOpenAI, server.URL, "k", "m")
	resp := c.Execute(context.Background(), "Hi", nil)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(resp.Error, "status 429") {
		t.Errorf("error = %q, want status 429", resp.Error)
	}
}

func TestAPIConnectorErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request"}}`))
	}))
	defer server.Close()

	c, _ := NewAPIConnector("gpt", "", server.URL, "k", "m")
	resp := c.Execute(context.Background(), "Hi", nil)
	if resp.Success || !strings.Contains(resp.Error, "bad model") {
		t.Errorf("resp = %+v, want bad model failure", resp)
	}
}

func TestAPIConnectorAvailability(t *testing.T) {
	c, err := NewAPIConnector("gpt", APIOpenAI, "", "", "m")
	if err != nil {
		t.Fatal(err)
	}
	if c.Available(context.Background()) {
		t.Error("connector without key should be unavailable")
	}
	resp := c.Execute(context.Background(), "Hi", nil)
	if resp.Success || resp.Error != "API key not set" {
		t.Errorf("resp = %+v, want API key not set", resp)
	}

	c.SetAPIKey("k")
	if !c.Available(context.Background()) {
		t.Error("connector with key should be available")
	}
	if c.Type() != TypeAPI {
		t.Errorf("type = %s", c.Type())
	}
}

func TestAPIConnectorUnknownAPI(t *testing.T) {
	if _, err := NewAPIConnector("x", "grpc", "", "k", "m"); err == nil {
		t.Error("expected error for unknown api")
	}
}

func TestAPIConnectorBadParams(t *testing.T) {
	c, _ := NewAPIConnector("gpt", APIOpenAI, "http://127.0.0.1:0", "k", "m")
	resp := c.Execute(context.Background(), "Hi", map[string]any{"max_tokens": "lots"})
	if resp.Success {
		t.Error("expected failure for undecodable params")
	}
}

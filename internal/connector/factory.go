package connector

import (
	"fmt"
	"time"
)

// Config mirrors config.ConnectorConfig to avoid circular imports.
type Config struct {
	Name      string
	Type      Type
	API       string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	TargetURL string
	RemoteURL string
	Selectors Selectors
	Timeout   time.Duration
}

// FromConfig builds a connector of the configured type:
//   - "api"     -> APIConnector (OpenAI-compatible or Anthropic Messages)
//   - "local"   -> LocalConnector (Ollama)
//   - "browser" -> BrowserConnector (Chrome via chromedp); call Login before use
func FromConfig(cfg Config) (Connector, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("connector name is required")
	}
	switch cfg.Type {
	case TypeAPI:
		return NewAPIConnector(cfg.Name, cfg.API, cfg.BaseURL, cfg.APIKey, cfg.Model, WithMaxTokens(cfg.MaxTokens))
	case TypeLocal:
		return NewLocalConnector(cfg.Name, cfg.Model, cfg.BaseURL, cfg.Timeout), nil
	case TypeBrowser:
		return NewBrowserConnector(cfg.Name, cfg.TargetURL, cfg.RemoteURL, cfg.Selectors, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q for connector %q (supported: %s, %s, %s)",
			cfg.Type, cfg.Name, TypeAPI, TypeBrowser, TypeLocal)
	}
}

package connector

import (
	"testing"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantType Type
		wantErr  bool
	}{
		{name: "api", cfg: Config{Name: "gpt", Type: TypeAPI, APIKey: "k"}, wantType: TypeAPI},
		{name: "anthropic", cfg: Config{Name: "claude", Type: TypeAPI, API: APIAnthropic}, wantType: TypeAPI},
		{name: "local", cfg: Config{Name: "ollama", Type: TypeLocal, Model: "llama3"}, wantType: TypeLocal},
		{name: "browser", cfg: Config{Name: "web", Type: TypeBrowser, TargetURL: "https://x"}, wantType: TypeBrowser},
		{name: "unknown type", cfg: Config{Name: "x", Type: "carrier-pigeon"}, wantErr: true},
		{name: "bad api", cfg: Config{Name: "x", Type: TypeAPI, API: "soap"}, wantErr: true},
		{name: "missing name", cfg: Config{Type: TypeAPI}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := FromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			if c.Name() != tt.cfg.Name {
				t.Errorf("name = %q, want %q", c.Name(), tt.cfg.Name)
			}
			if c.Type() != tt.wantType {
				t.Errorf("type = %q, want %q", c.Type(), tt.wantType)
			}
		})
	}
}

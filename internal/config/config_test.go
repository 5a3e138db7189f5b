package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testYAML = `
connectors:
  gpt:
    type: api
    api: openai-completions
    api_key: "${HF_TEST_OPENAI_KEY}"
    model: gpt-4o
    priority: 10
  claude:
    type: api
    api: anthropic-messages
    api_key: "${HF_TEST_UNSET_KEY}"
    model: claude-sonnet-4
  ollama:
    type: local
    base_url: "http://localhost:11434"
    model: llama3
    timeout: 90s
  web:
    type: browser
    target_url: https://chat.example.com
    remote_url: ws://localhost:9222
    selectors:
      input: textarea
      submit: button[type=submit]
      response: .answer

synthesis:
  ai_connector: claude

state:
  backend: redis
  redis:
    addr: "${HF_TEST_REDIS_ADDR}"
    prefix: "hf:"
  migration_script: migrate.lua

schedule:
  jobs:
    - name: nightly
      cron: "0 2 * * *"
      workflow: workflows/report.yaml
      session: reports
      input:
        topic: go
    - cron: "@hourly"
      workflow: workflows/ping.yaml

server:
  addr: ":9090"

log:
  level: debug
`

func TestParse(t *testing.T) {
	t.Setenv("HF_TEST_OPENAI_KEY", "sk-test")
	t.Setenv("HF_TEST_REDIS_ADDR", "localhost:6379")

	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Connectors) != 4 {
		t.Fatalf("connectors = %d, want 4", len(cfg.Connectors))
	}
	gpt := cfg.Connectors["gpt"]
	if gpt.APIKey != "sk-test" {
		t.Errorf("gpt api_key = %q, want sk-test", gpt.APIKey)
	}
	if gpt.Priority != 10 {
		t.Errorf("gpt priority = %d", gpt.Priority)
	}
	if got := cfg.Connectors["claude"].APIKey; got != "${HF_TEST_UNSET_KEY}" {
		t.Errorf("unset env var should be left as-is, got %q", got)
	}
	if d := cfg.Connectors["ollama"].TimeoutDuration(); d != 90*time.Second {
		t.Errorf("timeout = %v", d)
	}
	if sel := cfg.Connectors["web"].Selectors; sel.Input != "textarea" || sel.Response != ".answer" {
		t.Errorf("selectors = %+v", sel)
	}

	if cfg.Synthesis.AIConnector != "claude" {
		t.Errorf("ai_connector = %q", cfg.Synthesis.AIConnector)
	}
	if cfg.State.Backend != BackendRedis || cfg.State.Redis.Addr != "localhost:6379" || cfg.State.Redis.Prefix != "hf:" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.State.Dir != DefaultStateDir {
		t.Errorf("state dir = %q, want default", cfg.State.Dir)
	}

	jobs := cfg.Schedule.Jobs
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	if jobs[0].Name != "nightly" || jobs[0].Input["topic"] != "go" {
		t.Errorf("job[0] = %+v", jobs[0])
	}
	if jobs[1].Name != "job-2" {
		t.Errorf("job[1] name = %q, want generated", jobs[1].Name)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	lvl, _ := ParseLevel(cfg.Log.Level)
	if lvl != slog.LevelDebug {
		t.Errorf("level = %v", lvl)
	}
	names := cfg.ConnectorNames()
	if strings.Join(names, ",") != "claude,gpt,ollama,web" {
		t.Errorf("names = %v", names)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.Backend != BackendFile {
		t.Errorf("backend = %q, want file", cfg.State.Backend)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown connector type", "connectors: {x: {type: fax}}", "unknown type"},
		{"browser without url", "connectors: {x: {type: browser}}", "target_url"},
		{"bad timeout", "connectors: {x: {type: local, timeout: soon}}", "invalid timeout"},
		{"missing ai connector", "synthesis: {ai_connector: ghost}", "ghost"},
		{"unknown backend", "state: {backend: floppy}", "unknown backend"},
		{"postgres without dsn", "state: {backend: postgres}", "dsn"},
		{"redis without addr", "state: {backend: redis}", "redis.addr"},
		{"job without cron", "schedule: {jobs: [{workflow: w.yaml}]}", "cron and workflow"},
		{"bad log level", "log: {level: loud}", "unknown level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("state:\n  backend: sqlite\n  dir: /tmp/hf\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Backend != BackendSQLite || cfg.State.Dir != "/tmp/hf" {
		t.Errorf("state = %+v", cfg.State)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/opentalon/hybridflow/internal/config"
	"github.com/opentalon/hybridflow/internal/runner"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/state/store"
	"github.com/opentalon/hybridflow/internal/workflow"
)

func TestVarFlags(t *testing.T) {
	var v varFlags
	for _, s := range []string{"topic=go", "n=1", "topic=rust", "expr=a=b"} {
		if err := v.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	m := v.Map()
	if m["topic"] != "rust" || m["n"] != "1" || m["expr"] != "a=b" {
		t.Errorf("Map() = %v", m)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if err := v.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
	var empty varFlags
	if empty.Map() != nil {
		t.Error("empty flags should give nil map")
	}
}

func TestNewAppWiresConnectors(t *testing.T) {
	cfg, err := config.Parse([]byte(`
connectors:
  gpt:
    type: api
    api_key: k
    model: gpt-4o
    priority: 5
  ollama:
    type: local
    model: llama3
synthesis:
  ai_connector: gpt
state:
  dir: ` + t.TempDir() + `
`))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	names := a.runner.Router().Names()
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
	if _, ok := a.runner.Store().(*state.FileStore); !ok {
		t.Errorf("store = %T, want file store", a.runner.Store())
	}
}

func TestOpenStoreBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	tests := []struct {
		name  string
		state config.StateConfig
		check func(state.Store) bool
	}{
		{"file", config.StateConfig{Backend: config.BackendFile, Dir: dir}, func(s state.Store) bool { _, ok := s.(*state.FileStore); return ok }},
		{"sqlite", config.StateConfig{Backend: config.BackendSQLite, Dir: dir}, func(s state.Store) bool { _, ok := s.(*store.SessionStore); return ok }},
		{"redis", config.StateConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{Addr: mr.Addr()}}, func(s state.Store) bool { _, ok := s.(*store.RedisSessionStore); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{}
			defer a.Close()
			st, err := a.openStore(context.Background(), tt.state, nil)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(st) {
				t.Errorf("store = %T", st)
			}
			if err := st.Save(context.Background(), state.New("probe")); err != nil {
				t.Fatalf("Save: %v", err)
			}
		})
	}
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	a := &app{}
	if _, err := a.openStore(context.Background(), config.StateConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{Addr: addr}}, nil); err == nil {
		t.Error("expected ping error")
	}
}

func TestNewAppLoadsMigrationScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "migrate.lua")
	if err := os.WriteFile(script, []byte("function migrate(record, from, to) return nil end\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Parse([]byte("state:\n  dir: " + dir + "\n  migration_script: " + script + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	a.Close()

	cfg.State.MigrationScript = filepath.Join(dir, "missing.lua")
	if _, err := newApp(context.Background(), cfg, io.Discard); err == nil {
		t.Error("expected error for missing migration script")
	}
}

func TestRunOnceWritesSession(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte("state:\n  dir: " + dir + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	wf := &workflow.Workflow{Name: "w", Steps: []workflow.Step{{Name: "s", Prompt: "x", Model: "nobody"}}}
	_, err = a.runner.Run(context.Background(), runner.Request{Workflow: wf, SessionID: "cli"})
	if err == nil {
		t.Fatal("expected failure with no connectors")
	}
	if _, err := a.runner.Store().Load(context.Background(), "cli"); err != nil {
		t.Errorf("failed run should still be saved: %v", err)
	}
}

func TestJobsFromConfig(t *testing.T) {
	cfg := &config.Config{Schedule: config.ScheduleConfig{Jobs: []config.JobConfig{
		{Name: "a", Cron: "@daily", Workflow: "wf.yaml", Session: "s", Input: map[string]any{"k": "v"}},
	}}}
	jobs := jobsFromConfig(cfg)
	if len(jobs) != 1 || jobs[0].Name != "a" || jobs[0].Input["k"] != "v" {
		t.Errorf("jobs = %+v", jobs)
	}
}

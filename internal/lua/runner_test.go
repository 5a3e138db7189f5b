package lua

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opentalon/hybridflow/internal/state"
)

func writeScript(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.lua")
	if err := os.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMigratorUpgradesRecord(t *testing.T) {
	path := writeScript(t, `
function migrate(record, from, to)
  if from ~= "0.9.0" then
    return nil
  end
  record.stepOutputs = { legacy = record.outputs, tags = { "a", "b" } }
  record.outputs = nil
  record.note = from .. "->" .. to
  return record
end
`)
	migrate, err := LoadMigrator(path)
	if err != nil {
		t.Fatalf("LoadMigrator: %v", err)
	}

	out, err := migrate(map[string]any{
		"version":   "0.9.0",
		"sessionId": "s1",
		"outputs":   "kept",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["note"] != "0.9.0->"+state.SchemaVersion {
		t.Errorf("note = %v", out["note"])
	}
	if _, ok := out["outputs"]; ok {
		t.Error("outputs should be removed")
	}
	so, ok := out["stepOutputs"].(map[string]any)
	if !ok {
		t.Fatalf("stepOutputs = %#v", out["stepOutputs"])
	}
	if so["legacy"] != "kept" {
		t.Errorf("legacy = %v", so["legacy"])
	}
	tags, ok := so["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags = %#v", so["tags"])
	}
}

func TestMigratorDiscards(t *testing.T) {
	path := writeScript(t, `function migrate(record) return nil end`)
	migrate, err := LoadMigrator(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := migrate(map[string]any{"version": "0.1.0"})
	if err != nil || out != nil {
		t.Errorf("out = %v, err = %v, want nil, nil", out, err)
	}
}

func TestMigratorWithFromRecord(t *testing.T) {
	path := writeScript(t, `
function migrate(record)
  record.finalOutput = "from lua"
  return record
end
`)
	migrate, err := LoadMigrator(path)
	if err != nil {
		t.Fatal(err)
	}
	c, migrated, err := state.FromRecord(map[string]any{"version": "0.5.0", "sessionId": "x"}, migrate)
	if err != nil {
		t.Fatal(err)
	}
	if !migrated || c.FinalOutput != "from lua" || c.Version != state.SchemaVersion {
		t.Errorf("c = %+v, migrated = %v", c, migrated)
	}
}

func TestLoadMigratorErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"missing function", `x = 1`},
		{"not a function", `migrate = 42`},
		{"syntax error", `function migrate(`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadMigrator(writeScript(t, tt.script)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadMigrator(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunMigrationBadReturn(t *testing.T) {
	path := writeScript(t, `function migrate(record) return "nope" end`)
	if _, err := RunMigration(path, map[string]any{}); err == nil {
		t.Error("expected error for string return")
	}

	path = writeScript(t, `function migrate(record) return { 1, 2 } end`)
	if _, err := RunMigration(path, map[string]any{}); err == nil {
		t.Error("expected error for array return")
	}

	path = writeScript(t, `function migrate(record) error("broken") end`)
	if _, err := RunMigration(path, map[string]any{}); err == nil {
		t.Error("expected error when script raises")
	}
}

func TestMigratorGetenv(t *testing.T) {
	t.Setenv("HYBRIDFLOW_TEST_TAG", "from-env")
	path := writeScript(t, `
local os = require("os")
function migrate(record)
  record.tag = os.getenv("HYBRIDFLOW_TEST_TAG")
  return record
end
`)
	out, err := RunMigration(path, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if out["tag"] != "from-env" {
		t.Errorf("tag = %v", out["tag"])
	}
}

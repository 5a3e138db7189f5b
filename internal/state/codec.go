package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleSession means a record had a foreign schema version and could
	// not be migrated. Callers discard it and start fresh.
	ErrStaleSession = errors.New("session record is stale")
	ErrInvalidID    = errors.New("invalid session id")
)

// Migrator upgrades a record written under another schema version. It
// returns nil to discard the record.
type Migrator func(record map[string]any) (map[string]any, error)

// ToRecord converts c into the generic record form used for persistence
// and migration.
func ToRecord(c *Context) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return rec, nil
}

// FromRecord decodes a persisted record. A record tagged with another
// version is passed through migrate; migrated reports whether that
// happened so stores can write the upgraded record back.
func FromRecord(rec map[string]any, migrate Migrator) (c *Context, migrated bool, err error) {
	if rec == nil {
		return nil, false, ErrStaleSession
	}
	if v, _ := rec["version"].(string); v != SchemaVersion {
		if migrate == nil {
			return nil, false, ErrStaleSession
		}
		rec, err = migrate(rec)
		if err != nil {
			return nil, false, fmt.Errorf("migrating session from version %q: %w", v, err)
		}
		if rec == nil {
			return nil, false, ErrStaleSession
		}
		rec["version"] = SchemaVersion
		migrated = true
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("decoding session: %w", err)
	}
	c = new(Context)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, false, fmt.Errorf("decoding session: %w", err)
	}
	if c.StepOutputs == nil {
		c.StepOutputs = make(map[string]any)
	}
	if c.ExecutionHistory == nil {
		c.ExecutionHistory = make([]*StepState, 0)
	}
	return c, migrated, nil
}

// Marshal encodes c as a JSON record.
func Marshal(c *Context) ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a JSON record, migrating it when needed.
func Unmarshal(data []byte, migrate Migrator) (*Context, bool, error) {
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("parsing session: %w", err)
	}
	return FromRecord(rec, migrate)
}

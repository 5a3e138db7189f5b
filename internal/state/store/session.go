package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opentalon/hybridflow/internal/state"
)

// SessionStore keeps session records in the sessions table as JSON.
type SessionStore struct {
	db          *DB
	migrate     state.Migrator
	maxIdleDays int // 0 = don't prune
}

var _ state.Store = (*SessionStore)(nil)

// NewSessionStore returns a session store that uses the given DB.
// migrate upgrades records written under another schema version (nil discards them);
// maxIdleDays enables pruning of idle sessions (0 = off).
func NewSessionStore(db *DB, migrate state.Migrator, maxIdleDays int) *SessionStore {
	return &SessionStore{db: db, migrate: migrate, maxIdleDays: maxIdleDays}
}

// Save upserts the session record.
func (s *SessionStore) Save(ctx context.Context, c *state.Context) error {
	if err := state.ValidateID(c.SessionID); err != nil {
		return err
	}
	c.Touch()
	data, err := state.Marshal(c)
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	_, err = s.db.SQLDB().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO sessions (id, version, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET version = excluded.version, record = excluded.record, updated_at = excluded.updated_at`),
		c.SessionID, c.Version, string(data),
		c.CreatedAt.UTC().Format(time.RFC3339), c.LastUpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

// Load reads a session. Stale records that cannot be migrated are deleted
// and reported as state.ErrSessionNotFound; migrated ones are written back.
func (s *SessionStore) Load(ctx context.Context, id string) (*state.Context, error) {
	var record string
	err := s.db.SQLDB().QueryRowContext(ctx, s.db.Rebind(`SELECT record FROM sessions WHERE id = ?`), id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", state.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}

	c, migrated, err := state.Unmarshal([]byte(record), s.migrate)
	if errors.Is(err, state.ErrStaleSession) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %q discarded", state.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if migrated {
		if err := s.Save(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// List returns all session ids.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.SQLDB().ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// PruneIdleSessions deletes sessions not updated in the last maxIdleDays days.
// No-op if maxIdleDays <= 0. Call on startup or periodically.
func (s *SessionStore) PruneIdleSessions(ctx context.Context) (int64, error) {
	if s.maxIdleDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.maxIdleDays).UTC().Format(time.RFC3339)
	res, err := s.db.SQLDB().ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("session prune: %w", err)
	}
	return res.RowsAffected()
}

package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store persists session contexts.
type Store interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, id string) (*Context, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateID rejects ids that cannot be used as file names or keys.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || !validID.MatchString(id) {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

// LoadOrNew loads id from s, or returns a fresh session when there is none
// (or the stored one was discarded).
func LoadOrNew(ctx context.Context, s Store, id string) (*Context, error) {
	if id == "" {
		id = DefaultSessionID
	}
	c, err := s.Load(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return New(id), nil
	}
	return c, err
}

// FileStore keeps one YAML file per session under dir.
type FileStore struct {
	dir     string
	migrate Migrator
}

func NewFileStore(dir string, migrate Migrator) *FileStore {
	return &FileStore{dir: dir, migrate: migrate}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

func (s *FileStore) Save(_ context.Context, c *Context) error {
	if err := ValidateID(c.SessionID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}
	c.Touch()
	rec, err := ToRecord(c)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	return os.WriteFile(s.path(c.SessionID), data, 0600)
}

func (s *FileStore) Load(ctx context.Context, id string) (*Context, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var rec map[string]any
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	c, migrated, err := FromRecord(rec, s.migrate)
	if errors.Is(err, ErrStaleSession) {
		_ = os.Remove(s.path(id))
		return nil, fmt.Errorf("%w: %q discarded", ErrSessionNotFound, id)
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

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

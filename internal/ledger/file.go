package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// FileStore keeps one JSON file per entry in a directory.
type FileStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileStore creates a FileStore. If dir is empty, the default cache
// directory is used. A zero ttl keeps entries forever.
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (s *FileStore) Seen(_ context.Context, key string) (bool, error) {
	entry, err := s.read(s.entryPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.expired(entry) {
		os.Remove(s.entryPath(key))
		return false, nil
	}
	return true, nil
}

func (s *FileStore) Record(_ context.Context, key string, e Entry) error {
	e.Key = key
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling ledger entry: %w", err)
	}
	if err := os.WriteFile(s.entryPath(key), data, 0o644); err != nil {
		return fmt.Errorf("writing ledger entry: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading ledger directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *FileStore) Stats(context.Context) (Stats, error) {
	stats := Stats{Backend: "file", Location: s.dir}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading ledger directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()

		entry, err := s.read(filepath.Join(s.dir, e.Name()))
		if err == nil && s.expired(entry) {
			stats.Expired++
		}
	}
	return stats, nil
}

func (s *FileStore) Close() error { return nil }

// Dir returns the ledger directory path.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) read(path string) (Entry, error) {
	var entry Entry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("parsing ledger entry %s: %w", filepath.Base(path), err)
	}
	return entry, nil
}

func (s *FileStore) expired(e Entry) bool {
	return s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl
}

func (s *FileStore) entryPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// DefaultDir returns the per-user ledger directory.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "diffreview", "ledger"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "diffreview", "ledger"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "diffreview", "ledger"), nil
		}
		return filepath.Join(home, "AppData", "Local", "diffreview", "ledger"), nil
	default:
		return filepath.Join(home, ".cache", "diffreview", "ledger"), nil
	}
}

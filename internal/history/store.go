// Package history persists the measurement log in two redundant forms: a JSON
// array (row-exchange, source of truth) and a CSV file (columnar export,
// re-derived on every save).
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"speedchecker/pkg/logx"
)

// ErrNoData marks an export request against an empty log.
var ErrNoData = errors.New("no history data available")

// PersistError wraps a failed durable write. Previously-durable state is
// unaffected: all writes go through a temp file and an atomic rename.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist %s: %v", e.Path, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// Store is the append-only history log. Safe for concurrent use; the full
// rewrite on every save is fine at measurement frequency (hours to daily).
type Store struct {
	jsonPath string
	csvPath  string
	log      logx.Logger

	mu sync.Mutex
}

func NewStore(dataDir string, log logx.Logger) *Store {
	return &Store{
		jsonPath: filepath.Join(dataDir, "speedtest_history.json"),
		csvPath:  filepath.Join(dataDir, "speedtest_history.csv"),
		log:      log,
	}
}

// Load returns the logged entries in append order. A missing or unreadable
// file is an empty log, never an error: corruption must not be fatal to
// callers.
func (s *Store) Load() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() []Entry {
	data, err := os.ReadFile(s.jsonPath)
	if err != nil {
		if !os.IsNotExist(err) && !s.log.IsZero() {
			s.log.Warn("history unreadable, treating as empty", logx.String("path", s.jsonPath), logx.Err(err))
		}
		return []Entry{}
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("history corrupt, treating as empty", logx.String("path", s.jsonPath), logx.Err(err))
		}
		return []Entry{}
	}
	return entries
}

// Append adds one entry and rewrites both persisted forms.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.loadLocked(), e)
	return s.saveLocked(entries)
}

// Clear resets both persisted forms to empty.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked([]Entry{})
}

// Export renders the columnar form as CSV bytes. ErrNoData until at least
// one entry exists.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked()
	if len(entries) == 0 {
		return nil, ErrNoData
	}
	b, err := gocsv.MarshalBytes(&entries)
	if err != nil {
		return nil, fmt.Errorf("marshal history csv: %w", err)
	}
	return b, nil
}

// saveLocked rewrites both forms. Both are marshaled before either file is
// touched, so an encoding failure writes nothing. If the CSV rewrite itself
// fails after the JSON rename, the JSON rewind is not attempted; the CSV is
// re-derivable and will catch up on the next successful save.
func (s *Store) saveLocked(entries []Entry) error {
	jb, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	var cb []byte
	if len(entries) > 0 {
		cb, err = gocsv.MarshalBytes(&entries)
		if err != nil {
			return fmt.Errorf("marshal history csv: %w", err)
		}
	}

	if err := writeFileAtomic(s.jsonPath, jb); err != nil {
		return &PersistError{Path: s.jsonPath, Err: err}
	}
	if err := writeFileAtomic(s.csvPath, cb); err != nil {
		return &PersistError{Path: s.csvPath, Err: err}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Package conf owns the single mutable runtime configuration record. It is
// persisted as JSON so the dashboard process can read it, and reloaded when
// another process edits it on disk.
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"speedchecker/internal/provider"
	"speedchecker/pkg/logx"
)

// ProviderBoth selects the sequential two-provider pipeline.
const ProviderBoth = "both"

// Config is the process-wide auto-testing configuration.
//
// RunBothTests is derived from AutoTestProvider and recomputed on every
// update; it is persisted only for the dashboard's convenience and never
// trusted on load.
type Config struct {
	AutoTestEnabled   bool   `json:"autoTestEnabled"`
	AutoTestInterval  int    `json:"autoTestInterval"`  // seconds
	AutoTestProvider  string `json:"autoTestProvider"`  // provider name or "both"
	RunBothTests      bool   `json:"runBothTests"`      // derived
	DelayBetweenTests int    `json:"delayBetweenTests"` // seconds, scheduled-run inter-test delay
	NextScheduledTest *int64 `json:"nextScheduledTest,omitempty"`
}

// Patch carries a partial update; nil fields stay unchanged.
type Patch struct {
	AutoTestEnabled   *bool   `json:"autoTestEnabled"`
	AutoTestInterval  *int    `json:"autoTestInterval"`
	AutoTestProvider  *string `json:"autoTestProvider"`
	DelayBetweenTests *int    `json:"delayBetweenTests"`
}

// Store guards the config record and its on-disk copy. mu covers both: a
// writer holds it from mutation through the rename, so the file on disk
// never lags a record a concurrent reader has already observed.
type Store struct {
	path string
	log  logx.Logger
	now  func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func NewStore(dataDir string, log logx.Logger) *Store {
	return &Store{
		path: filepath.Join(dataDir, "config.json"),
		log:  log,
		now:  time.Now,
	}
}

// FromEnv builds the default config from environment variables, falling back
// to the documented defaults.
func FromEnv() Config {
	cfg := Config{
		AutoTestEnabled:   envBool("AUTO_TEST_ENABLED", true),
		AutoTestInterval:  envInt("AUTO_TEST_INTERVAL", 86400),
		AutoTestProvider:  strings.ToLower(envString("AUTO_TEST_PROVIDER", ProviderBoth)),
		DelayBetweenTests: envInt("DELAY_BETWEEN_TESTS", 300),
	}
	cfg.RunBothTests = cfg.AutoTestProvider == ProviderBoth
	return cfg
}

// Load reads the persisted record, seeding environment-derived defaults when
// it is missing or unreadable. Config corruption is never fatal.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && !s.log.IsZero() {
			s.log.Warn("config unreadable, seeding defaults", logx.String("path", s.path), logx.Err(err))
		}
		return s.seedDefaults()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("config corrupt, seeding defaults", logx.String("path", s.path), logx.Err(err))
		}
		return s.seedDefaults()
	}

	cfg = sanitize(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *Store) seedDefaults() error {
	cfg := FromEnv()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return s.persist(cfg)
}

// Get returns a copy of the current record.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update merges the patch, recomputes the derived fields and persists the
// result as one step. Reads after a successful Update observe the new record.
func (s *Store) Update(p Patch) (Config, error) {
	// Normalize into a local; the caller's Patch is never written to.
	var selector string
	if p.AutoTestProvider != nil {
		selector = strings.ToLower(strings.TrimSpace(*p.AutoTestProvider))
		if selector != ProviderBoth {
			if _, err := provider.Parse(selector); err != nil {
				return Config{}, fmt.Errorf("invalid provider selector: %w", err)
			}
		}
	}
	if p.AutoTestInterval != nil && *p.AutoTestInterval <= 0 {
		return Config{}, fmt.Errorf("autoTestInterval must be positive, got %d", *p.AutoTestInterval)
	}
	if p.DelayBetweenTests != nil && *p.DelayBetweenTests < 0 {
		return Config{}, fmt.Errorf("delayBetweenTests must not be negative, got %d", *p.DelayBetweenTests)
	}

	// The lock is held through persist so concurrent updates cannot land
	// their renames out of order and leave the file behind the record.
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	if p.AutoTestEnabled != nil {
		cfg.AutoTestEnabled = *p.AutoTestEnabled
	}
	if p.AutoTestInterval != nil {
		cfg.AutoTestInterval = *p.AutoTestInterval
	}
	if p.AutoTestProvider != nil {
		cfg.AutoTestProvider = selector
	}
	if p.DelayBetweenTests != nil {
		cfg.DelayBetweenTests = *p.DelayBetweenTests
	}

	// Derived fields are recomputed on every update, never stored independently.
	cfg.RunBothTests = cfg.AutoTestProvider == ProviderBoth
	if cfg.AutoTestEnabled {
		next := s.now().Unix() + int64(cfg.AutoTestInterval)
		cfg.NextScheduledTest = &next
	} else {
		cfg.NextScheduledTest = nil
	}

	s.cfg = cfg
	if err := s.persist(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Store) persist(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	// Unique temp name so a competing writer can never unlink or rename
	// this one's file out from under it.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// sanitize repairs records written by other processes: the derived flag is
// recomputed and out-of-range values fall back to defaults.
func sanitize(cfg Config) Config {
	def := FromEnv()
	sel := strings.ToLower(strings.TrimSpace(cfg.AutoTestProvider))
	if sel != ProviderBoth {
		if _, err := provider.Parse(sel); err != nil {
			sel = def.AutoTestProvider
		}
	}
	cfg.AutoTestProvider = sel
	cfg.RunBothTests = sel == ProviderBoth
	if cfg.AutoTestInterval <= 0 {
		cfg.AutoTestInterval = def.AutoTestInterval
	}
	if cfg.DelayBetweenTests < 0 {
		cfg.DelayBetweenTests = def.DelayBetweenTests
	}
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

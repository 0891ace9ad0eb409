// Package settings holds the immutable boot configuration: everything fixed
// at process start, as opposed to the mutable runtime record in internal/conf.
// The file may be JSON or YAML; YAML is coerced to JSON so one strict decoder
// serves both formats.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Defaults applied for omitted fields.
const (
	DefaultListenAddr     = ":5000"
	DefaultDataDir        = "data"
	DefaultCommandTimeout = 5 * time.Minute
	DefaultTickPeriod     = time.Minute
	DefaultManualRunDelay = 2 * time.Minute
)

// Settings is the on-disk boot configuration.
//
// All durations are Go duration strings (e.g. "30s", "2m").
type Settings struct {
	ListenAddr string `json:"listen_addr,omitempty"`
	DataDir    string `json:"data_dir,omitempty"`

	// Providers maps a provider name to the argv of the command that runs
	// its measurement and prints the result JSON on stdout.
	Providers map[string][]string `json:"providers,omitempty"`

	CommandTimeout string `json:"command_timeout,omitempty"`
	TickPeriod     string `json:"tick_period,omitempty"`

	// ManualRunDelay is the fixed inter-test pause used by the manual
	// run-now path. The scheduled path uses the mutable delayBetweenTests
	// from the runtime config instead.
	ManualRunDelay string `json:"manual_run_delay,omitempty"`

	Logging LoggingSettings `json:"logging,omitempty"`
}

type LoggingSettings struct {
	Level string   `json:"level,omitempty"`
	File  FileSink `json:"file,omitempty"`
}

type FileSink struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Load reads and validates the settings file. A missing path yields pure
// defaults; an unreadable or malformed file is an error, unlike the runtime
// config, because a wrong boot file should stop the process, not be papered
// over.
func Load(path string) (Settings, error) {
	s := Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read settings: %w", err)
			}
		} else {
			jb, err := yamlToJSON(path, data)
			if err != nil {
				return Settings{}, fmt.Errorf("parse settings: %w", err)
			}
			dec := json.NewDecoder(bytes.NewReader(jb))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&s); err != nil {
				return Settings{}, fmt.Errorf("decode settings: %w", err)
			}
			if err := dec.Decode(&struct{}{}); err != io.EOF {
				if err == nil {
					return Settings{}, fmt.Errorf("invalid settings: trailing data")
				}
				return Settings{}, fmt.Errorf("decode settings: %w", err)
			}
		}
	}

	s.applyEnv()
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		s.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATA_DIR")); v != "" {
		s.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		s.Logging.Level = v
	}
}

func (s *Settings) applyDefaults() {
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
}

func (s *Settings) validate() error {
	for name, argv := range s.Providers {
		if len(argv) == 0 {
			return fmt.Errorf("providers.%s: empty command", name)
		}
	}
	for _, f := range []string{s.CommandTimeout, s.TickPeriod, s.ManualRunDelay} {
		if f == "" {
			continue
		}
		if _, err := time.ParseDuration(f); err != nil {
			return fmt.Errorf("invalid duration %q: %w", f, err)
		}
	}
	return nil
}

// CommandTimeoutOr returns the configured command timeout or the default.
func (s Settings) CommandTimeoutOr() time.Duration {
	return durationOr(s.CommandTimeout, DefaultCommandTimeout)
}

func (s Settings) TickPeriodOr() time.Duration {
	return durationOr(s.TickPeriod, DefaultTickPeriod)
}

func (s Settings) ManualRunDelayOr() time.Duration {
	return durationOr(s.ManualRunDelay, DefaultManualRunDelay)
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// yamlToJSON converts a YAML settings file to JSON bytes so the strict JSON
// decoder above serves both formats. Other extensions pass through untouched.
func yamlToJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites non-string map keys so the decoded YAML value can be
// JSON-marshaled.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}

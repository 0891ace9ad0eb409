package conf

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"speedchecker/pkg/logx"
)

// Watch reloads the record when the on-disk copy changes, so edits made by
// other processes become visible without a restart. It blocks until ctx is
// done and recreates the watcher with a small backoff when it breaks.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	const (
		restartBackoff = time.Second
		debounceDelay  = 250 * time.Millisecond
	)

	// Debounce to avoid reacting to partial writes.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() { s.reload() })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			if !s.log.IsZero() {
				s.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(restartBackoff):
				continue
			}
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil && !s.log.IsZero() {
					s.log.Warn("config watch error", logx.Err(werr), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartBackoff):
		}
	}
}

// reload re-reads the on-disk record and commits it when it differs from the
// in-memory copy. Parse failures leave the current record untouched.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !s.log.IsZero() {
			s.log.Warn("config reload failed", logx.String("path", s.path), logx.Err(err))
		}
		return
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("config reload rejected", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	cfg = sanitize(cfg)

	s.mu.Lock()
	changed := !configsEqual(cfg, s.cfg)
	if changed {
		s.cfg = cfg
	}
	s.mu.Unlock()

	if changed && !s.log.IsZero() {
		s.log.Info("config reloaded from disk", logx.String("path", s.path))
	}
}

func configsEqual(a, b Config) bool {
	if a.AutoTestEnabled != b.AutoTestEnabled ||
		a.AutoTestInterval != b.AutoTestInterval ||
		a.AutoTestProvider != b.AutoTestProvider ||
		a.RunBothTests != b.RunBothTests ||
		a.DelayBetweenTests != b.DelayBetweenTests {
		return false
	}
	switch {
	case a.NextScheduledTest == nil && b.NextScheduledTest == nil:
		return true
	case a.NextScheduledTest == nil || b.NextScheduledTest == nil:
		return false
	default:
		return *a.NextScheduledTest == *b.NextScheduledTest
	}
}

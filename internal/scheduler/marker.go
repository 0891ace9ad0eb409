package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker persists the last scheduler-triggered run time as one epoch-seconds
// value. A missing or unreadable file reads as zero, which makes the first
// tick after a fresh deploy eligible immediately.
type Marker struct {
	path string
}

func NewMarker(dataDir string) *Marker {
	return &Marker{path: filepath.Join(dataDir, "last_run.txt")}
}

// Read returns the stored trigger time, or the zero time when no valid
// marker exists.
func (m *Marker) Read() time.Time {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return time.Time{}
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

// Write records t via temp file and rename so a crash mid-write cannot leave
// a truncated marker.
func (m *Marker) Write(t time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(t.Unix(), 10)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close marker: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"speedchecker/internal/conf"
	"speedchecker/internal/provider"
	"speedchecker/internal/registry"
	"speedchecker/pkg/logx"
)

type launchCall struct {
	both   bool
	single provider.Provider
	delay  time.Duration
}

type fakeTrigger struct {
	calls []launchCall
}

func (f *fakeTrigger) Launch(both bool, single provider.Provider, delay time.Duration) {
	f.calls = append(f.calls, launchCall{both: both, single: single, delay: delay})
}

func newTestScheduler(t *testing.T, patch conf.Patch) (*Scheduler, *Marker, *registry.Registry, *fakeTrigger) {
	t.Helper()
	dir := t.TempDir()
	cfg := conf.NewStore(dir, logx.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Update(patch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	reg := registry.New()
	marker := NewMarker(dir)
	trig := &fakeTrigger{}
	return New(cfg, reg, marker, trig, logx.Nop()), marker, reg, trig
}

func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestTickBoundary(t *testing.T) {
	s, marker, _, trig := newTestScheduler(t, conf.Patch{AutoTestInterval: intPtr(3600)})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := marker.Write(base); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s.Tick(base.Add(3599 * time.Second))
	if len(trig.calls) != 0 {
		t.Fatalf("expected no trigger at T+3599, got %v", trig.calls)
	}

	at := base.Add(3601 * time.Second)
	s.Tick(at)
	if len(trig.calls) != 1 {
		t.Fatalf("expected trigger at T+3601, got %v", trig.calls)
	}
	if got := marker.Read(); !got.Equal(at) {
		t.Fatalf("expected marker set to trigger time %v, got %v", at, got)
	}
}

func TestTickSkipsWhileBusy(t *testing.T) {
	s, marker, reg, trig := newTestScheduler(t, conf.Patch{AutoTestInterval: intPtr(3600)})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := marker.Write(base); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reg.Register(provider.OpenSpeedTest, base)

	s.Tick(base.Add(48 * time.Hour))
	if len(trig.calls) != 0 {
		t.Fatalf("expected busy skip, got %v", trig.calls)
	}
	if got := marker.Read(); !got.Equal(base) {
		t.Fatalf("busy skip must leave marker untouched, got %v", got)
	}
}

func TestTickSkipsWhenDisabled(t *testing.T) {
	s, _, _, trig := newTestScheduler(t, conf.Patch{AutoTestEnabled: boolPtr(false)})

	s.Tick(time.Now().UTC())
	if len(trig.calls) != 0 {
		t.Fatalf("expected disabled skip, got %v", trig.calls)
	}
}

func TestTickMissingMarkerTriggersImmediately(t *testing.T) {
	s, _, _, trig := newTestScheduler(t, conf.Patch{
		AutoTestProvider:  strPtr("speedsmart"),
		DelayBetweenTests: intPtr(60),
	})

	s.Tick(time.Now().UTC())
	if len(trig.calls) != 1 {
		t.Fatalf("expected first-ever tick to trigger, got %v", trig.calls)
	}
	call := trig.calls[0]
	if call.both || call.single != provider.SpeedSmart {
		t.Fatalf("expected single speedsmart launch, got %+v", call)
	}
	if call.delay != 60*time.Second {
		t.Fatalf("expected configured delay 60s, got %v", call.delay)
	}
}

func TestTickPassesBothWithConfiguredDelay(t *testing.T) {
	s, _, _, trig := newTestScheduler(t, conf.Patch{DelayBetweenTests: intPtr(300)})

	s.Tick(time.Now().UTC())
	if len(trig.calls) != 1 || !trig.calls[0].both {
		t.Fatalf("expected dual-provider launch with default selector, got %v", trig.calls)
	}
	if trig.calls[0].delay != 300*time.Second {
		t.Fatalf("expected 300s delay, got %v", trig.calls[0].delay)
	}
}

func TestTickTriggersEvenWhenMarkerWriteFails(t *testing.T) {
	s, _, _, trig := newTestScheduler(t, conf.Patch{AutoTestInterval: intPtr(3600)})

	// A marker that cannot persist must not stop scheduled testing; the
	// stale marker only risks an early re-run.
	roDir := filepath.Join(t.TempDir(), "ro")
	if err := os.MkdirAll(roDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chmod(roDir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(roDir, 0o755) })

	m := NewMarker(roDir)
	if err := m.Write(time.Now().UTC()); err == nil {
		t.Skip("running as privileged user; write succeeded despite read-only dir")
	}
	s.marker = m

	s.Tick(time.Now().UTC())
	if len(trig.calls) != 1 {
		t.Fatalf("expected trigger despite marker write failure, got %v", trig.calls)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	m := NewMarker(t.TempDir())

	if got := m.Read(); !got.IsZero() {
		t.Fatalf("expected zero time for missing marker, got %v", got)
	}

	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if err := m.Write(at); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.Read(); !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"speedchecker/internal/history"
	"speedchecker/internal/provider"
	"speedchecker/pkg/logx"
)

// scriptedCapability returns one canned response per attempt.
type scriptedCapability struct {
	outputs []string
	errs    []error
	calls   int
}

func (c *scriptedCapability) Run(ctx context.Context, p provider.Provider) (string, error) {
	i := c.calls
	c.calls++
	if i >= len(c.outputs) {
		i = len(c.outputs) - 1
	}
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return c.outputs[i], err
}

const speedsmartJSON = `{
  "download_speed": 88.4,
  "upload_speed": 11.0,
  "ping_speed": 21,
  "jitter": 1.25,
  "isp_name": "Contoso Telecom",
  "server_name": "Frankfurt"
}`

func newTestRunner(t *testing.T, cap provider.Capability) (*Runner, *history.Store) {
	t.Helper()
	store := history.NewStore(t.TempDir(), logx.Nop())
	r := New(cap, store, logx.Nop())
	r.pause = func(ctx context.Context, d time.Duration) {}
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r, store
}

func TestThirdAttemptSucceeds(t *testing.T) {
	cap := &scriptedCapability{
		outputs: []string{"no json here", "still nothing", "noise\n" + speedsmartJSON + "\ntrailer"},
	}
	r, store := newTestRunner(t, cap)

	entry, err := r.Run(context.Background(), provider.SpeedSmart)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cap.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", cap.calls)
	}
	if entry.Download != 88.4 || entry.Provider != "speedsmart" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	got := store.Load()
	if len(got) != 1 {
		t.Fatalf("expected exactly one appended entry, got %d", len(got))
	}
}

func TestAllAttemptsFailNothingAppended(t *testing.T) {
	cap := &scriptedCapability{outputs: []string{"no json", "no json", "no json"}}
	r, store := newTestRunner(t, cap)

	_, err := r.Run(context.Background(), provider.OpenSpeedTest)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T: %v", err, err)
	}
	if f.Kind != KindNoJSON {
		t.Fatalf("expected kind %q, got %q", KindNoJSON, f.Kind)
	}
	if f.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.Attempts)
	}
	if got := store.Load(); len(got) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(got))
	}
}

func TestFailureKindMatchesFinalAttempt(t *testing.T) {
	// Attempts 1-2 fail execution, attempt 3 produces broken JSON: the
	// surfaced kind must reflect the last attempt, not the first.
	boom := errors.New("browser crashed")
	cap := &scriptedCapability{
		outputs: []string{"", "", "{broken"},
		errs:    []error{boom, boom, nil},
	}
	r, _ := newTestRunner(t, cap)

	_, err := r.Run(context.Background(), provider.OpenSpeedTest)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != KindParse {
		t.Fatalf("expected kind %q, got %q", KindParse, f.Kind)
	}
	if f.RawOutput != "{broken" {
		t.Fatalf("expected raw output of final attempt, got %q", f.RawOutput)
	}
}

func TestExecutionErrorCarriesCause(t *testing.T) {
	boom := errors.New("browser crashed")
	cap := &scriptedCapability{
		outputs: []string{"", "", ""},
		errs:    []error{boom, boom, boom},
	}
	r, _ := newTestRunner(t, cap)

	_, err := r.Run(context.Background(), provider.SpeedSmart)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != KindExecution || !errors.Is(f, boom) {
		t.Fatalf("expected execution failure wrapping cause, got %+v", f)
	}
}

func TestNormalizationFailureNotRetried(t *testing.T) {
	// Valid JSON with the wrong shape on attempt 1: no retries, no append.
	cap := &scriptedCapability{outputs: []string{`{"unexpected": true}`}}
	r, store := newTestRunner(t, cap)

	_, err := r.Run(context.Background(), provider.SpeedSmart)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != KindNormalization {
		t.Fatalf("expected kind %q, got %q", KindNormalization, f.Kind)
	}
	if cap.calls != 1 {
		t.Fatalf("normalization failures must not retry, got %d calls", cap.calls)
	}
	if got := store.Load(); len(got) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(got))
	}
}

func TestSuccessfulFirstAttempt(t *testing.T) {
	cap := &scriptedCapability{outputs: []string{speedsmartJSON}}
	r, store := newTestRunner(t, cap)

	entry, err := r.Run(context.Background(), provider.SpeedSmart)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cap.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", cap.calls)
	}
	if entry.Timestamp != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", entry.Timestamp)
	}
	if entry.Date != "2025-06-01 12:00:00" {
		t.Fatalf("unexpected date: %q", entry.Date)
	}
	if got := store.Load(); len(got) != 1 {
		t.Fatalf("expected one entry, got %d", len(got))
	}
}

// Package runner executes single-provider measurements: bounded retry around
// the opaque provider capability, JSON extraction from raw output,
// normalization, and — on full success only — the history append. No other
// component writes history entries.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"speedchecker/internal/history"
	"speedchecker/internal/provider"
	"speedchecker/pkg/logx"
)

// FailureKind classifies a terminal runner failure.
type FailureKind string

const (
	// KindExecution: the provider capability itself failed.
	KindExecution FailureKind = "execution"
	// KindNoJSON: the captured output contained no result object.
	KindNoJSON FailureKind = "no_json"
	// KindParse: a result object was found but was not valid JSON.
	KindParse FailureKind = "parse"
	// KindNormalization: valid JSON, but the provider's expected fields were
	// missing or mistyped. Not retried; the page layout changed, not the run.
	KindNormalization FailureKind = "normalization"
	// KindPersistence: the measurement succeeded but could not be recorded.
	KindPersistence FailureKind = "persistence"
)

// Failure is the typed terminal error of a provider run. It carries the cause
// of the final attempt and any raw output captured from it.
type Failure struct {
	Kind      FailureKind
	Provider  provider.Provider
	Attempts  int
	RawOutput string
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s test failed (%s after %d attempt(s)): %v", f.Provider, f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

const (
	maxAttempts = 3
	retryPause  = 2 * time.Second
)

// Runner wraps the provider capability with retry and normalization.
type Runner struct {
	capability provider.Capability
	store      *history.Store
	log        logx.Logger

	// pause and now are injectable for tests.
	pause func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func New(capability provider.Capability, store *history.Store, log logx.Logger) *Runner {
	return &Runner{
		capability: capability,
		store:      store,
		log:        log,
		pause:      sleepCtx,
		now:        time.Now,
	}
}

// Run executes one provider measurement with up to three attempts and appends
// the normalized entry to the history store. The returned error, if any, is
// always a *Failure.
func (r *Runner) Run(ctx context.Context, p provider.Provider) (history.Entry, error) {
	var (
		raw       map[string]any
		lastKind  FailureKind
		lastErr   error
		lastOut   string
		attempted int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempted = attempt
		out, err := r.capability.Run(ctx, p)
		lastOut = out
		if err != nil {
			lastKind, lastErr = KindExecution, err
		} else if jsonStr, ok := provider.ExtractJSON(out); !ok {
			lastKind, lastErr = KindNoJSON, fmt.Errorf("no JSON found in output")
		} else {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(jsonStr), &decoded); err != nil {
				lastKind, lastErr = KindParse, fmt.Errorf("parse JSON from output: %w", err)
			} else {
				raw = decoded
				break
			}
		}

		if attempt < maxAttempts {
			if !r.log.IsZero() {
				r.log.Warn("test attempt failed, retrying",
					logx.String("provider", string(p)),
					logx.Int("attempt", attempt),
					logx.String("kind", string(lastKind)),
					logx.Err(lastErr),
				)
			}
			r.pause(ctx, retryPause)
		}
	}

	if raw == nil {
		return history.Entry{}, &Failure{Kind: lastKind, Provider: p, Attempts: attempted, RawOutput: lastOut, Err: lastErr}
	}

	m, err := provider.Normalize(p, raw)
	if err != nil {
		return history.Entry{}, &Failure{Kind: KindNormalization, Provider: p, Attempts: attempted, RawOutput: lastOut, Err: err}
	}

	entry := history.NewEntry(r.now(), p, m)
	if err := r.store.Append(entry); err != nil {
		return history.Entry{}, &Failure{Kind: KindPersistence, Provider: p, Attempts: attempted, Err: err}
	}

	if !r.log.IsZero() {
		r.log.Info("test completed",
			logx.String("provider", string(p)),
			logx.Int("attempts", attempted),
			logx.Float64("download_mbps", entry.Download),
			logx.Float64("upload_mbps", entry.Upload),
			logx.Float64("ping_ms", entry.Ping),
		)
	}
	return entry, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Package orchestrator runs one or both providers in fixed order with an
// enforced inter-test delay. It owns registry bookkeeping around every run:
// no exit path, including panics unwinding through it, may leak an active
// entry.
package orchestrator

import (
	"context"
	"time"

	"speedchecker/internal/history"
	"speedchecker/internal/provider"
	"speedchecker/internal/registry"
	"speedchecker/pkg/logx"
)

// ProviderRunner is the single-provider execution capability (the Test
// Runner). Narrowed to an interface so tests can script outcomes.
type ProviderRunner interface {
	Run(ctx context.Context, p provider.Provider) (history.Entry, error)
}

// Spawner starts supervised background goroutines for fire-and-forget runs.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Orchestrator struct {
	runner  ProviderRunner
	reg     *registry.Registry
	spawner Spawner
	log     logx.Logger

	// pause is injectable so tests do not sleep.
	pause func(ctx context.Context, d time.Duration)
}

func New(runner ProviderRunner, reg *registry.Registry, spawner Spawner, log logx.Logger) *Orchestrator {
	return &Orchestrator{
		runner:  runner,
		reg:     reg,
		spawner: spawner,
		log:     log,
		pause:   sleepCtx,
	}
}

// RunSingle executes one provider with registry bookkeeping. The unregister
// is deferred so every exit path cleans up.
func (o *Orchestrator) RunSingle(ctx context.Context, p provider.Provider) (history.Entry, error) {
	o.reg.Register(p, time.Now().UTC())
	defer o.reg.Unregister(p)
	return o.runner.Run(ctx, p)
}

// RunBoth executes openspeedtest, waits delay, then executes speedsmart.
// The first provider always completes (success or failure) before the second
// starts, and the first provider's failure never cancels the second.
func (o *Orchestrator) RunBoth(ctx context.Context, delay time.Duration) {
	// Belt and braces: should anything escape below, neither key may survive.
	defer func() {
		o.reg.Unregister(provider.OpenSpeedTest)
		o.reg.Unregister(provider.SpeedSmart)
	}()

	if _, err := o.RunSingle(ctx, provider.OpenSpeedTest); err != nil {
		o.log.Warn("openspeedtest run failed", logx.Err(err))
	}

	o.log.Info("waiting between tests", logx.Duration("delay", delay))
	o.pause(ctx, delay)

	if _, err := o.RunSingle(ctx, provider.SpeedSmart); err != nil {
		o.log.Warn("speedsmart run failed", logx.Err(err))
	}

	o.log.Info("sequential run complete")
}

// Launch starts a run in the background and returns immediately. There is no
// completion signal beyond polling the registry.
func (o *Orchestrator) Launch(both bool, single provider.Provider, delay time.Duration) {
	o.spawner.Go0("orchestrator.run", func(ctx context.Context) {
		if both {
			o.RunBoth(ctx, delay)
			return
		}
		if _, err := o.RunSingle(ctx, single); err != nil {
			o.log.Warn("single run failed", logx.String("provider", string(single)), logx.Err(err))
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Package scheduler decides, once per tick, whether an automatic run is due.
// The decision chain is fixed: disabled wins, then busy, then elapsed time
// against the on-disk last-run marker. A missed tick is dropped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"speedchecker/internal/conf"
	"speedchecker/internal/provider"
	"speedchecker/internal/registry"
	"speedchecker/pkg/logx"
)

const DefaultTickPeriod = time.Minute

// Trigger launches an orchestration run in the background.
type Trigger interface {
	Launch(both bool, single provider.Provider, delay time.Duration)
}

type Scheduler struct {
	cfg     *conf.Store
	reg     *registry.Registry
	marker  *Marker
	trigger Trigger
	log     logx.Logger

	tickPeriod time.Duration
}

func New(cfg *conf.Store, reg *registry.Registry, marker *Marker, trigger Trigger, log logx.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		reg:        reg,
		marker:     marker,
		trigger:    trigger,
		log:        log,
		tickPeriod: DefaultTickPeriod,
	}
}

// SetTickPeriod overrides the poll cadence. Must be called before Run.
func (s *Scheduler) SetTickPeriod(d time.Duration) {
	if d > 0 {
		s.tickPeriod = d
	}
}

// Tick evaluates one scheduling cycle at the given time and triggers a run
// when one is due. The marker is written at initiation, before the run
// completes, so a long dual-provider pass does not understate the next
// tick's elapsed time.
func (s *Scheduler) Tick(now time.Time) {
	cfg := s.cfg.Get()
	if !cfg.AutoTestEnabled {
		s.log.Debug("automatic testing disabled, skipping tick")
		return
	}
	if s.reg.AnyActive() {
		s.log.Info("tests already in progress, skipping tick")
		return
	}

	interval := time.Duration(cfg.AutoTestInterval) * time.Second
	elapsed := now.Sub(s.marker.Read())
	if elapsed < interval {
		s.log.Info("next test not yet due",
			logx.String("in", fmt.Sprintf("~%ds", int((interval-elapsed).Seconds()))),
		)
		return
	}

	if err := s.marker.Write(now); err != nil {
		s.log.Error("persist last-run marker", logx.Err(err))
		// Still trigger: a stale marker only risks an early re-run, while
		// refusing to run at all would silently stop scheduled testing.
	}

	single := provider.Provider(cfg.AutoTestProvider)
	delay := time.Duration(cfg.DelayBetweenTests) * time.Second
	s.log.Info("triggering scheduled run",
		logx.Bool("both", cfg.RunBothTests),
		logx.String("provider", cfg.AutoTestProvider),
		logx.Duration("delay", delay),
	)
	s.trigger.Launch(cfg.RunBothTests, single, delay)
}

// Run drives ticks from a cron @every job until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.tickPeriod), func() {
		s.Tick(time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("register tick job: %w", err)
	}

	c.Start()
	s.log.Info("scheduler started", logx.Duration("tick_period", s.tickPeriod))
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"speedchecker/internal/conf"
	"speedchecker/internal/history"
	"speedchecker/internal/orchestrator"
	"speedchecker/internal/provider"
	"speedchecker/internal/registry"
	"speedchecker/internal/runner"
	"speedchecker/internal/runtime/supervisor"
	"speedchecker/internal/scheduler"
	"speedchecker/internal/server"
	"speedchecker/internal/settings"
	"speedchecker/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./settings.yaml", "path to settings file (json or yaml)")
	flag.Parse()

	// .env is optional; environment always wins over the settings file.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	set, err := settings.Load(cfgPath)
	if err != nil {
		return err
	}

	log := logx.New(logx.Config{
		Level:   set.Logging.Level,
		Console: true,
		File: logx.FileConfig{
			Enabled: set.Logging.File.Enabled,
			Path:    set.Logging.File.Path,
		},
	})
	defer log.Close()

	if err := os.MkdirAll(set.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	hist := history.NewStore(set.DataDir, log.With(logx.String("component", "history")))
	cfg := conf.NewStore(set.DataDir, log.With(logx.String("component", "conf")))
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	reg := registry.New()

	capability := &provider.CommandCapability{
		Commands: providerCommands(set, log),
		Timeout:  set.CommandTimeoutOr(),
		Log:      log.With(logx.String("component", "capability")),
	}
	tests := runner.New(capability, hist, log.With(logx.String("component", "runner")))

	sup := supervisor.New(ctx, log)
	orch := orchestrator.New(tests, reg, sup, log.With(logx.String("component", "orchestrator")))

	marker := scheduler.NewMarker(set.DataDir)
	sched := scheduler.New(cfg, reg, marker, orch, log.With(logx.String("component", "scheduler")))
	sched.SetTickPeriod(set.TickPeriodOr())

	sup.Go("conf.watch", cfg.Watch)
	sup.Go("scheduler", sched.Run)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	h := server.NewHandler(orch, hist, cfg, reg, set.ManualRunDelayOr(), log.With(logx.String("component", "server")))
	server.RegisterRoutes(router, h)

	srv := &http.Server{Addr: set.ListenAddr, Handler: router}
	sup.Go("http", func(ctx context.Context) error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("speedchecker started",
		logx.String("addr", set.ListenAddr),
		logx.String("data_dir", set.DataDir),
		logx.Duration("tick_period", set.TickPeriodOr()),
	)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logx.Err(err))
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Warn("supervisor stop", logx.Err(err))
	}
	return nil
}

// providerCommands resolves the configured argv per provider, warning about
// providers that have no command and so will fail on every run.
func providerCommands(set settings.Settings, log logx.Logger) map[provider.Provider][]string {
	out := make(map[provider.Provider][]string, len(set.Providers))
	for name, argv := range set.Providers {
		p, err := provider.Parse(name)
		if err != nil {
			log.Warn("ignoring command for unknown provider", logx.String("provider", name))
			continue
		}
		out[p] = argv
	}
	for _, p := range provider.All() {
		if _, ok := out[p]; !ok {
			log.Warn("no command configured, runs will fail", logx.String("provider", string(p)))
		}
	}
	return out
}

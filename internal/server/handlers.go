// Package server is the HTTP control surface: manual triggers, history
// access, runtime config and scheduler status. No auth; the service is meant
// to sit on a private network behind the dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"speedchecker/internal/conf"
	"speedchecker/internal/history"
	"speedchecker/internal/provider"
	"speedchecker/internal/registry"
	"speedchecker/internal/runner"
	"speedchecker/pkg/logx"
)

// Orchestrator is the trigger surface the handlers need.
type Orchestrator interface {
	RunSingle(ctx context.Context, p provider.Provider) (history.Entry, error)
	Launch(both bool, single provider.Provider, delay time.Duration)
}

type Handler struct {
	orch Orchestrator
	hist *history.Store
	cfg  *conf.Store
	reg  *registry.Registry
	log  logx.Logger

	// limiter throttles manual triggers so the browser hosts only ever see
	// one human-initiated burst at a time.
	limiter     *rate.Limiter
	manualDelay time.Duration

	now func() time.Time
}

func NewHandler(orch Orchestrator, hist *history.Store, cfg *conf.Store, reg *registry.Registry, manualDelay time.Duration, log logx.Logger) *Handler {
	return &Handler{
		orch:        orch,
		hist:        hist,
		cfg:         cfg,
		reg:         reg,
		log:         log,
		limiter:     rate.NewLimiter(rate.Every(10*time.Second), 1),
		manualDelay: manualDelay,
		now:         time.Now,
	}
}

// RunSpeedtest runs a single provider synchronously and returns its entry.
func (h *Handler) RunSpeedtest(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "a test was triggered recently, try again later"})
		return
	}

	p, err := provider.Parse(c.DefaultQuery("provider", string(provider.OpenSpeedTest)))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	entry, err := h.orch.RunSingle(c.Request.Context(), p)
	if err != nil {
		var f *runner.Failure
		if errors.As(err, &f) {
			c.JSON(http.StatusBadGateway, FailureResponse{
				Error:     f.Error(),
				Kind:      string(f.Kind),
				Provider:  string(f.Provider),
				Attempts:  f.Attempts,
				RawOutput: f.RawOutput,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// RunNow launches a run per the current config and acknowledges immediately.
func (h *Handler) RunNow(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "a test was triggered recently, try again later"})
		return
	}

	cfg := h.cfg.Get()
	h.orch.Launch(cfg.RunBothTests, provider.Provider(cfg.AutoTestProvider), h.manualDelay)

	c.JSON(http.StatusAccepted, AckResponse{
		Success: true,
		Message: "test(s) scheduled to run sequentially",
	})
}

func (h *Handler) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.hist.Load())
}

// DownloadHistory serves the log as an attachment in either form.
func (h *Handler) DownloadHistory(c *gin.Context) {
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		data, err := json.MarshalIndent(h.hist.Load(), "", "  ")
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			return
		}
		c.Header("Content-Disposition", "attachment;filename=speedtest_history.json")
		c.Data(http.StatusOK, "application/json", data)
	case "csv":
		data, err := h.hist.Export()
		if err != nil {
			if errors.Is(err, history.ErrNoData) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "no history data available"})
				return
			}
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			return
		}
		c.Header("Content-Disposition", "attachment;filename=speedtest_history.csv")
		c.Data(http.StatusOK, "text/csv", data)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unsupported format: %s", format)})
	}
}

func (h *Handler) ClearHistory(c *gin.Context) {
	if err := h.hist.Clear(); err != nil {
		h.log.Error("clear history", logx.Err(err))
		c.JSON(http.StatusInternalServerError, AckResponse{Success: false, Message: "error clearing history"})
		return
	}
	c.JSON(http.StatusOK, AckResponse{Success: true, Message: "history cleared successfully"})
}

func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Get())
}

// UpdateConfig applies a partial update and returns the resulting record.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var patch conf.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload: " + err.Error()})
		return
	}

	cfg, err := h.cfg.Update(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	now := h.now().UTC()
	snapshot := h.reg.Snapshot()
	active := make(map[string]registry.ActiveTest, len(snapshot))
	for p, t := range snapshot {
		active[string(p)] = t
	}

	c.JSON(http.StatusOK, StatusResponse{
		AutoTestEnabled:  h.cfg.Get().AutoTestEnabled,
		ActiveTests:      active,
		HasActiveTests:   len(active) > 0,
		CurrentTime:      now.Format(time.RFC3339Nano),
		CurrentTimestamp: float64(now.UnixNano()) / float64(time.Second),
	})
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

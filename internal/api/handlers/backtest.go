package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio-backtest/internal/api/models"
	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/config"
	"portfolio-backtest/internal/data"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/storage"
	"portfolio-backtest/internal/timeutil"
)

// BacktestHandler handles backtest-related requests
type BacktestHandler struct {
	log     *zap.Logger
	engine  *backtest.Engine
	cache   *data.RatesCache
	store   *storage.ResultStore
	dataDir string

	mu      sync.RWMutex
	results map[string]*storedRun
}

type storedRun struct {
	label   string
	report  *backtest.Report
	created time.Time
}

// NewBacktestHandler creates a new backtest handler. Relative data paths in
// submitted configs resolve against dataDir. store may be nil.
func NewBacktestHandler(log *zap.Logger, store *storage.ResultStore, dataDir string) *BacktestHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BacktestHandler{
		log:     log,
		engine:  backtest.New(log),
		cache:   data.GetCache(),
		store:   store,
		dataDir: dataDir,
		results: make(map[string]*storedRun),
	}
}

// RunBacktest handles POST /api/v1/backtests
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req models.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	cfg, err := config.Parse(req.Config, h.dataDir)
	if err != nil {
		writeError(c, err)
		return
	}
	rep, err := h.run(c.Request.Context(), cfg, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	label := firstNonEmpty(req.Options.Label, cfg.Label)
	id := h.save(c.Request.Context(), label, rep)
	c.JSON(http.StatusOK, buildResponse(id, label, rep, req.Options))
}

// GetBacktest handles GET /api/v1/backtests/:id
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	id := c.Param("id")
	if run, ok := h.lookup(id); ok {
		summary := buildSummary(run.label, run.report)
		summary.CreatedAt = &run.created
		c.JSON(http.StatusOK, models.BacktestResponse{
			ID:      id,
			Status:  status(run.report),
			Summary: summary,
		})
		return
	}

	runID, ok := h.storedID(c, id)
	if !ok {
		return
	}
	sum, err := h.store.LoadSummary(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	created := sum.CreatedAt
	st := "completed"
	if sum.Aborted {
		st = "aborted"
	}
	c.JSON(http.StatusOK, models.BacktestResponse{
		ID:     id,
		Status: st,
		Summary: models.BacktestSummary{
			TestID:    sum.TestID,
			Label:     sum.Label,
			Result:    sum.Result,
			Warnings:  sum.Warnings,
			Aborted:   sum.Aborted,
			CreatedAt: &created,
		},
	})
}

// GetTrades handles GET /api/v1/backtests/:id/trades
func (h *BacktestHandler) GetTrades(c *gin.Context) {
	id := c.Param("id")
	if run, ok := h.lookup(id); ok {
		c.JSON(http.StatusOK, gin.H{
			"ledger": run.report.Ledger,
			"trades": run.report.Trades,
			"open":   run.report.Open,
		})
		return
	}

	runID, ok := h.storedID(c, id)
	if !ok {
		return
	}
	if _, err := h.store.LoadSummary(c.Request.Context(), runID); err != nil {
		writeError(c, err)
		return
	}
	ledger, err := h.store.LoadLedger(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledger": ledger})
}

// CompareBacktests handles POST /api/v1/backtests/compare
func (h *BacktestHandler) CompareBacktests(c *gin.Context) {
	var req models.CompareBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}
	if _, err := config.Parse(req.BaseConfig, h.dataDir); err != nil {
		writeError(c, err)
		return
	}

	comparison := make([]models.ComparisonResult, len(req.Variations))
	var jobs []backtest.Job
	var slots []int
	var closers []func() error
	defer func() {
		for _, fn := range closers {
			_ = fn()
		}
	}()

	for i, variation := range req.Variations {
		comparison[i].Name = variation.Name
		// Each variation gets a freshly parsed config so params never leak between runs.
		cfg, err := config.Parse(req.BaseConfig, h.dataDir)
		if err != nil {
			comparison[i].Error = err.Error()
			continue
		}
		cfg.TestID = i + 1
		cfg.Optimization = true
		cfg.Label = variation.Name
		cfg.Instruments[0] = config.MergeInstrument(cfg.Instruments[0], config.InstrumentConfig{
			Strategy: config.StrategyConfig{Params: variation.Params},
		})
		instruments, closeFn, err := cfg.BuildInstruments(h.cache)
		if err != nil {
			comparison[i].Error = err.Error()
			continue
		}
		closers = append(closers, closeFn)
		settings, err := cfg.Settings()
		if err != nil {
			comparison[i].Error = err.Error()
			continue
		}
		jobs = append(jobs, backtest.Job{Settings: settings, Instruments: instruments})
		slots = append(slots, i)
	}

	reports, err := h.engine.Sweep(c.Request.Context(), jobs, req.Workers)
	if err != nil {
		writeError(c, err)
		return
	}
	for k, rep := range reports {
		i := slots[k]
		comparison[i].Summary = buildSummary(comparison[i].Name, rep)
	}

	c.JSON(http.StatusOK, models.CompareBacktestResponse{
		Comparison: comparison,
	})
}

// Helper methods

func (h *BacktestHandler) run(ctx context.Context, cfg *config.Config, obs backtest.Observer) (*backtest.Report, error) {
	instruments, closeFn, err := cfg.BuildInstruments(h.cache)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	return h.engine.Run(ctx, settings, instruments, obs)
}

// save keeps the report in memory and, when a store is configured, in
// Postgres. A storage failure is logged; the in-memory copy still serves.
func (h *BacktestHandler) save(ctx context.Context, label string, rep *backtest.Report) string {
	runID := uuid.New()
	id := runID.String()
	h.mu.Lock()
	h.results[id] = &storedRun{label: label, report: rep, created: time.Now()}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.SaveReport(ctx, runID, label, rep); err != nil {
			h.log.Error("failed to persist backtest", zap.String("run_id", id), zap.Error(err))
		}
	}
	return id
}

func (h *BacktestHandler) lookup(id string) (*storedRun, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.results[id]
	return run, ok
}

// storedID validates id for a database lookup and writes the error response
// when there is nothing to look up.
func (h *BacktestHandler) storedID(c *gin.Context, id string) (uuid.UUID, bool) {
	runID, err := uuid.Parse(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_ID",
				Message: fmt.Sprintf("invalid backtest id %q", id),
			},
		})
		return uuid.Nil, false
	}
	if h.store == nil {
		writeError(c, storage.ErrNotFound)
		return uuid.Nil, false
	}
	return runID, true
}

func buildResponse(id, label string, rep *backtest.Report, opts models.BacktestOptions) models.BacktestResponse {
	response := models.BacktestResponse{
		ID:      id,
		Status:  status(rep),
		Summary: buildSummary(label, rep),
	}
	if opts.IncludeLedger {
		response.Ledger = rep.Ledger
	}
	if opts.IncludeTrades {
		response.Trades = rep.Trades
		response.Open = rep.Open
	}
	return response
}

func buildSummary(label string, rep *backtest.Report) models.BacktestSummary {
	summary := models.BacktestSummary{
		TestID:           rep.TestID,
		Label:            label,
		Result:           rep.Result,
		ClosedTrades:     len(rep.Ledger),
		OpenPositions:    len(rep.Open),
		Warnings:         rep.Warnings,
		Aborted:          rep.Aborted,
		AbortedInstances: rep.AbortedInstances,
	}
	if rep.FirstTime != model.InvalidTime && rep.LastTime != model.InvalidTime {
		summary.BacktestWindow = &models.TimeWindow{
			Start: timeutil.ToTime(rep.FirstTime),
			End:   timeutil.ToTime(rep.LastTime),
		}
	}
	return summary
}

func status(rep *backtest.Report) string {
	if rep.Aborted {
		return "aborted"
	}
	return "completed"
}

// writeError maps engine and storage errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    errorCode(err),
			Message: err.Error(),
		},
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrConfig):
		return "INVALID_CONFIG"
	case errors.Is(err, model.ErrData):
		return "DATA_ERROR"
	case errors.Is(err, model.ErrInitTimeout):
		return "INIT_TIMEOUT"
	case errors.Is(err, storage.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED"
	}
	return "BACKTEST_ERROR"
}

func httpStatus(err error) int {
	switch errorCode(err) {
	case "INVALID_CONFIG":
		return http.StatusBadRequest
	case "DATA_ERROR":
		return http.StatusUnprocessableEntity
	case "INIT_TIMEOUT":
		return http.StatusGatewayTimeout
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CANCELLED":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

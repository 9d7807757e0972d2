// Package api wires the HTTP service: middleware, handlers and routes.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portfolio-backtest/internal/api/handlers"
	"portfolio-backtest/internal/api/middleware"
	"portfolio-backtest/internal/storage"
)

type Options struct {
	Log *zap.Logger
	// Store persists results when set.
	Store *storage.ResultStore
	// DataDir is where relative rate, tick and quote paths are looked up.
	DataDir string
	Origins []string
}

func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(middleware.CORS(opts.Origins...))
	router.Use(middleware.Logger(opts.Log))
	router.Use(middleware.ErrorHandler(opts.Log))

	backtestHandler := handlers.NewBacktestHandler(opts.Log, opts.Store, opts.DataDir)
	datasetHandler := handlers.NewDatasetHandler(opts.Log, opts.DataDir)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": opts.Store != nil})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/backtests", backtestHandler.RunBacktest)
		v1.POST("/backtests/compare", backtestHandler.CompareBacktests)
		v1.GET("/backtests/stream", backtestHandler.StreamBacktest)
		v1.GET("/backtests/:id", backtestHandler.GetBacktest)
		v1.GET("/backtests/:id/trades", backtestHandler.GetTrades)

		v1.GET("/strategies", handlers.ListStrategies)
		v1.GET("/datasets", datasetHandler.ListDatasets)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "Not found"}})
	})
	return router
}

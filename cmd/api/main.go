package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portfolio-backtest/internal/api"
	"portfolio-backtest/internal/logging"
	"portfolio-backtest/internal/storage"
)

func main() {
	// Get configuration from environment
	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	log, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *storage.ResultStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		store, err = storage.NewResultStore(ctx, dsn, log)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			log.Fatal("failed to create tables", zap.Error(err))
		}
		log.Info("persisting results to postgres")
	} else {
		log.Info("DATABASE_URL not set, results are kept in memory only")
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	router := api.NewRouter(api.Options{
		Log:     log,
		Store:   store,
		DataDir: dataDir,
		Origins: origins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("starting API server", zap.String("addr", srv.Addr), zap.String("data_dir", dataDir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

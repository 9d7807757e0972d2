package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/model"
)

func testStore(t *testing.T) *ResultStore {
	t.Helper()
	dsn := os.Getenv("BACKTEST_TEST_DSN")
	if dsn == "" {
		t.Skip("BACKTEST_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewResultStore(ctx, dsn, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveAndLoadReport(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rep := &backtest.Report{
		TestID:   3,
		Warnings: 1,
		Result:   model.TestResult{TotalTrades: 2, TotalLongs: 1, TotalShorts: 1, FinalBalance: 10015, WinRate: 50},
		Ledger: []backtest.LedgerRow{
			{Index: 0, InstanceID: 1, Symbol: "EURUSD", Ticket: 1, Type: model.Buy, OpenTime: 100, CloseTime: 200, Profit: 20, Balance: 10020},
			{Index: 1, InstanceID: 2, Symbol: "GBPUSD", Ticket: 2, Type: model.Sell, OpenTime: 150, CloseTime: 300, Profit: -5, Balance: 10015},
		},
	}
	id := uuid.New()
	if err := s.SaveReport(ctx, id, "fast=5", rep); err != nil {
		t.Fatal(err)
	}

	sum, err := s.LoadSummary(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TestID != 3 || sum.Label != "fast=5" || sum.Warnings != 1 || sum.Result != rep.Result {
		t.Errorf("summary = %+v", sum)
	}

	ledger, err := s.LoadLedger(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 2 || ledger[1].Type != model.Sell || ledger[1].CumProfit != 15 {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestLoadSummaryNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.LoadSummary(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadSummary() error = %v, want ErrNotFound", err)
	}
}

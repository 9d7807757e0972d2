package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/logging"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/strategy"
	"portfolio-backtest/internal/timeutil"
)

// Demo:
// - Generate a random-walk hourly series for two symbols
// - Run sma_cross on both against one shared account
// - Print the summary and the first ledger rows
func main() {
	n := flag.Int("n", 2000, "Number of hourly bars per symbol")
	seed := flag.Int64("seed", 42, "Random seed")
	fast := flag.Int("fast", 10, "Fast SMA period")
	slow := flag.Int("slow", 30, "Slow SMA period")
	outCSV := flag.String("out", "", "Optional path to write ledger CSV (e.g. results/demo.csv)")
	level := flag.String("log", "warn", "Log level")
	flag.Parse()

	log, err := logging.New(*level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	rng := rand.New(rand.NewSource(*seed))
	start := timeutil.MkGmTime(2023, 1, 2, 0, 0, 0)
	symbols := []struct {
		name   string
		price  float64
		spread float64
	}{
		{"EURUSD", 1.07, 0.0001},
		{"GBPUSD", 1.21, 0.00015},
	}

	instruments := make([]backtest.Instrument, 0, len(symbols))
	for i, sym := range symbols {
		strat, err := strategy.New("sma_cross", map[string]any{
			"fast": *fast,
			"slow": *slow,
			"lots": 0.1,
		})
		if err != nil {
			panic(err)
		}
		instruments = append(instruments, backtest.Instrument{
			InstanceID:   i + 1,
			Symbol:       sym.name,
			Strategy:     strat,
			Timeframes:   [][]model.Bar{randomWalk(rng, start, *n, sym.price)},
			ContractSize: 100000,
			MinLotSize:   0.01,
			MinimumStop:  0.0001,
			Spread:       sym.spread,
			BufferSize:   *slow + 20,
		})
	}

	settings := backtest.Settings{TestID: 1, InitialBalance: 10000}
	rep, err := backtest.New(log).Run(context.Background(), settings, instruments, nil)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Simulated %d bars for %d symbols\n\n", *n, len(instruments))
	backtest.PrintSummary(os.Stdout, rep)

	fmt.Println()
	for i := 0; i < min(12, len(rep.Ledger)); i++ {
		r := rep.Ledger[i]
		fmt.Printf(
			"%s %-6s %-4s open=%.5f close=%.5f lots=%.2f  pnl=%8.2f  bal=%9.2f\n",
			timeutil.Format(r.CloseTime),
			r.Symbol,
			r.Type,
			r.OpenPrice,
			r.ClosePrice,
			r.Lots,
			r.Profit,
			r.Balance,
		)
	}

	if *outCSV != "" {
		if err := backtest.WriteLedgerCSV(*outCSV, rep.Ledger); err != nil {
			panic(err)
		}
		fmt.Printf("\nWrote CSV: %s\n", *outCSV)
	}
}

// randomWalk builds n hourly bars with a small drifting cycle on top of
// gaussian noise, so crossovers happen at a realistic rate.
func randomWalk(rng *rand.Rand, start int64, n int, price float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		open := price
		price += rng.NormFloat64()*0.0008 + 0.0002*math.Sin(float64(i)/50)
		high := math.Max(open, price) + math.Abs(rng.NormFloat64())*0.0003
		low := math.Min(open, price) - math.Abs(rng.NormFloat64())*0.0003
		bars[i] = model.Bar{
			Time:   start + int64(i)*timeutil.SecondsPerHour,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(100 + rng.Intn(400)),
		}
	}
	return bars
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

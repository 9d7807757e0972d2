package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"portfolio-backtest/internal/analysis"
	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/config"
	"portfolio-backtest/internal/data"
	"portfolio-backtest/internal/logging"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "backtest":
		err = cmdBacktest(ctx, os.Args[2:])
	case "optimize":
		err = cmdOptimize(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, model.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli backtest --config run.yaml [--out results/] [--dsn postgres://...]")
	fmt.Println("  cli optimize --config run.yaml --param fast=5,10,20 [--param slow=30,50] [--workers 4] [--rank martin]")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - backtest writes results_<id>.csv (ledger), trades_<id>.csv and allStatistics.csv")
	fmt.Println("  - optimize sweeps the strategy params of the first instrument over every combination")
}

func cmdBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	outDir := fs.String("out", "", "Output directory (default: output_dir from the config)")
	dsn := fs.String("dsn", "", "Optional Postgres DSN to persist the result")
	_ = fs.Parse(args)

	if *cfgPath == "" {
		return fmt.Errorf("%w: --config is required", model.ErrConfig)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	dir := cfg.OutputDir
	if *outDir != "" {
		dir = *outDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	instruments, closeFn, err := cfg.BuildInstruments(data.GetCache())
	if err != nil {
		return err
	}
	defer closeFn()
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	rep, runErr := backtest.New(log).Run(ctx, settings, instruments, nil)
	if rep == nil {
		return runErr
	}
	backtest.PrintSummary(os.Stdout, rep)

	if err := writeOutputs(dir, cfg, rep); err != nil {
		return err
	}
	if *dsn != "" {
		if err := persist(ctx, *dsn, log, cfg.Label, rep); err != nil {
			return err
		}
	}
	return runErr
}

func writeOutputs(dir string, cfg *config.Config, rep *backtest.Report) error {
	id := rep.TestID
	ledgerPath := filepath.Join(dir, fmt.Sprintf("results_%d.csv", id))
	if err := backtest.WriteLedgerCSV(ledgerPath, rep.Ledger); err != nil {
		return err
	}
	if err := backtest.WriteTradesCSV(filepath.Join(dir, fmt.Sprintf("trades_%d.csv", id)), rep.Trades); err != nil {
		return err
	}
	if cfg.Excursions {
		if err := backtest.WriteExcursionsCSV(filepath.Join(dir, "ME_analysis.csv"), rep.Excursions); err != nil {
			return err
		}
	}
	marker, err := backtest.WriteOpenMarker(dir, id, rep.Open)
	if err != nil {
		return err
	}
	if !cfg.Optimization && !cfg.CompoundingDisabled {
		if err := backtest.WriteSummaryCSV(filepath.Join(dir, "allStatistics.csv"), id, cfg.Label, rep.Result); err != nil {
			return err
		}
	}

	fmt.Printf("Wrote %d ledger rows to %s\n", len(rep.Ledger), ledgerPath)
	if marker != "" {
		fmt.Printf("%d orders still open, see %s\n", len(rep.Open), marker)
	}
	return nil
}

func persist(ctx context.Context, dsn string, log *zap.Logger, label string, rep *backtest.Report) error {
	store, err := storage.NewResultStore(ctx, dsn, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}
	runID := uuid.New()
	if err := store.SaveReport(ctx, runID, label, rep); err != nil {
		return err
	}
	fmt.Printf("Stored run %s\n", runID)
	return nil
}

// paramFlag collects repeated --param name=v1,v2 flags.
type paramFlag struct {
	names  []string
	values [][]float64
}

func (p *paramFlag) String() string { return strings.Join(p.names, ",") }

func (p *paramFlag) Set(s string) error {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("want name=v1,v2,..., got %q", s)
	}
	var vals []float64
	for _, v := range strings.Split(list, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		vals = append(vals, f)
	}
	if len(vals) == 0 {
		return fmt.Errorf("param %s has no values", name)
	}
	p.names = append(p.names, name)
	p.values = append(p.values, vals)
	return nil
}

// combinations returns the cartesian product of all value lists.
func (p *paramFlag) combinations() []map[string]any {
	out := []map[string]any{{}}
	for i, name := range p.names {
		next := make([]map[string]any, 0, len(out)*len(p.values[i]))
		for _, base := range out {
			for _, v := range p.values[i] {
				m := make(map[string]any, len(base)+1)
				for k, bv := range base {
					m[k] = bv
				}
				m[name] = v
				next = append(next, m)
			}
		}
		out = next
	}
	return out
}

func label(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, " ")
}

func cmdOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	workers := fs.Int("workers", 0, "Concurrent tests (0 = GOMAXPROCS)")
	rankBy := fs.String("rank", "martin", "Metric to rank by: "+strings.Join(analysis.RankMetrics(), ", "))
	outDir := fs.String("out", "", "Output directory for the sweep table (default: output_dir from the config)")
	var params paramFlag
	fs.Var(&params, "param", "Strategy parameter values, name=v1,v2,... (repeatable)")
	_ = fs.Parse(args)

	if *cfgPath == "" || len(params.names) == 0 {
		return fmt.Errorf("%w: --config and at least one --param are required", model.ErrConfig)
	}
	base, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(base.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	combos := params.combinations()
	jobs := make([]backtest.Job, 0, len(combos))
	labels := make([]string, 0, len(combos))
	cache := data.GetCache()
	for i, combo := range combos {
		// Every test needs its own strategies and tick readers.
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg.TestID = base.TestID + i
		cfg.Optimization = true
		cfg.Instruments[0] = config.MergeInstrument(cfg.Instruments[0], config.InstrumentConfig{
			Strategy: config.StrategyConfig{Params: combo},
		})
		instruments, closeFn, err := cfg.BuildInstruments(cache)
		if err != nil {
			return fmt.Errorf("%s: %w", label(combo), err)
		}
		defer closeFn()
		settings, err := cfg.Settings()
		if err != nil {
			return err
		}
		jobs = append(jobs, backtest.Job{Settings: settings, Instruments: instruments})
		labels = append(labels, label(combo))
	}

	log.Info("starting sweep", zap.Int("tests", len(jobs)), zap.Int("workers", *workers))
	reports, err := backtest.New(log).Sweep(ctx, jobs, *workers)
	if err != nil {
		return err
	}

	dir := base.OutputDir
	if *outDir != "" {
		dir = *outDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// allStatistics.csv is reserved for single runs.
	sweepPath := filepath.Join(dir, fmt.Sprintf("sweep_%d.csv", base.TestID))
	results := make([]analysis.RankedResult, len(reports))
	for i, rep := range reports {
		results[i] = analysis.RankedResult{TestID: rep.TestID, Label: labels[i], Result: rep.Result}
		if err := backtest.WriteSummaryCSV(sweepPath, rep.TestID, labels[i], rep.Result); err != nil {
			return err
		}
	}
	ranked, err := analysis.RankResults(results, *rankBy)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rank", "Test", "Params", "Trades", "Final balance", "Max DD %", "Martin", "Sharpe"})
	for i, r := range ranked {
		table.Append([]string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.TestID),
			r.Label,
			strconv.Itoa(r.Result.TotalTrades),
			fmt.Sprintf("%.2f", r.Result.FinalBalance),
			fmt.Sprintf("%.2f", r.Result.MaxDDDepth),
			fmt.Sprintf("%.2f", r.Result.Martin),
			fmt.Sprintf("%.2f", r.Result.Sharpe),
		})
	}
	table.Render()
	fmt.Printf("Wrote %d rows to %s\n", len(reports), sweepPath)
	return nil
}

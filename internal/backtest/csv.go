package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

func WriteLedgerCSV(path string, ledger []LedgerRow) error {
	header := []string{
		"index",
		"instance",
		"symbol",
		"ticket",
		"type",
		"open_time",
		"close_time",
		"open_price",
		"close_price",
		"lots",
		"profit",
		"swap",
		"balance",
		"cum_profit",
	}
	rows := make([][]string, 0, len(ledger))
	for _, r := range ledger {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			strconv.Itoa(r.InstanceID),
			r.Symbol,
			strconv.Itoa(r.Ticket),
			r.Type.String(),
			fmtTime(r.OpenTime),
			fmtTime(r.CloseTime),
			fmtFloat(r.OpenPrice),
			fmtFloat(r.ClosePrice),
			fmtFloat(r.Lots),
			fmtFloat(r.Profit),
			fmtFloat(r.Swap),
			fmtFloat(r.Balance),
			fmtFloat(r.CumProfit),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteTradesCSV writes closed orders, cancelled pending orders included.
func WriteTradesCSV(path string, trades []model.Order) error {
	header := []string{"ticket", "instance", "type", "open_time", "close_time", "open_price", "close_price", "lots", "sl", "tp", "swap", "profit"}
	rows := make([][]string, 0, len(trades))
	for _, o := range trades {
		rows = append(rows, []string{
			strconv.Itoa(o.Ticket),
			strconv.Itoa(o.InstanceID),
			o.Type.String(),
			fmtTime(o.OpenTime),
			fmtTime(o.CloseTime),
			fmtFloat(o.OpenPrice),
			fmtFloat(o.ClosePrice),
			fmtFloat(o.Lots),
			fmtFloat(o.StopLoss),
			fmtFloat(o.TakeProfit),
			fmtFloat(o.Swap),
			fmtFloat(o.Profit),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteExcursionsCSV writes the ME_analysis table.
func WriteExcursionsCSV(path string, ex []Excursion) error {
	header := []string{"ticket", "instance", "type", "open_time", "close_time", "open_price", "close_price", "mae", "mfe", "profit"}
	rows := make([][]string, 0, len(ex))
	for _, e := range ex {
		rows = append(rows, []string{
			strconv.Itoa(e.Ticket),
			strconv.Itoa(e.InstanceID),
			e.Type.String(),
			fmtTime(e.OpenTime),
			fmtTime(e.CloseTime),
			fmtFloat(e.OpenPrice),
			fmtFloat(e.ClosePrice),
			fmtFloat(e.MAE),
			fmtFloat(e.MFE),
			fmtFloat(e.Profit),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteOpenMarker writes results_<testID>.open into dir listing the orders
// left open. Nothing is written when none are open; the returned path is
// empty then.
func WriteOpenMarker(dir string, testID int, open []OpenPosition) (string, error) {
	if len(open) == 0 {
		return "", nil
	}
	path := filepath.Join(dir, fmt.Sprintf("results_%d.open", testID))
	header := []string{"ticket", "instance", "symbol", "type", "open_time", "open_price", "lots", "sl", "tp", "mark_time", "mark_price", "floating"}
	rows := make([][]string, 0, len(open))
	for _, p := range open {
		rows = append(rows, []string{
			strconv.Itoa(p.Order.Ticket),
			strconv.Itoa(p.Order.InstanceID),
			p.Symbol,
			p.Order.Type.String(),
			fmtTime(p.Order.OpenTime),
			fmtFloat(p.Order.OpenPrice),
			fmtFloat(p.Order.Lots),
			fmtFloat(p.Order.StopLoss),
			fmtFloat(p.Order.TakeProfit),
			fmtTime(p.MarkTime),
			fmtFloat(p.MarkPrice),
			fmtFloat(p.Floating),
		})
	}
	return path, writeCSV(path, header, rows)
}

var summaryHeader = []string{
	"test_id", "label", "total_trades", "longs", "shorts", "final_balance",
	"max_dd_depth", "max_dd_length", "cagr", "profit_factor", "r2", "regression_std",
	"sharpe", "ulcer_index", "martin", "avg_trade_duration", "win_rate", "risk_reward",
	"avg_win", "avg_loss",
}

// WriteSummaryCSV appends one result row to the allStatistics table, writing
// the header when the file is new.
func WriteSummaryCSV(path string, testID int, label string, r model.TestResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(summaryHeader); err != nil {
			return err
		}
	}
	row := []string{
		strconv.Itoa(testID),
		label,
		strconv.Itoa(r.TotalTrades),
		strconv.Itoa(r.TotalLongs),
		strconv.Itoa(r.TotalShorts),
		fmtFloat(r.FinalBalance),
		fmtFloat(r.MaxDDDepth),
		strconv.FormatInt(r.MaxDDLength, 10),
		fmtFloat(r.CAGR),
		fmtFloat(r.ProfitFactor),
		fmtFloat(r.R2),
		fmtFloat(r.RegressionStd),
		fmtFloat(r.Sharpe),
		fmtFloat(r.UlcerIndex),
		fmtFloat(r.Martin),
		fmtFloat(r.AvgTradeDuration),
		fmtFloat(r.WinRate),
		fmtFloat(r.RiskReward),
		fmtFloat(r.AvgWin),
		fmtFloat(r.AvgLoss),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtTime(t int64) string {
	if t <= 0 {
		return ""
	}
	return timeutil.Format(t)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

package backtest

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"portfolio-backtest/internal/timeutil"
)

// PrintSummary renders the headline statistics of a report as a table.
func PrintSummary(w io.Writer, rep *Report) {
	r := rep.Result
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	rows := [][]string{
		{"Test", strconv.Itoa(rep.TestID)},
		{"Trades", fmt.Sprintf("%d (%d long / %d short)", r.TotalTrades, r.TotalLongs, r.TotalShorts)},
		{"Final balance", fmt.Sprintf("%.2f", r.FinalBalance)},
		{"CAGR %", fmt.Sprintf("%.2f", r.CAGR)},
		{"Max drawdown %", fmt.Sprintf("%.2f", r.MaxDDDepth)},
		{"Max drawdown length", fmt.Sprintf("%.1f days", float64(r.MaxDDLength)/timeutil.SecondsPerDay)},
		{"Profit factor", fmt.Sprintf("%.2f", r.ProfitFactor)},
		{"Win rate %", fmt.Sprintf("%.2f", r.WinRate)},
		{"Risk/reward", fmt.Sprintf("%.2f", r.RiskReward)},
		{"Sharpe", fmt.Sprintf("%.2f", r.Sharpe)},
		{"Ulcer index", fmt.Sprintf("%.2f", r.UlcerIndex)},
		{"Martin", fmt.Sprintf("%.2f", r.Martin)},
		{"R2", fmt.Sprintf("%.4f", r.R2)},
		{"Avg trade duration", fmt.Sprintf("%.1f h", r.AvgTradeDuration/timeutil.SecondsPerHour)},
		{"Open at end", strconv.Itoa(len(rep.Open))},
		{"Warnings", strconv.Itoa(rep.Warnings)},
	}
	if rep.Aborted {
		rows = append(rows, []string{"Status", "aborted"})
	}
	table.AppendBulk(rows)
	table.Render()
}

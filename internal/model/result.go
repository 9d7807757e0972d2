package model

// StatisticItem is one realised trade-close event.
type StatisticItem struct {
	Balance float64 `json:"balance"`
	Profit  float64 `json:"profit"`
	Time    int64   `json:"time"`
}

// Account is the portfolio-wide money state shared by every instance of a run.
type Account struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

// TestResult summarises one backtest run.
// Percentages (drawdown, win rate, CAGR, Ulcer) are expressed 0..100.
type TestResult struct {
	TotalTrades int `json:"total_trades"`
	TotalLongs  int `json:"total_longs"`
	TotalShorts int `json:"total_shorts"`

	FinalBalance float64 `json:"final_balance"`

	MaxDDDepth  float64 `json:"max_dd_depth"`
	MaxDDLength int64   `json:"max_dd_length"`

	CAGR          float64 `json:"cagr"`
	ProfitFactor  float64 `json:"profit_factor"`
	R2            float64 `json:"r2"`
	RegressionStd float64 `json:"regression_std"`
	Sharpe        float64 `json:"sharpe"`
	UlcerIndex    float64 `json:"ulcer_index"`
	Martin        float64 `json:"martin"`

	AvgTradeDuration float64 `json:"avg_trade_duration"`
	WinRate          float64 `json:"win_rate"`
	RiskReward       float64 `json:"risk_reward"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
}

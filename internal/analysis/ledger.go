package analysis

import "portfolio-backtest/internal/model"

// MinStatisticsSize is the initial capacity of a Ledger.
const MinStatisticsSize = 1000

// Ledger is the append-only list of realised trade closes a run produces.
// Items are in close-time order because the simulation only moves forward.
type Ledger struct {
	items []model.StatisticItem
}

func NewLedger() *Ledger {
	return &Ledger{items: make([]model.StatisticItem, 0, MinStatisticsSize)}
}

// Add records one trade close. When capacity runs out the backing array is
// doubled and existing entries are copied over.
func (l *Ledger) Add(profit, balanceAfter float64, closeTime int64) {
	if len(l.items) == cap(l.items) {
		grown := make([]model.StatisticItem, len(l.items), max(2*cap(l.items), MinStatisticsSize))
		copy(grown, l.items)
		l.items = grown
	}
	l.items = append(l.items, model.StatisticItem{
		Balance: balanceAfter,
		Profit:  profit,
		Time:    closeTime,
	})
}

func (l *Ledger) Len() int { return len(l.items) }

// Items returns the recorded entries. The slice is shared; do not modify it.
func (l *Ledger) Items() []model.StatisticItem { return l.items }

package data

import (
	"encoding/json"
	"fmt"
	"os"

	"portfolio-backtest/internal/model"
)

// LoadRatesJSON reads a JSON array of bars as written by the API.
func LoadRatesJSON(path string) ([]model.Bar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrData, err)
	}
	var bars []model.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrData, path, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s has no bars", model.ErrData, path)
	}
	return bars, nil
}

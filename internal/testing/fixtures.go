package testing

import (
	"time"

	"github.com/aristath/botstudio/internal/domain"
)

// NewSharedItemFixtures returns a small community listing
func NewSharedItemFixtures() []domain.SharedItem {
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return []domain.SharedItem{
		{
			ID:                 "item-rsi",
			Name:               "RSI mean reversion",
			Description:        "Buys oversold dips on the 1h chart",
			Author:             "alice",
			LikedByCurrentUser: true,
			LikeCount:          12,
			DownloadCount:      40,
			CreatedAt:          created,
		},
		{
			ID:            "item-macd",
			Name:          "MACD crossover",
			Author:        "bob",
			LikeCount:     3,
			DownloadCount: 7,
			CreatedAt:     created.Add(24 * time.Hour),
		},
	}
}

// NewWorkflowResultFixture returns a complete result with two iterations
func NewWorkflowResultFixture() *domain.WorkflowResult {
	return &domain.WorkflowResult{
		Strategy: domain.Strategy{
			Name:        "RSI mean reversion",
			Description: "Buy BTC when RSI(14) < 30 on 1h, exit above 55",
			Config:      map[string]any{"symbol": "BTC", "timeframe": "1h", "rsi_period": 14.0},
			Analysis:    []string{"Profitable in ranging markets"},
		},
		GeneratedCode:   "class RsiStrategy(Strategy):\n    pass\n",
		BacktestResults: map[string]any{"total_return_pct": 14.2, "total_trades": 31.0},
		InsightsConfig:  map[string]any{"charts": []any{"equity", "drawdown"}},
		IterationHistory: []domain.IterationRecord{
			{Index: 1, StepResults: map[string]map[string]any{
				"backtester": {"total_trades": 22.0, "total_return_pct": 6.5},
			}},
			{Index: 2, StepResults: map[string]map[string]any{
				"backtester": {"total_trades": 31.0, "total_return_pct": 14.2},
			}},
		},
	}
}

package workflow

import (
	"encoding/json"
	"sort"

	"github.com/aristath/botstudio/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// backtestAgents are the step-result keys that carry backtest metrics, in
// lookup order
var backtestAgents = []string{"backtester", "backtesting", "backtest"}

var (
	tradeCountKeys = []string{"total_trades", "num_trades", "trade_count", "trades"}
	returnKeys     = []string{"total_return_pct", "return_pct", "total_return"}
)

// IterationSummary is the human-readable projection of one iteration
type IterationSummary struct {
	Index      int     `json:"index"`
	TradeCount int     `json:"trade_count"`
	ReturnPct  float64 `json:"return_pct"`
	HasReturn  bool    `json:"has_return"`
}

// Summary projects the iteration history of a result. It reads the values
// the pipeline produced and never recomputes them.
type Summary struct {
	Iterations    []IterationSummary `json:"iterations"`
	MeanReturnPct float64            `json:"mean_return_pct"`
	BestIteration int                `json:"best_iteration"` // Index of the best return, -1 if none
}

// Summarize builds the iteration summary of r
func Summarize(r *domain.WorkflowResult) Summary {
	summary := Summary{BestIteration: -1}
	if r == nil {
		return summary
	}

	history := append([]domain.IterationRecord(nil), r.IterationHistory...)
	sort.SliceStable(history, func(i, j int) bool { return history[i].Index < history[j].Index })

	var returns []float64
	var returnIdx []int
	for _, it := range history {
		payload := backtestPayload(it.StepResults)
		row := IterationSummary{Index: it.Index}
		if payload != nil {
			row.TradeCount = tradeCount(payload)
			if v, ok := firstNumber(payload, returnKeys); ok {
				row.ReturnPct = v
				row.HasReturn = true
				returns = append(returns, v)
				returnIdx = append(returnIdx, it.Index)
			}
		}
		summary.Iterations = append(summary.Iterations, row)
	}

	if len(returns) > 0 {
		summary.MeanReturnPct = stat.Mean(returns, nil)
		summary.BestIteration = returnIdx[floats.MaxIdx(returns)]
	}
	return summary
}

func backtestPayload(steps map[string]map[string]any) map[string]any {
	for _, agent := range backtestAgents {
		if p, ok := steps[agent]; ok {
			return p
		}
	}
	return nil
}

func tradeCount(payload map[string]any) int {
	for _, key := range tradeCountKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		if list, isList := raw.([]any); isList {
			return len(list)
		}
		if v, isNum := toFloat(raw); isNum {
			return int(v)
		}
	}
	return 0
}

func firstNumber(payload map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		if v, ok := toFloat(payload[key]); ok {
			return v, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

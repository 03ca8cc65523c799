package workflow

import (
	"strings"

	"github.com/aristath/botstudio/internal/domain"
)

// stepAliases maps the identifiers the pipeline reports onto local steps.
// The pipeline names steps after its agents in some versions and after the
// stage in others.
var stepAliases = map[string]domain.Step{
	"clarifying":      domain.StepClarifying,
	"clarifier":       domain.StepClarifying,
	"clarification":   domain.StepClarifying,
	"parsing":         domain.StepParsing,
	"parser":          domain.StepParsing,
	"parse":           domain.StepParsing,
	"strategy_parser": domain.StepParsing,
	"coding":          domain.StepCoding,
	"coder":           domain.StepCoding,
	"code_generator":  domain.StepCoding,
	"code_generation": domain.StepCoding,
	"generating_code": domain.StepCoding,
	"backtesting":     domain.StepBacktesting,
	"backtester":      domain.StepBacktesting,
	"backtest":        domain.StepBacktesting,
	"analyzing":       domain.StepAnalyzing,
	"analysing":       domain.StepAnalyzing,
	"analyzer":        domain.StepAnalyzing,
	"analysis":        domain.StepAnalyzing,
	"insights":        domain.StepAnalyzing,
	"complete":        domain.StepComplete,
	"completed":       domain.StepComplete,
	"done":            domain.StepComplete,
}

// MapStep converts a remote step identifier. ok is false for identifiers
// that are not recognised.
func MapStep(remote string) (step domain.Step, ok bool) {
	key := strings.ToLower(strings.TrimSpace(remote))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	step, ok = stepAliases[key]
	return step, ok
}

package optimize

import (
	"fmt"

	"options-backtest/internal/backtest"
)

// Objective 从指标中取出待最大化的目标值。
type Objective func(backtest.Metrics) float64

var objectives = map[string]Objective{
	"mar":           func(m backtest.Metrics) float64 { return m.MAR },
	"sortino":       func(m backtest.Metrics) float64 { return m.Sortino },
	"return":        func(m backtest.Metrics) float64 { return m.Return },
	"profit_factor": func(m backtest.Metrics) float64 { return m.ProfitFactor },
	"total_pnl":     func(m backtest.Metrics) float64 { return m.TotalPnL },
}

// ObjectiveByName 按名称返回目标函数。
func ObjectiveByName(name string) (Objective, error) {
	obj, ok := objectives[name]
	if !ok {
		return nil, fmt.Errorf("optimize: 未知优化目标 %q", name)
	}
	return obj, nil
}

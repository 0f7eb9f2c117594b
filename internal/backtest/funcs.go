package backtest

import (
	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// StrategyFuncs 允许使用函数组合出策略，便于测试与临时实验。
type StrategyFuncs struct {
	Label string
	Entry func(snap market.Snapshot) *position.Position
	Exit  func(pos *position.Position, snap market.Snapshot) bool
}

func (f StrategyFuncs) Name() string {
	if f.Label == "" {
		return "funcs"
	}
	return f.Label
}

func (f StrategyFuncs) CheckEntry(snap market.Snapshot) *position.Position {
	if f.Entry == nil {
		return nil
	}
	return f.Entry(snap)
}

func (f StrategyFuncs) CheckExit(pos *position.Position, snap market.Snapshot) bool {
	if f.Exit == nil {
		return false
	}
	return f.Exit(pos, snap)
}

package backtest

import (
	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// Strategy 为回测引擎唯一依赖的策略接口。
//
// 引擎保证：有持仓时不调用 CheckEntry，无持仓时不调用 CheckExit。
// 策略实现不得在交易之间保留可变状态。
type Strategy interface {
	Name() string
	// CheckEntry 返回新仓位，nil 表示本区间不开仓（包括报价缺失）。
	CheckEntry(snap market.Snapshot) *position.Position
	// CheckExit 在仓位已按本区间估值后调用。
	CheckExit(pos *position.Position, snap market.Snapshot) bool
}

// IndicatorPreparer 为可选接口，引擎在循环开始前调用一次。
type IndicatorPreparer interface {
	PrepareIndicators(series *market.Series, bars []market.Bar) (*market.Indicators, error)
}

// Observer 接收仓位生命周期事件，用于记录或监控。
type Observer interface {
	PositionOpened(pos *position.Position)
	PositionClosed(pos *position.Position)
}

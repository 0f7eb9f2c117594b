package backtest

import (
	"fmt"

	"options-backtest/internal/position"
)

// ExitPolicy 为默认离场规则：收益率达到止盈或跌破止损时平仓。
type ExitPolicy struct {
	ProfitPct float64 `mapstructure:"profit_pct" yaml:"profit_pct"`
	LossPct   float64 `mapstructure:"loss_pct" yaml:"loss_pct"`
}

// ShouldExit 按 pnl / entry_notional 判断，开仓金额为 0 时不离场。
func (p ExitPolicy) ShouldExit(pos *position.Position) bool {
	if pos == nil || pos.EntryNotional() == 0 {
		return false
	}
	ret := pos.ReturnPct()
	return ret >= p.ProfitPct || ret <= p.LossPct
}

// Validate 检查止盈为正、止损为负。
func (p ExitPolicy) Validate() error {
	if p.ProfitPct <= 0 {
		return fmt.Errorf("backtest: profit_pct 必须为正, 实际 %g", p.ProfitPct)
	}
	if p.LossPct >= 0 {
		return fmt.Errorf("backtest: loss_pct 必须为负, 实际 %g", p.LossPct)
	}
	return nil
}

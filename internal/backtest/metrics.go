package backtest

import (
	"math"

	"options-backtest/internal/position"
)

// Metrics 记录回测绩效指标，Return 以百分比表示。
type Metrics struct {
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	NumPositions int     `json:"num_positions"`
	MAR          float64 `json:"mar"`
	Sortino      float64 `json:"sortino"`
	Return       float64 `json:"return"`
	ProfitFactor float64 `json:"profit_factor"`
}

// CalculateMetrics 为已平仓列表的纯函数，空列表返回零值。
func CalculateMetrics(positions []*position.Position) Metrics {
	if len(positions) == 0 {
		return Metrics{}
	}

	var (
		totalPnL    float64
		notional    float64
		wins        int
		grossProfit float64
		grossLoss   float64
	)
	returns := make([]float64, len(positions))
	for i, pos := range positions {
		pnl := pos.PnL()
		totalPnL += pnl
		notional += pos.EntryNotional()
		switch {
		case pnl > 0:
			wins++
			grossProfit += pnl
		case pnl < 0:
			grossLoss += pnl
		}
		returns[i] = pos.ReturnPct()
	}
	grossLoss = math.Abs(grossLoss)

	totalReturn := 0.0
	if notional != 0 {
		totalReturn = totalPnL / notional
	}

	mar := totalReturn
	if dd := computeDrawdown(returns); dd != 0 {
		mar = totalReturn / dd
	}

	sortino := totalReturn
	if std := downsideStd(returns); std != 0 {
		sortino = totalReturn / std
	}

	profitFactor := math.Inf(1)
	if grossLoss != 0 {
		profitFactor = grossProfit / grossLoss
	}

	return Metrics{
		TotalPnL:     totalPnL,
		WinRate:      float64(wins) / float64(len(positions)),
		NumPositions: len(positions),
		MAR:          mar,
		Sortino:      sortino,
		Return:       totalReturn * 100,
		ProfitFactor: profitFactor,
	}
}

// computeDrawdown 基于逐笔收益的累计净值计算最大回撤（正数）。
func computeDrawdown(returns []float64) float64 {
	cum := 1.0
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if peak <= 0 {
			continue
		}
		dd := cum/peak - 1
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

// downsideStd 为负收益的样本标准差，少于两个样本时为 0。
func downsideStd(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range downside {
		mean += r
	}
	mean /= float64(len(downside))

	variance := 0.0
	for _, r := range downside {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(downside) - 1)
	return math.Sqrt(variance)
}

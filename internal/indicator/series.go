package indicator

import (
	"math"

	"options-backtest/internal/market"
)

// OHLC 将K线拆分为便于指标计算的列。
type OHLC struct {
	Open  []float64
	High  []float64
	Low   []float64
	Close []float64
}

// NewOHLC 从K线创建 OHLC，保持原有顺序。
func NewOHLC(bars []market.Bar) OHLC {
	length := len(bars)
	o := OHLC{
		Open:  make([]float64, length),
		High:  make([]float64, length),
		Low:   make([]float64, length),
		Close: make([]float64, length),
	}
	for i, bar := range bars {
		o.Open[i] = bar.Open
		o.High[i] = bar.High
		o.Low[i] = bar.Low
		o.Close[i] = bar.Close
	}
	return o
}

// maskLookback 将回看期内的输出置为 NaN（talib 在此区间输出 0）。
func maskLookback(values []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

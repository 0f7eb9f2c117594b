package indicator

import (
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"options-backtest/internal/market"
)

// 指标列名，策略通过 Snapshot.Indicator 读取。
const (
	ColumnSMA       = "sma"
	ColumnRSI       = "rsi"
	ColumnATR       = "atr"
	ColumnATRPct    = "atr_pct"
	ColumnHigherLow = "higher_low"
)

// Calculator 基于一个交易日的标的序列计算技术指标，并按参数缓存结果。
//
// 同一交易日的多次试验共享一个 Calculator，因此缓存受互斥锁保护；
// 返回的切片只读。
type Calculator struct {
	series *market.Series
	bars   []market.Bar
	prices []float64

	mu    sync.Mutex
	cache map[string][]float64
}

// NewCalculator 创建 Calculator，bars 可为空（此时 ATR 与 higher_low 全为缺失）。
func NewCalculator(series *market.Series, bars []market.Bar) *Calculator {
	return &Calculator{
		series: series,
		bars:   bars,
		prices: series.Prices(),
		cache:  make(map[string][]float64),
	}
}

func (c *Calculator) cached(key string, compute func() []float64) []float64 {
	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := compute()

	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// SMA 返回价格的简单移动平均。
func (c *Calculator) SMA(period int) []float64 {
	return c.cached(fmt.Sprintf("sma:%d", period), func() []float64 {
		if period < 1 || len(c.prices) < period {
			return nanSlice(len(c.prices))
		}
		return maskLookback(talib.Sma(c.prices, period), period-1)
	})
}

// RSI 返回价格的相对强弱指标。
func (c *Calculator) RSI(period int) []float64 {
	return c.cached(fmt.Sprintf("rsi:%d", period), func() []float64 {
		if period < 2 || len(c.prices) <= period {
			return nanSlice(len(c.prices))
		}
		return maskLookback(talib.Rsi(c.prices, period), period)
	})
}

// ATR 返回以K线计算、按时间戳对齐到序列的平均真实波幅。
func (c *Calculator) ATR(period int) []float64 {
	return c.cached(fmt.Sprintf("atr:%d", period), func() []float64 {
		if period < 1 || len(c.bars) <= period {
			return nanSlice(len(c.prices))
		}
		ohlc := NewOHLC(c.bars)
		atr := maskLookback(talib.Atr(ohlc.High, ohlc.Low, ohlc.Close, period), period)
		return c.align(atr)
	})
}

// ATRPct 返回 ATR / 价格。
func (c *Calculator) ATRPct(period int) []float64 {
	return c.cached(fmt.Sprintf("atr_pct:%d", period), func() []float64 {
		atr := c.ATR(period)
		out := make([]float64, len(atr))
		for i, v := range atr {
			if math.IsNaN(v) || c.prices[i] == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = v / c.prices[i]
		}
		return out
	})
}

// HigherLow 当前K线低点高于前一根时为 1，否则为 0；首根为 0，无对应K线时为 NaN。
func (c *Calculator) HigherLow() []float64 {
	return c.cached("higher_low", func() []float64 {
		flags := make([]float64, len(c.bars))
		for i := 1; i < len(c.bars); i++ {
			if c.bars[i].Low > c.bars[i-1].Low {
				flags[i] = 1
			}
		}
		return c.align(flags)
	})
}

// align 将按K线排列的值映射到序列下标。
func (c *Calculator) align(values []float64) []float64 {
	out := nanSlice(len(c.prices))
	for i, bar := range c.bars {
		idx, ok := c.series.IndexOf(bar.Time)
		if !ok {
			continue
		}
		out[idx] = values[i]
	}
	return out
}

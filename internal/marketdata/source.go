package marketdata

import (
	"context"
	"errors"
	"time"

	"options-backtest/internal/market"
)

// ErrNotFound 表示数据源中没有该交易日的数据。
var ErrNotFound = errors.New("marketdata: 数据不存在")

// OptionQuote 为单条期权报价行。
type OptionQuote struct {
	Time   time.Time
	Strike float64
	Right  market.Right
	Bid    float64
	Ask    float64
}

// Source 提供某一交易日的原始行情，时间均为交易所本地时间（按 UTC 存储）。
type Source interface {
	IndexPrices(ctx context.Context, day time.Time) ([]market.Tick, error)
	IndexOHLC(ctx context.Context, day time.Time) ([]market.Bar, error)
	// OptionQuotes 只返回 [minStrike, maxStrike] 内的报价。
	OptionQuotes(ctx context.Context, day time.Time, minStrike, maxStrike float64) ([]OptionQuote, error)
}

// Session 为加载并校验完成的单个交易日。
type Session struct {
	Date   time.Time
	Series *market.Series
	Bars   []market.Bar
	Chain  *market.Chain
}

// ParseDate 解析 20250102 或 2025-01-02 格式的日期。
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("marketdata: 日期格式应为 YYYYMMDD 或 YYYY-MM-DD: " + s)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

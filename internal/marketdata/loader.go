package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"options-backtest/internal/market"
)

// 常规交易时段。09:30:00 的首行报价为零，不参与回测。
const (
	DefaultOpen       = 9*time.Hour + 30*time.Minute + time.Second
	DefaultClose      = 16 * time.Hour
	DefaultBarClose   = DefaultClose - time.Second
	DefaultStrikeSpan = 200.0
)

// LoaderConfig 定义交易时段与过滤参数，时间均为相对零点的偏移。
type LoaderConfig struct {
	Open         time.Duration
	Close        time.Duration
	BarClose     time.Duration
	StrikeWindow float64
	// Cutoff 非零时只保留早于该时刻的区间（校验完整交易日之后截断）。
	Cutoff time.Duration
	// RequireOHLC 为 true 时缺少 OHLC 数据视为错误。
	RequireOHLC bool
}

func (c *LoaderConfig) normalize() LoaderConfig {
	cfg := *c
	if cfg.Open <= 0 {
		cfg.Open = DefaultOpen
	}
	if cfg.Close <= 0 {
		cfg.Close = DefaultClose
	}
	if cfg.BarClose <= 0 {
		cfg.BarClose = DefaultBarClose
	}
	if cfg.StrikeWindow <= 0 {
		cfg.StrikeWindow = DefaultStrikeSpan
	}
	return cfg
}

// Loader 从 Source 读取原始数据并组装为校验过的 Session。
type Loader struct {
	source Source
	cfg    LoaderConfig
	logger *zap.Logger
}

// NewLoader 创建加载器。
func NewLoader(source Source, cfg LoaderConfig, logger *zap.Logger) (*Loader, error) {
	if source == nil {
		return nil, fmt.Errorf("marketdata: source 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalize()
	if cfg.Close <= cfg.Open {
		return nil, fmt.Errorf("marketdata: 收盘时间必须晚于开盘时间")
	}
	return &Loader{source: source, cfg: cfg, logger: logger}, nil
}

// Load 加载一个交易日。任何区间缺失都返回 *market.IntegrityError。
func (l *Loader) Load(ctx context.Context, date time.Time) (*Session, error) {
	day := dayOf(date)
	openAt, closeAt := day.Add(l.cfg.Open), day.Add(l.cfg.Close)
	started := time.Now()

	var (
		ticks []market.Tick
		bars  []market.Bar
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := l.source.IndexPrices(groupCtx, day)
		if err != nil {
			return fmt.Errorf("marketdata: 加载标的价格失败: %w", err)
		}
		ticks = data
		return nil
	})

	group.Go(func() error {
		data, err := l.source.IndexOHLC(groupCtx, day)
		if errors.Is(err, ErrNotFound) && !l.cfg.RequireOHLC {
			l.logger.Debug("缺少 OHLC 数据", zap.Time("date", day))
			return nil
		}
		if err != nil {
			return fmt.Errorf("marketdata: 加载 OHLC 失败: %w", err)
		}
		bars = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	ticks = filterRows(ticks, atOrAfter(openAt), func(t market.Tick) time.Time { return t.Time })
	if err := ValidateIntervals("index", tickTimes(ticks), openAt, closeAt); err != nil {
		l.logger.Error("标的价格区间校验失败", zap.Time("date", day), zap.Error(err))
		return nil, err
	}
	series, err := market.NewSeries(ticks)
	if err != nil {
		return nil, err
	}

	if bars != nil {
		bars = filterRows(bars, atOrAfter(openAt), func(b market.Bar) time.Time { return b.Time })
		if err := ValidateIntervals("ohlc", barTimes(bars), openAt, day.Add(l.cfg.BarClose)); err != nil {
			l.logger.Error("OHLC 区间校验失败", zap.Time("date", day), zap.Error(err))
			return nil, err
		}
	}

	ref := series.At(0).Price
	minStrike, maxStrike := ref-l.cfg.StrikeWindow, ref+l.cfg.StrikeWindow
	quotes, err := l.source.OptionQuotes(ctx, day, minStrike, maxStrike)
	if err != nil {
		return nil, fmt.Errorf("marketdata: 加载期权报价失败: %w", err)
	}
	quotes = filterRows(quotes, atOrAfter(openAt), func(q OptionQuote) time.Time { return q.Time })
	if err := ValidateIntervals("option", quoteTimes(quotes), openAt, closeAt); err != nil {
		l.logger.Error("期权报价区间校验失败", zap.Time("date", day), zap.Error(err))
		return nil, err
	}

	if l.cfg.Cutoff > 0 {
		cutoff := day.Add(l.cfg.Cutoff)
		series = series.Before(cutoff)
		if series.Len() == 0 {
			return nil, fmt.Errorf("marketdata: 截止时间 %s 早于开盘", cutoff.Format(time.DateTime))
		}
		bars = filterRows(bars, func(t time.Time) bool { return t.Before(cutoff) }, func(b market.Bar) time.Time { return b.Time })
	}

	builder := market.NewChainBuilder(openAt, series.Len())
	for _, q := range quotes {
		builder.Add(q.Time, q.Strike, q.Right, q.Bid, q.Ask)
	}
	chain := builder.Build()

	l.logger.Debug("交易日数据加载完成",
		zap.Time("date", day),
		zap.Int("intervals", series.Len()),
		zap.Int("bars", len(bars)),
		zap.Int("quotes", builder.Len()),
		zap.Float64("min_strike", minStrike),
		zap.Float64("max_strike", maxStrike),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &Session{Date: day, Series: series, Bars: bars, Chain: chain}, nil
}

// filterRows 保留时间满足 keep 的行，不要求输入有序。
func filterRows[T any](rows []T, keep func(time.Time) bool, timeOf func(T) time.Time) []T {
	if rows == nil {
		return nil
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if keep(timeOf(row)) {
			out = append(out, row)
		}
	}
	return out
}

func atOrAfter(t time.Time) func(time.Time) bool {
	return func(v time.Time) bool { return !v.Before(t) }
}

func tickTimes(ticks []market.Tick) []time.Time {
	out := make([]time.Time, len(ticks))
	for i, t := range ticks {
		out[i] = t.Time
	}
	return out
}

func barTimes(bars []market.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Time
	}
	return out
}

func quoteTimes(quotes []OptionQuote) []time.Time {
	out := make([]time.Time, len(quotes))
	for i, q := range quotes {
		out[i] = q.Time
	}
	return out
}

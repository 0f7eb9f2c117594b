package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// Result 汇总回测结果。
type Result struct {
	Strategy  string
	Metrics   Metrics
	Positions []*position.Position
	Intervals int
	Skipped   int
	Started   time.Time
	Finished  time.Time
}

// Duration 返回回测耗时。
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Option 配置可选依赖。
type Option func(*Engine)

// WithObserver 注册仓位事件观察者。
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

// WithBars 提供 OHLC K线，供 IndicatorPreparer 使用。
func WithBars(bars []market.Bar) Option {
	return func(e *Engine) {
		e.bars = bars
	}
}

// WithIndicators 直接提供预计算指标，此时不再调用 IndicatorPreparer。
func WithIndicators(ind *market.Indicators) Option {
	return func(e *Engine) {
		e.indicators = ind
	}
}

// Engine 按秒回放行情，驱动策略开平仓。
type Engine struct {
	cfg      Config
	series   *market.Series
	chain    *market.Chain
	strategy Strategy
	logger   *zap.Logger

	bars       []market.Bar
	indicators *market.Indicators
	observers  []Observer

	book book
	ran  bool
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, series *market.Series, chain *market.Chain, strategy Strategy, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if series == nil || series.Len() == 0 {
		return nil, fmt.Errorf("backtest: series 不能为空")
	}
	if chain == nil {
		return nil, fmt.Errorf("backtest: chain 不能为空")
	}
	if strategy == nil {
		return nil, fmt.Errorf("backtest: strategy 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:      cfg.normalize(),
		series:   series,
		chain:    chain,
		strategy: strategy,
		logger:   logger.With(zap.String("strategy", strategy.Name())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run 执行完整回测流程。
//
// 估值失败或违反持仓约束时返回错误且不产出指标。
func (e *Engine) Run() (Result, error) {
	if e.ran {
		return Result{}, ErrEngineReused
	}
	e.ran = true
	started := time.Now()

	if err := e.prepare(); err != nil {
		return Result{}, err
	}

	n := e.series.Len()
	skipped := 0
	for i := 0; i < n; i++ {
		snap := e.snapshot(i)
		if !e.validInterval(snap) {
			skipped++
			continue
		}

		if e.book.hasOpen() {
			if err := e.revalue(snap.Time); err != nil {
				return Result{}, err
			}
			exit, err := e.checkExit(snap)
			if err != nil {
				return Result{}, err
			}
			if exit {
				if err := e.close(snap.Time, position.ExitSignal); err != nil {
					return Result{}, err
				}
			}
		}

		if !e.book.hasOpen() {
			if err := e.tryEnter(snap); err != nil {
				return Result{}, err
			}
		}
	}

	if e.book.hasOpen() {
		last := e.series.End()
		if err := e.revalue(last); err != nil {
			return Result{}, err
		}
		if err := e.close(last, position.ExitEndOfDay); err != nil {
			return Result{}, err
		}
	}

	positions := e.book.positions()
	result := Result{
		Strategy:  e.strategy.Name(),
		Metrics:   CalculateMetrics(positions),
		Positions: positions,
		Intervals: n,
		Skipped:   skipped,
		Started:   started,
		Finished:  time.Now(),
	}
	e.logger.Info("回测完成",
		zap.String("label", e.cfg.Label),
		zap.Int("intervals", n),
		zap.Int("skipped", skipped),
		zap.Int("positions", len(positions)),
		zap.Float64("total_pnl", result.Metrics.TotalPnL),
		zap.Duration("elapsed", result.Duration()),
	)
	return result, nil
}

func (e *Engine) prepare() error {
	if e.indicators != nil {
		return nil
	}
	preparer, ok := e.strategy.(IndicatorPreparer)
	if !ok {
		return nil
	}
	ind, err := preparer.PrepareIndicators(e.series, e.bars)
	if err != nil {
		return fmt.Errorf("backtest: 准备指标失败: %w", err)
	}
	e.indicators = ind
	e.logger.Debug("指标已准备", zap.Strings("columns", ind.Names()))
	return nil
}

func (e *Engine) snapshot(i int) market.Snapshot {
	tick := e.series.At(i)
	return market.Snapshot{
		Index:      i,
		Time:       tick.Time,
		Price:      tick.Price,
		Chain:      e.chain,
		Indicators: e.indicators,

		StrikeIncrement: e.cfg.StrikeIncrement,
	}
}

// validInterval 要求价格为正且平值行权价的看涨看跌中间价均为正。
func (e *Engine) validInterval(snap market.Snapshot) bool {
	if !(snap.Price > 0) || math.IsInf(snap.Price, 0) {
		e.logger.Debug("跳过区间: 价格无效", zap.Time("time", snap.Time), zap.Float64("price", snap.Price))
		return false
	}
	atm := snap.ATM()
	if !e.chain.ATMValid(snap.Time, atm) {
		e.logger.Debug("跳过区间: 平值报价缺失", zap.Time("time", snap.Time), zap.Float64("atm", atm))
		return false
	}
	return true
}

func (e *Engine) revalue(t time.Time) error {
	pos := e.book.current
	if err := pos.Revalue(e.chain, t); err != nil {
		verr := newValuationError(t, pos, err)
		e.logger.Error("持仓估值失败，终止回测", zap.Time("time", t), zap.Error(verr))
		return verr
	}
	return nil
}

func (e *Engine) checkExit(snap market.Snapshot) (bool, error) {
	if !e.book.hasOpen() {
		return false, fmt.Errorf("%w: 无持仓时调用离场检查", ErrPositionInvariant)
	}
	return e.strategy.CheckExit(e.book.current, snap), nil
}

func (e *Engine) tryEnter(snap market.Snapshot) error {
	if e.book.hasOpen() {
		return fmt.Errorf("%w: 有持仓时调用开仓检查", ErrPositionInvariant)
	}
	pos := e.strategy.CheckEntry(snap)
	if pos == nil {
		return nil
	}
	if !pos.EntryTime.Equal(snap.Time) {
		return fmt.Errorf("%w: 开仓时间 %s 与当前区间 %s 不一致", ErrPositionInvariant,
			pos.EntryTime.Format(time.DateTime), snap.Time.Format(time.DateTime))
	}
	if err := e.book.open(pos); err != nil {
		return err
	}
	e.logger.Debug("开仓", zap.Time("time", snap.Time), zap.Stringer("position", pos))
	for _, obs := range e.observers {
		obs.PositionOpened(pos)
	}
	return nil
}

func (e *Engine) close(t time.Time, reason position.ExitReason) error {
	pos, err := e.book.close(t, reason)
	if err != nil {
		return err
	}
	e.logger.Debug("平仓",
		zap.Time("time", t),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", pos.PnL()),
		zap.Stringer("position", pos),
	)
	for _, obs := range e.observers {
		obs.PositionClosed(pos)
	}
	return nil
}

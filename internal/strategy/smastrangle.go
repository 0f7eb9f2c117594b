package strategy

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"options-backtest/internal/backtest"
	"options-backtest/internal/indicator"
	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// SMAStrangleParams 为 SMA 过滤的卖出宽跨式策略参数。
type SMAStrangleParams struct {
	SMAPeriod int     `mapstructure:"sma_period" yaml:"sma_period"`
	Offset    float64 `mapstructure:"offset" yaml:"offset"`

	backtest.ExitPolicy `mapstructure:",squash" yaml:",inline"`
}

// DefaultSMAStrangleParams 返回默认参数。
func DefaultSMAStrangleParams() SMAStrangleParams {
	return SMAStrangleParams{
		SMAPeriod:  20,
		Offset:     5,
		ExitPolicy: backtest.ExitPolicy{ProfitPct: 0.03, LossPct: -0.2},
	}
}

func (p SMAStrangleParams) Validate() error {
	var err error
	if p.SMAPeriod < 1 {
		err = multierr.Append(err, fmt.Errorf("sma_period 必须 >= 1"))
	}
	if p.Offset < 0 {
		err = multierr.Append(err, fmt.Errorf("offset 不能为负"))
	}
	return multierr.Append(err, p.ExitPolicy.Validate())
}

// SMAStrangle 在价格高于 SMA 时卖出价外看涨与看跌各一张。
type SMAStrangle struct {
	params SMAStrangleParams
	logger *zap.Logger
}

// NewSMAStrangle 校验参数并创建策略。
func NewSMAStrangle(params SMAStrangleParams, logger *zap.Logger) (*SMAStrangle, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s 参数非法: %w", NameSMAStrangle, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMAStrangle{params: params, logger: logger}, nil
}

func (s *SMAStrangle) Name() string {
	return NameSMAStrangle
}

func (s *SMAStrangle) PrepareIndicators(series *market.Series, bars []market.Bar) (*market.Indicators, error) {
	calc := indicator.NewCalculator(series, bars)
	ind := market.NewIndicators(series.Len())
	if err := ind.Set(indicator.ColumnSMA, calc.SMA(s.params.SMAPeriod)); err != nil {
		return nil, err
	}
	return ind, nil
}

func (s *SMAStrangle) CheckEntry(snap market.Snapshot) *position.Position {
	sma, ok := snap.Indicator(indicator.ColumnSMA)
	if !ok || snap.Price <= sma {
		return nil
	}

	callStrike := snap.Strike(snap.Price + s.params.Offset)
	putStrike := snap.Strike(snap.Price - s.params.Offset)

	call, err := snap.Chain.Entry(snap.Time, callStrike, market.Call)
	if err != nil {
		s.logger.Debug("跳过开仓", zap.Time("time", snap.Time), zap.Error(err))
		return nil
	}
	put, err := snap.Chain.Entry(snap.Time, putStrike, market.Put)
	if err != nil {
		s.logger.Debug("跳过开仓", zap.Time("time", snap.Time), zap.Error(err))
		return nil
	}

	pos, err := position.New(snap.Time, position.Short,
		position.NewLeg(callStrike, market.Call, -1, call.Bid, call.Mid),
		position.NewLeg(putStrike, market.Put, -1, put.Bid, put.Mid),
	)
	if err != nil {
		s.logger.Warn("构造仓位失败", zap.Error(err))
		return nil
	}
	return pos
}

func (s *SMAStrangle) CheckExit(pos *position.Position, _ market.Snapshot) bool {
	return s.params.ShouldExit(pos)
}

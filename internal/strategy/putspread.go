package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"options-backtest/internal/backtest"
	"options-backtest/internal/indicator"
	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// PutSpreadParams 为卖出看跌价差策略参数。
type PutSpreadParams struct {
	ShortStrike  float64 `mapstructure:"short_strike" yaml:"short_strike"`
	SpreadWidth  float64 `mapstructure:"spread_width" yaml:"spread_width"`
	MinCredit    float64 `mapstructure:"min_credit" yaml:"min_credit"`
	SMAPeriod    int     `mapstructure:"sma_period" yaml:"sma_period"`
	RSIPeriod    int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	RSILower     float64 `mapstructure:"rsi_lower" yaml:"rsi_lower"`
	RSIUpper     float64 `mapstructure:"rsi_upper" yaml:"rsi_upper"`
	ATRPeriod    int     `mapstructure:"atr_period" yaml:"atr_period"`
	ATRThreshold float64 `mapstructure:"atr_threshold" yaml:"atr_threshold"`

	backtest.ExitPolicy `mapstructure:",squash" yaml:",inline"`
}

// DefaultPutSpreadParams 返回默认参数（1 秒数据）。
func DefaultPutSpreadParams() PutSpreadParams {
	return PutSpreadParams{
		ShortStrike:  5,
		SpreadWidth:  5,
		MinCredit:    0.10,
		SMAPeriod:    180,
		RSIPeriod:    60,
		RSILower:     30,
		RSIUpper:     70,
		ATRPeriod:    60,
		ATRThreshold: 0.0005,
		ExitPolicy:   backtest.ExitPolicy{ProfitPct: 0.5, LossPct: -1.0},
	}
}

func (p PutSpreadParams) Validate() error {
	var err error
	if p.ShortStrike < 0 {
		err = multierr.Append(err, fmt.Errorf("short_strike 不能为负"))
	}
	if p.SpreadWidth <= 0 {
		err = multierr.Append(err, fmt.Errorf("spread_width 必须为正"))
	}
	if p.MinCredit < 0 {
		err = multierr.Append(err, fmt.Errorf("min_credit 不能为负"))
	}
	if p.SMAPeriod < 1 {
		err = multierr.Append(err, fmt.Errorf("sma_period 必须 >= 1"))
	}
	if p.RSIPeriod < 2 {
		err = multierr.Append(err, fmt.Errorf("rsi_period 必须 >= 2"))
	}
	if p.RSILower < 0 || p.RSIUpper > 100 || p.RSILower >= p.RSIUpper {
		err = multierr.Append(err, fmt.Errorf("rsi 区间 (%g, %g) 非法", p.RSILower, p.RSIUpper))
	}
	if p.ATRPeriod < 1 {
		err = multierr.Append(err, fmt.Errorf("atr_period 必须 >= 1"))
	}
	if p.ATRThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("atr_threshold 必须为正"))
	}
	return multierr.Append(err, p.ExitPolicy.Validate())
}

// PutSpread 在上升趋势且波动较低时卖出看跌价差。
type PutSpread struct {
	params PutSpreadParams
	logger *zap.Logger
}

// NewPutSpread 校验参数并创建策略。
func NewPutSpread(params PutSpreadParams, logger *zap.Logger) (*PutSpread, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s 参数非法: %w", NamePutSpread, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PutSpread{params: params, logger: logger}, nil
}

func (s *PutSpread) Name() string {
	return NamePutSpread
}

// Params 返回参数副本。
func (s *PutSpread) Params() PutSpreadParams {
	return s.params
}

// PrepareIndicators 计算 SMA、RSI、ATR、ATR% 与 higher_low 列。
func (s *PutSpread) PrepareIndicators(series *market.Series, bars []market.Bar) (*market.Indicators, error) {
	if len(bars) == 0 {
		return nil, errors.New("strategy: putspread 需要 OHLC 数据")
	}
	calc := indicator.NewCalculator(series, bars)
	ind := market.NewIndicators(series.Len())
	columns := map[string][]float64{
		indicator.ColumnSMA:       calc.SMA(s.params.SMAPeriod),
		indicator.ColumnRSI:       calc.RSI(s.params.RSIPeriod),
		indicator.ColumnATR:       calc.ATR(s.params.ATRPeriod),
		indicator.ColumnATRPct:    calc.ATRPct(s.params.ATRPeriod),
		indicator.ColumnHigherLow: calc.HigherLow(),
	}
	for name, values := range columns {
		if err := ind.Set(name, values); err != nil {
			return nil, err
		}
	}
	return ind, nil
}

func (s *PutSpread) CheckEntry(snap market.Snapshot) *position.Position {
	sma, ok1 := snap.Indicator(indicator.ColumnSMA)
	rsi, ok2 := snap.Indicator(indicator.ColumnRSI)
	atrPct, ok3 := snap.Indicator(indicator.ColumnATRPct)
	higherLow, ok4 := snap.Indicator(indicator.ColumnHigherLow)
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil
	}

	if rsi <= s.params.RSILower || rsi >= s.params.RSIUpper {
		return nil
	}
	if atrPct >= s.params.ATRThreshold {
		return nil
	}
	if higherLow == 0 || snap.Price <= sma {
		return nil
	}

	sellStrike := snap.ATM() - s.params.ShortStrike
	buyStrike := sellStrike - s.params.SpreadWidth

	sell, err := snap.Chain.Entry(snap.Time, sellStrike, market.Put)
	if err != nil {
		s.logger.Debug("跳过开仓", zap.Time("time", snap.Time), zap.Error(err))
		return nil
	}
	buy, err := snap.Chain.Entry(snap.Time, buyStrike, market.Put)
	if err != nil {
		s.logger.Debug("跳过开仓", zap.Time("time", snap.Time), zap.Error(err))
		return nil
	}

	sellBid, sellMid := cents(sell.Bid), cents(sell.Mid)
	buyBid, buyMid := cents(buy.Bid), cents(buy.Mid)
	if !sellBid.IsPositive() || !sellMid.IsPositive() || !buyBid.IsPositive() || !buyMid.IsPositive() {
		return nil
	}
	credit := sellMid.Sub(buyMid)
	if credit.LessThan(decimal.NewFromFloat(s.params.MinCredit)) {
		s.logger.Debug("权利金不足", zap.Time("time", snap.Time), zap.String("credit", credit.String()))
		return nil
	}

	pos, err := position.New(snap.Time, position.Short,
		position.NewLeg(sellStrike, market.Put, -1, sellBid.InexactFloat64(), sellMid.InexactFloat64()),
		position.NewLeg(buyStrike, market.Put, 1, buyBid.InexactFloat64(), buyMid.InexactFloat64()),
	)
	if err != nil {
		s.logger.Warn("构造仓位失败", zap.Error(err))
		return nil
	}
	return pos
}

func (s *PutSpread) CheckExit(pos *position.Position, _ market.Snapshot) bool {
	return s.params.ShouldExit(pos)
}

// cents 将报价按银行家舍入取到分。
func cents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundBank(2)
}

package strategy

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"options-backtest/internal/backtest"
	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

// LongStrangleParams 为默认策略参数。
type LongStrangleParams struct {
	CallOffset          float64 `mapstructure:"call_offset" yaml:"call_offset"`
	PutOffset           float64 `mapstructure:"put_offset" yaml:"put_offset"`
	backtest.ExitPolicy `mapstructure:",squash" yaml:",inline"`
}

// DefaultLongStrangleParams 返回默认参数。
func DefaultLongStrangleParams() LongStrangleParams {
	return LongStrangleParams{
		CallOffset: 5,
		PutOffset:  5,
		ExitPolicy: backtest.ExitPolicy{ProfitPct: 0.5, LossPct: -1.0},
	}
}

func (p LongStrangleParams) Validate() error {
	var err error
	if p.CallOffset < 0 {
		err = multierr.Append(err, fmt.Errorf("call_offset 不能为负"))
	}
	if p.PutOffset < 0 {
		err = multierr.Append(err, fmt.Errorf("put_offset 不能为负"))
	}
	return multierr.Append(err, p.ExitPolicy.Validate())
}

// LongStrangle 在看涨中间价高于看跌时买入平值附近的宽跨式组合。
type LongStrangle struct {
	params LongStrangleParams
	logger *zap.Logger
}

// NewLongStrangle 校验参数并创建策略。
func NewLongStrangle(params LongStrangleParams, logger *zap.Logger) (*LongStrangle, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s 参数非法: %w", NameDefault, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LongStrangle{params: params, logger: logger}, nil
}

func (s *LongStrangle) Name() string {
	return NameDefault
}

// Params 返回参数副本。
func (s *LongStrangle) Params() LongStrangleParams {
	return s.params
}

func (s *LongStrangle) CheckEntry(snap market.Snapshot) *position.Position {
	atm := snap.ATM()
	callStrike := atm + s.params.CallOffset
	putStrike := atm - s.params.PutOffset

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
	if call.Mid <= put.Mid {
		return nil
	}

	pos, err := position.New(snap.Time, position.Long,
		position.NewLeg(callStrike, market.Call, 1, call.Bid, call.Mid),
		position.NewLeg(putStrike, market.Put, 1, put.Bid, put.Mid),
	)
	if err != nil {
		s.logger.Warn("构造仓位失败", zap.Error(err))
		return nil
	}
	return pos
}

func (s *LongStrangle) CheckExit(pos *position.Position, _ market.Snapshot) bool {
	return s.params.ShouldExit(pos)
}

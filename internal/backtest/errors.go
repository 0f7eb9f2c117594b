package backtest

import (
	"errors"
	"fmt"
	"time"

	"options-backtest/internal/position"
)

var (
	// ErrValuationFailure 表示持仓无法估值，回测必须终止。
	ErrValuationFailure = errors.New("backtest: valuation failure")
	// ErrPositionInvariant 表示违反单一持仓约束。
	ErrPositionInvariant = errors.New("backtest: position invariant violated")
	// ErrEngineReused 表示同一引擎被重复运行。
	ErrEngineReused = errors.New("backtest: engine 只能运行一次")
)

// ValuationError 描述持仓在某一区间的估值失败。
type ValuationError struct {
	Time     time.Time
	Position string
	Err      error
}

func (e *ValuationError) Error() string {
	return fmt.Sprintf("backtest: %s 持仓估值失败 [%s]: %v", e.Time.Format(time.DateTime), e.Position, e.Err)
}

func (e *ValuationError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrValuationFailure) 成立。
func (e *ValuationError) Is(target error) bool {
	return target == ErrValuationFailure
}

func newValuationError(t time.Time, pos *position.Position, err error) *ValuationError {
	return &ValuationError{Time: t, Position: pos.String(), Err: err}
}

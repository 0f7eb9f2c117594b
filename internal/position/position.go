package position

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"options-backtest/internal/market"
)

var (
	// ErrAlreadyClosed 表示重复平仓。
	ErrAlreadyClosed = errors.New("position: 仓位已平仓")
	// ErrInvalidPosition 表示构造参数违反仓位不变量。
	ErrInvalidPosition = errors.New("position: 非法仓位")
)

// Direction 为仓位方向，+1 多头，-1 空头。
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// ExitReason 记录平仓原因。
type ExitReason string

const (
	// ExitSignal 由策略离场条件触发。
	ExitSignal ExitReason = "signal"
	// ExitEndOfDay 收盘强制平仓。
	ExitEndOfDay ExitReason = "eod"
)

// MarkSource 提供持仓估值所需的中间价。
type MarkSource interface {
	Mark(t time.Time, strike float64, right market.Right) (float64, error)
}

// OptionLeg 为仓位中的单个期权合约，除离场中间价外不可变。
type OptionLeg struct {
	Strike     float64
	Right      market.Right
	Quantity   int
	EntryPrice float64
	EntryMid   float64

	exitMid float64
	marked  bool
}

// NewLeg 创建一条腿，数量为带符号的合约数。
func NewLeg(strike float64, right market.Right, quantity int, entryPrice, entryMid float64) OptionLeg {
	return OptionLeg{
		Strike:     strike,
		Right:      right,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		EntryMid:   entryMid,
	}
}

// ExitMid 返回最近一次估值，未估值时第二个返回值为 false。
func (l OptionLeg) ExitMid() (float64, bool) {
	return l.exitMid, l.marked
}

// PnL 为 (离场中间价 - 开仓价) × 数量，未估值时为 0。
func (l OptionLeg) PnL() float64 {
	if !l.marked {
		return 0
	}
	return (l.exitMid - l.EntryPrice) * float64(l.Quantity)
}

// EntryValue 为带符号的开仓金额。
func (l OptionLeg) EntryValue() float64 {
	return l.EntryPrice * float64(l.Quantity)
}

func (l OptionLeg) String() string {
	return fmt.Sprintf("%d@%g%s=$%.2f", l.Quantity, l.Strike, l.Right, l.EntryPrice)
}

// Position 为一笔期权组合交易。
type Position struct {
	EntryTime time.Time
	Direction Direction

	legs       []OptionLeg
	exitTime   time.Time
	closed     bool
	exitReason ExitReason
	markedAt   time.Time
	marked     bool
}

// New 校验不变量后创建仓位。
func New(entryTime time.Time, direction Direction, legs ...OptionLeg) (*Position, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一条腿", ErrInvalidPosition)
	}
	if direction != Long && direction != Short {
		return nil, fmt.Errorf("%w: 方向必须为 +1 或 -1, 实际 %d", ErrInvalidPosition, direction)
	}
	for i, leg := range legs {
		if leg.Quantity == 0 {
			return nil, fmt.Errorf("%w: 第 %d 条腿数量为 0", ErrInvalidPosition, i)
		}
		if leg.Right != market.Call && leg.Right != market.Put {
			return nil, fmt.Errorf("%w: 第 %d 条腿期权类型 %q 非法", ErrInvalidPosition, i, leg.Right)
		}
	}
	return &Position{
		EntryTime: entryTime,
		Direction: direction,
		legs:      append([]OptionLeg(nil), legs...),
	}, nil
}

// Legs 返回各腿副本。
func (p *Position) Legs() []OptionLeg {
	return append([]OptionLeg(nil), p.legs...)
}

// PnL 每次由各腿重新计算，不做缓存。
func (p *Position) PnL() float64 {
	var total float64
	for _, leg := range p.legs {
		total += leg.PnL()
	}
	return total
}

// EntryNotional 为各腿开仓金额绝对值之和。
func (p *Position) EntryNotional() float64 {
	var total float64
	for _, leg := range p.legs {
		total += math.Abs(leg.EntryValue())
	}
	return total
}

// EntryValue 为带符号的开仓净额（贷方为负）。
func (p *Position) EntryValue() float64 {
	var total float64
	for _, leg := range p.legs {
		total += leg.EntryValue()
	}
	return total
}

// CurrentValue 为按最新估值计算的带符号净额，尚未估值时为 0。
func (p *Position) CurrentValue() float64 {
	if !p.marked {
		return 0
	}
	var total float64
	for _, leg := range p.legs {
		total += leg.exitMid * float64(leg.Quantity)
	}
	return total
}

// ReturnPct 为 PnL / EntryNotional。
func (p *Position) ReturnPct() float64 {
	notional := p.EntryNotional()
	if notional == 0 {
		return 0
	}
	return p.PnL() / notional
}

// Revalue 以时间 t 的中间价刷新所有腿。
//
// 任意一条腿取价失败时不修改任何腿；同一区间重复调用不会再次取价。
func (p *Position) Revalue(src MarkSource, t time.Time) error {
	if p.closed {
		return fmt.Errorf("%w: 无法估值", ErrAlreadyClosed)
	}
	if p.marked && p.markedAt.Equal(t) {
		return nil
	}
	mids := make([]float64, len(p.legs))
	for i, leg := range p.legs {
		mid, err := src.Mark(t, leg.Strike, leg.Right)
		if err != nil {
			return fmt.Errorf("position: 第 %d 条腿 %g%s 估值失败: %w", i, leg.Strike, leg.Right, err)
		}
		mids[i] = mid
	}
	for i := range p.legs {
		p.legs[i].exitMid = mids[i]
		p.legs[i].marked = true
	}
	p.markedAt = t
	p.marked = true
	return nil
}

// MarkedAt 返回最近一次估值时间。
func (p *Position) MarkedAt() (time.Time, bool) {
	return p.markedAt, p.marked
}

// Close 设置离场时间，只允许调用一次。
func (p *Position) Close(t time.Time, reason ExitReason) error {
	if p.closed {
		return ErrAlreadyClosed
	}
	if t.Before(p.EntryTime) {
		return fmt.Errorf("%w: 离场时间 %s 早于开仓时间 %s", ErrInvalidPosition,
			t.Format(time.DateTime), p.EntryTime.Format(time.DateTime))
	}
	p.exitTime = t
	p.exitReason = reason
	p.closed = true
	return nil
}

// Closed 表示仓位是否已平仓。
func (p *Position) Closed() bool {
	return p.closed
}

// ExitTime 返回离场时间，未平仓时第二个返回值为 false。
func (p *Position) ExitTime() (time.Time, bool) {
	return p.exitTime, p.closed
}

// ExitReason 返回平仓原因。
func (p *Position) ExitReason() ExitReason {
	return p.exitReason
}

func (p *Position) String() string {
	parts := make([]string, len(p.legs))
	for i, leg := range p.legs {
		parts[i] = leg.String()
	}
	return fmt.Sprintf("Entry: $%.2f;  Current: $%.2f | %s", p.EntryValue(), p.CurrentValue(), strings.Join(parts, "; "))
}

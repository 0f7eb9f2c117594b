package backtest

import (
	"fmt"
	"time"

	"options-backtest/internal/position"
)

// book 记录当前持仓与已平仓列表，并强制单一持仓约束。
type book struct {
	current *position.Position
	closed  []*position.Position
}

func (b *book) hasOpen() bool {
	return b.current != nil
}

func (b *book) open(pos *position.Position) error {
	if b.current != nil {
		return fmt.Errorf("%w: 已有持仓时不能开仓", ErrPositionInvariant)
	}
	if pos == nil {
		return fmt.Errorf("%w: 仓位为空", ErrPositionInvariant)
	}
	if pos.Closed() {
		return fmt.Errorf("%w: 新仓位已处于平仓状态", ErrPositionInvariant)
	}
	b.current = pos
	return nil
}

func (b *book) close(t time.Time, reason position.ExitReason) (*position.Position, error) {
	if b.current == nil {
		return nil, fmt.Errorf("%w: 无持仓时不能平仓", ErrPositionInvariant)
	}
	pos := b.current
	if err := pos.Close(t, reason); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPositionInvariant, err)
	}
	b.current = nil
	b.closed = append(b.closed, pos)
	return pos, nil
}

func (b *book) positions() []*position.Position {
	return append([]*position.Position(nil), b.closed...)
}

package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"options-backtest/internal/market"
	"options-backtest/internal/position"
)

var sessionStart = time.Date(2025, 1, 2, 9, 30, 1, 0, time.UTC)

func at(row int) time.Time {
	return sessionStart.Add(time.Duration(row) * market.Step)
}

// quoteFunc 返回某行某行权价的买卖价，ok=false 表示该单元缺失。
type quoteFunc func(row int, strike float64, right market.Right) (bid, ask float64, ok bool)

func flatQuotes(row int, strike float64, right market.Right) (float64, float64, bool) {
	if right == market.Call {
		return 1.90, 2.10, true
	}
	return 1.70, 1.90, true
}

func buildSession(t *testing.T, rows int, price float64, strikes []float64, quotes quoteFunc) (*market.Series, *market.Chain) {
	t.Helper()
	ticks := make([]market.Tick, rows)
	b := market.NewChainBuilder(sessionStart, rows)
	for row := 0; row < rows; row++ {
		ticks[row] = market.Tick{Time: at(row), Price: price}
		for _, strike := range strikes {
			for _, right := range []market.Right{market.Call, market.Put} {
				bid, ask, ok := quotes(row, strike, right)
				if !ok {
					continue
				}
				require.True(t, b.Add(at(row), strike, right, bid, ask))
			}
		}
	}
	series, err := market.NewSeries(ticks)
	require.NoError(t, err)
	return series, b.Build()
}

// enterStrangle 在 5905C/5895P 以买价开多头宽跨式。
func enterStrangle(snap market.Snapshot) *position.Position {
	call, err := snap.Chain.Entry(snap.Time, 5905, market.Call)
	if err != nil {
		return nil
	}
	put, err := snap.Chain.Entry(snap.Time, 5895, market.Put)
	if err != nil {
		return nil
	}
	pos, err := position.New(snap.Time, position.Long,
		position.NewLeg(5905, market.Call, 1, call.Bid, call.Mid),
		position.NewLeg(5895, market.Put, 1, put.Bid, put.Mid),
	)
	if err != nil {
		return nil
	}
	return pos
}

var strangleStrikes = []float64{5895, 5900, 5905}

type fixedMark float64

func (m fixedMark) Mark(time.Time, float64, market.Right) (float64, error) {
	return float64(m), nil
}

// closedPosition 构造一条腿、开仓价 entry、离场中间价 exit 的已平仓仓位。
func closedPosition(t *testing.T, entry, exit float64, qty int) *position.Position {
	t.Helper()
	dir := position.Long
	if qty < 0 {
		dir = position.Short
	}
	pos, err := position.New(sessionStart, dir, position.NewLeg(5900, market.Call, qty, entry, entry))
	require.NoError(t, err)
	require.NoError(t, pos.Revalue(fixedMark(exit), at(1)))
	require.NoError(t, pos.Close(at(1), position.ExitSignal))
	return pos
}

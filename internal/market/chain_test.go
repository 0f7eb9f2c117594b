package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2025, 1, 2, 9, 30, 1, 0, time.UTC)

func buildChain(t *testing.T) *Chain {
	t.Helper()
	b := NewChainBuilder(sessionStart, 3)
	for row := 0; row < 3; row++ {
		ts := sessionStart.Add(time.Duration(row) * Step)
		require.True(t, b.Add(ts, 5900, Call, 1.90, 2.10))
		require.True(t, b.Add(ts, 5900, Put, 1.70, 1.90))
	}
	// 5905 只有看涨，且首行买价为零
	require.True(t, b.Add(sessionStart, 5905, Call, 0, 0.10))
	require.True(t, b.Add(sessionStart.Add(Step), 5905, Call, 1.00, 1.20))
	return b.Build()
}

func TestChainLookup(t *testing.T) {
	c := buildChain(t)

	rec, ok := c.Lookup(sessionStart, 5900)
	require.True(t, ok)
	assert.Equal(t, 5900.0, rec.Strike)
	assert.InDelta(t, 2.00, rec.Call.Mid, 1e-9)
	assert.InDelta(t, 1.80, rec.Put.Mid, 1e-9)
	assert.Equal(t, []float64{5900, 5905}, c.Strikes())

	_, ok = c.Lookup(sessionStart.Add(3*Step), 5900)
	assert.False(t, ok, "时间超出网格")
	_, ok = c.Lookup(sessionStart.Add(-Step), 5900)
	assert.False(t, ok)
	_, ok = c.Lookup(sessionStart.Add(500*time.Millisecond), 5900)
	assert.False(t, ok, "非整秒")
	_, ok = c.Lookup(sessionStart, 5910)
	assert.False(t, ok, "未知行权价")
	_, ok = c.Lookup(sessionStart.Add(2*Step), 5905)
	assert.False(t, ok, "该单元无任何报价")
}

func TestChainEntryMisses(t *testing.T) {
	c := buildChain(t)

	q, err := c.Entry(sessionStart, 5900, Call)
	require.NoError(t, err)
	assert.InDelta(t, 1.90, q.Bid, 1e-9)

	_, err = c.Entry(sessionStart, 5905, Call)
	assert.True(t, errors.Is(err, ErrSnapshotMiss), "零买价视为缺失")

	_, err = c.Entry(sessionStart.Add(Step), 5905, Put)
	assert.True(t, IsMiss(err), "缺少看跌一侧")

	q, err = c.Entry(sessionStart.Add(Step), 5905, Call)
	require.NoError(t, err)
	assert.InDelta(t, 1.10, q.Mid, 1e-9)
}

func TestChainPairAndATM(t *testing.T) {
	c := buildChain(t)

	_, err := c.Pair(sessionStart, 5900)
	require.NoError(t, err)
	assert.True(t, c.ATMValid(sessionStart, 5900))

	_, err = c.Pair(sessionStart.Add(Step), 5905)
	assert.True(t, IsMiss(err))
	assert.False(t, c.ATMValid(sessionStart.Add(Step), 5905))
}

func TestChainMarkAcceptsZero(t *testing.T) {
	b := NewChainBuilder(sessionStart, 1)
	b.Add(sessionStart, 6000, Put, 0, 0)
	c := b.Build()

	mid, err := c.Mark(sessionStart, 6000, Put)
	require.NoError(t, err)
	assert.Equal(t, 0.0, mid)

	_, err = c.Mark(sessionStart, 6000, Call)
	assert.True(t, IsMiss(err))
}

func TestChainBuilderRejectsOffGrid(t *testing.T) {
	b := NewChainBuilder(sessionStart, 2)
	assert.False(t, b.Add(sessionStart.Add(-Step), 5900, Call, 1, 2))
	assert.False(t, b.Add(sessionStart.Add(2*Step), 5900, Call, 1, 2))
	assert.True(t, b.Add(sessionStart.Add(Step), 5900, Call, 1, 2))
	assert.Equal(t, 1, b.Len())
}

func TestRoundToIncrement(t *testing.T) {
	cases := []struct {
		price, inc, want float64
	}{
		{5900, 5, 5900},
		{5902.4, 5, 5900},
		{5902.6, 5, 5905},
		{5897.5, 5, 5900}, // 1179.5 -> 1180
		{5902.5, 5, 5900}, // 1180.5 -> 1180
		{5903, 0, 5903},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundToIncrement(tc.price, tc.inc), "price=%v", tc.price)
	}
}

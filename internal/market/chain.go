package market

import (
	"math"
	"sort"
	"time"
)

const (
	sideCall uint8 = 1 << iota
	sidePut
)

// strikeKey 以千分之一点为单位的整数行权价，避免浮点数作为 map 键。
type strikeKey int64

func keyOf(strike float64) strikeKey {
	return strikeKey(math.Round(strike * 1000))
}

// Chain 是按 (时间, 行权价) 索引的期权报价表。
//
// 数据以稠密数组存储：行号为相对首个区间的秒偏移，列号为行权价槽位，
// 槽位通过整数化行权价的 map 解析，因此 Lookup 为 O(1)。
type Chain struct {
	start   time.Time
	rows    int
	strikes []float64
	slots   map[strikeKey]int
	records []ChainRecord
	sides   []uint8
}

// Start 返回首个区间时间。
func (c *Chain) Start() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.start
}

// Rows 返回时间维度的长度。
func (c *Chain) Rows() int {
	if c == nil {
		return 0
	}
	return c.rows
}

// Strikes 返回升序排列的行权价副本。
func (c *Chain) Strikes() []float64 {
	if c == nil {
		return nil
	}
	return append([]float64(nil), c.strikes...)
}

func (c *Chain) cell(t time.Time, strike float64) (int, bool) {
	if c == nil || c.rows == 0 {
		return 0, false
	}
	d := t.Sub(c.start)
	if d < 0 || d%Step != 0 {
		return 0, false
	}
	row := int(d / Step)
	if row >= c.rows {
		return 0, false
	}
	slot, ok := c.slots[keyOf(strike)]
	if !ok {
		return 0, false
	}
	idx := row*len(c.strikes) + slot
	return idx, c.sides[idx] != 0
}

// Lookup 返回原始报价记录，不做价格有效性检查。
func (c *Chain) Lookup(t time.Time, strike float64) (ChainRecord, bool) {
	idx, ok := c.cell(t, strike)
	if !ok {
		return ChainRecord{}, false
	}
	return c.records[idx], true
}

// Entry 返回开仓所需的单边报价，买价或中间价非正时视为缺失。
func (c *Chain) Entry(t time.Time, strike float64, right Right) (Quote, error) {
	idx, ok := c.cell(t, strike)
	if !ok || c.sides[idx]&sideBit(right) == 0 {
		return Quote{}, missf("%s 行权价 %.2f%s 无报价", t.Format(time.DateTime), strike, right)
	}
	q := c.records[idx].Side(right)
	if q.Bid <= 0 || q.Mid <= 0 {
		return Quote{}, missf("%s 行权价 %.2f%s 价格无效 bid=%.2f mid=%.2f", t.Format(time.DateTime), strike, right, q.Bid, q.Mid)
	}
	return q, nil
}

// Pair 返回看涨看跌双边均有效的记录。
func (c *Chain) Pair(t time.Time, strike float64) (ChainRecord, error) {
	idx, ok := c.cell(t, strike)
	if !ok || c.sides[idx] != sideCall|sidePut {
		return ChainRecord{}, missf("%s 行权价 %.2f 无双边报价", t.Format(time.DateTime), strike)
	}
	rec := c.records[idx]
	for _, p := range []float64{rec.Call.Bid, rec.Call.Mid, rec.Put.Bid, rec.Put.Mid} {
		if p <= 0 {
			return ChainRecord{}, missf("%s 行权价 %.2f 价格无效", t.Format(time.DateTime), strike)
		}
	}
	return rec, nil
}

// ATMValid 判断平值行权价的看涨与看跌中间价是否均为正。
func (c *Chain) ATMValid(t time.Time, strike float64) bool {
	idx, ok := c.cell(t, strike)
	if !ok || c.sides[idx] != sideCall|sidePut {
		return false
	}
	rec := c.records[idx]
	return rec.Call.Mid > 0 && rec.Put.Mid > 0
}

// Mark 返回持仓估值所用的中间价；仅在记录缺失时报错，零价是合法估值。
func (c *Chain) Mark(t time.Time, strike float64, right Right) (float64, error) {
	idx, ok := c.cell(t, strike)
	if !ok || c.sides[idx]&sideBit(right) == 0 {
		return 0, missf("%s 行权价 %.2f%s 无估值报价", t.Format(time.DateTime), strike, right)
	}
	return c.records[idx].Side(right).Mid, nil
}

func sideBit(right Right) uint8 {
	if right == Call {
		return sideCall
	}
	return sidePut
}

// RoundToIncrement 将价格取整到最近的行权价间距，半数时取偶。
func RoundToIncrement(price, increment float64) float64 {
	if increment <= 0 {
		return price
	}
	return math.RoundToEven(price/increment) * increment
}

type chainEntry struct {
	row    int
	key    strikeKey
	strike float64
	right  Right
	quote  Quote
}

// ChainBuilder 逐行收集报价并生成 Chain。
type ChainBuilder struct {
	start   time.Time
	rows    int
	entries []chainEntry
}

// NewChainBuilder 创建覆盖 [start, start+rows 秒) 的构建器。
func NewChainBuilder(start time.Time, rows int) *ChainBuilder {
	return &ChainBuilder{start: start, rows: rows}
}

// Add 添加一行报价，超出时间网格的行返回 false。
func (b *ChainBuilder) Add(t time.Time, strike float64, right Right, bid, ask float64) bool {
	d := t.Sub(b.start)
	if d < 0 || d%Step != 0 {
		return false
	}
	row := int(d / Step)
	if row >= b.rows {
		return false
	}
	b.entries = append(b.entries, chainEntry{
		row:    row,
		key:    keyOf(strike),
		strike: strike,
		right:  right,
		quote:  NewQuote(bid, ask),
	})
	return true
}

// Len 返回已收集的行数。
func (b *ChainBuilder) Len() int {
	return len(b.entries)
}

// Build 生成只读的 Chain；同一单元重复出现时以后者为准。
func (b *ChainBuilder) Build() *Chain {
	slots := make(map[strikeKey]int)
	var strikes []float64
	for _, e := range b.entries {
		if _, ok := slots[e.key]; !ok {
			slots[e.key] = 0
			strikes = append(strikes, float64(e.key)/1000)
		}
	}
	sort.Float64s(strikes)
	for i, s := range strikes {
		slots[keyOf(s)] = i
	}

	width := len(strikes)
	c := &Chain{
		start:   b.start,
		rows:    b.rows,
		strikes: strikes,
		slots:   slots,
		records: make([]ChainRecord, b.rows*width),
		sides:   make([]uint8, b.rows*width),
	}
	for _, e := range b.entries {
		idx := e.row*width + slots[e.key]
		rec := &c.records[idx]
		rec.Strike = strikes[slots[e.key]]
		if e.right == Call {
			rec.Call = e.quote
		} else {
			rec.Put = e.quote
		}
		c.sides[idx] |= sideBit(e.right)
	}
	return c
}

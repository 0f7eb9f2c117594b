package market

import (
	"fmt"
	"time"
)

// Series 为按秒排列的标的价格序列，只读。
type Series struct {
	ticks []Tick
}

// NewSeries 校验时间戳严格递增且间隔恰为一秒后创建 Series。
func NewSeries(ticks []Tick) (*Series, error) {
	for i := 1; i < len(ticks); i++ {
		prev, cur := ticks[i-1].Time, ticks[i].Time
		gap := cur.Sub(prev)
		if gap == Step {
			continue
		}
		if gap <= 0 {
			return nil, &IntegrityError{
				Source:   "series",
				Expected: len(ticks),
				Actual:   i,
				Reason:   fmt.Sprintf("时间戳未严格递增: %s -> %s", prev.Format(time.DateTime), cur.Format(time.DateTime)),
			}
		}
		if gap%Step != 0 {
			return nil, &IntegrityError{
				Source:   "series",
				Expected: len(ticks),
				Actual:   i,
				Reason:   fmt.Sprintf("时间戳未按秒对齐: %s", cur.Format(time.RFC3339Nano)),
			}
		}
		missing := int(gap/Step) - 1
		return nil, &IntegrityError{
			Source:       "series",
			Expected:     len(ticks) + missing,
			Actual:       len(ticks),
			FirstMissing: prev.Add(Step),
			LastMissing:  cur.Add(-Step),
		}
	}

	dst := make([]Tick, len(ticks))
	copy(dst, ticks)
	return &Series{ticks: dst}, nil
}

// Len 返回区间数量。
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ticks)
}

// At 返回第 i 个区间。
func (s *Series) At(i int) Tick {
	return s.ticks[i]
}

// Start 返回首个区间时间，空序列返回零值。
func (s *Series) Start() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.ticks[0].Time
}

// End 返回最后一个区间时间。
func (s *Series) End() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.ticks[len(s.ticks)-1].Time
}

// IndexOf 以 O(1) 定位时间戳对应的下标。
func (s *Series) IndexOf(t time.Time) (int, bool) {
	if s.Len() == 0 {
		return 0, false
	}
	d := t.Sub(s.ticks[0].Time)
	if d < 0 || d%Step != 0 {
		return 0, false
	}
	idx := int(d / Step)
	if idx >= len(s.ticks) {
		return 0, false
	}
	return idx, true
}

// Prices 返回价格列的副本。
func (s *Series) Prices() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = s.ticks[i].Price
	}
	return out
}

// Before 返回 cutoff 之前的子序列。
func (s *Series) Before(cutoff time.Time) *Series {
	n := 0
	for n < s.Len() && s.ticks[n].Time.Before(cutoff) {
		n++
	}
	return &Series{ticks: s.ticks[:n:n]}
}

package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Snapshot 为引擎在某一区间交给策略的只读视图。
type Snapshot struct {
	Index      int
	Time       time.Time
	Price      float64
	Chain      *Chain
	Indicators *Indicators
	// StrikeIncrement 为行权价网格间距，由引擎配置统一给出。
	StrikeIncrement float64
}

// Indicator 返回指标值，列不存在或值为 NaN 时返回 false。
func (s Snapshot) Indicator(name string) (float64, bool) {
	v := s.Indicators.Value(name, s.Index)
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ATM 返回按网格间距取整后的平值行权价。
func (s Snapshot) ATM() float64 {
	return s.Strike(s.Price)
}

// Strike 将任意价格取整到行权价网格。
func (s Snapshot) Strike(price float64) float64 {
	return RoundToIncrement(price, s.StrikeIncrement)
}

// Indicators 保存与标的序列对齐的指标列。
type Indicators struct {
	n       int
	columns map[string][]float64
}

// NewIndicators 创建长度为 n 的指标集合。
func NewIndicators(n int) *Indicators {
	return &Indicators{n: n, columns: make(map[string][]float64)}
}

// Set 写入一列指标，长度必须与序列一致。
func (ind *Indicators) Set(name string, values []float64) error {
	if len(values) != ind.n {
		return fmt.Errorf("market: 指标 %s 长度 %d 与序列长度 %d 不一致", name, len(values), ind.n)
	}
	ind.columns[name] = append([]float64(nil), values...)
	return nil
}

// Value 返回第 i 个值，缺失时返回 NaN。
func (ind *Indicators) Value(name string, i int) float64 {
	if ind == nil {
		return math.NaN()
	}
	col, ok := ind.columns[name]
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Names 返回已有指标名（排序后）。
func (ind *Indicators) Names() []string {
	if ind == nil {
		return nil
	}
	names := make([]string, 0, len(ind.columns))
	for name := range ind.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package marketdata

import (
	"fmt"
	"time"

	"options-backtest/internal/market"
)

// ValidateIntervals 检查 [start, end] 内每一秒恰好出现，times 可重复（期权链每秒多行）。
func ValidateIntervals(source string, times []time.Time, start, end time.Time) error {
	expected := int(end.Sub(start)/market.Step) + 1
	if expected <= 0 {
		return fmt.Errorf("marketdata: 区间 %s - %s 非法", start.Format(time.DateTime), end.Format(time.DateTime))
	}

	seen := make([]bool, expected)
	actual := 0
	for _, t := range times {
		d := t.Sub(start)
		if d < 0 || t.After(end) || d%market.Step != 0 {
			return &market.IntegrityError{
				Source:   source,
				Expected: expected,
				Actual:   actual,
				Reason:   fmt.Sprintf("时间戳 %s 不在秒级网格内", t.Format(time.RFC3339Nano)),
			}
		}
		i := int(d / market.Step)
		if !seen[i] {
			seen[i] = true
			actual++
		}
	}
	if actual == expected {
		return nil
	}

	err := &market.IntegrityError{Source: source, Expected: expected, Actual: actual}
	for i, ok := range seen {
		if ok {
			continue
		}
		missing := start.Add(time.Duration(i) * market.Step)
		if err.FirstMissing.IsZero() {
			err.FirstMissing = missing
		}
		err.LastMissing = missing
	}
	return err
}

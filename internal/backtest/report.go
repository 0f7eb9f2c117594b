package backtest

import (
	"io"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Target 为单项指标的达标线。
type Target struct {
	Name      string
	Threshold float64
	Value     func(Metrics) float64
}

// DefaultTargets 为报告中使用的达标线。
var DefaultTargets = []Target{
	{Name: "MAR", Threshold: 1.5, Value: func(m Metrics) float64 { return m.MAR }},
	{Name: "Sortino", Threshold: 1.0, Value: func(m Metrics) float64 { return m.Sortino }},
	{Name: "Profit Factor", Threshold: 1.5, Value: func(m Metrics) float64 { return m.ProfitFactor }},
	{Name: "Win Rate %", Threshold: 50, Value: func(m Metrics) float64 { return m.WinRate * 100 }},
	{Name: "Return %", Threshold: 15, Value: func(m Metrics) float64 { return m.Return }},
}

// WriteReport 输出可读的回测报告。
func WriteReport(w io.Writer, r Result) error {
	p := message.NewPrinter(language.English)
	m := r.Metrics

	lines := []struct {
		format string
		args   []any
	}{
		{"Strategy:        %s\n", []any{r.Strategy}},
		{"Duration:        %v\n", []any{r.Duration().Round(time.Millisecond)}},
		{"Intervals:       %d (skipped %d)\n", []any{r.Intervals, r.Skipped}},
		{"Positions:       %d\n", []any{m.NumPositions}},
		{"Total P&L:       %.2f\n", []any{m.TotalPnL}},
		{"\n%-16s %12s %10s %6s\n", []any{"Metric", "Value", "Target", "Pass"}},
	}
	for _, l := range lines {
		if _, err := p.Fprintf(w, l.format, l.args...); err != nil {
			return err
		}
	}

	passed := 0
	for _, t := range DefaultTargets {
		v := t.Value(m)
		ok := v > t.Threshold
		if ok {
			passed++
		}
		if _, err := p.Fprintf(w, "%-16s %12s %10.2f %6s\n", t.Name, formatValue(p, v), t.Threshold, mark(ok)); err != nil {
			return err
		}
	}

	verdict := "FAIL"
	switch {
	case m.NumPositions == 0:
		verdict = "NO TRADES"
	case passed == len(DefaultTargets):
		verdict = "PASS"
	case passed > 0:
		verdict = "PARTIAL"
	}
	_, err := p.Fprintf(w, "\nSummary: %d/%d targets met, %s\n", passed, len(DefaultTargets), verdict)
	return err
}

func formatValue(p *message.Printer, v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return p.Sprintf("%.2f", v)
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

package position

import "time"

// LegSummary 为单腿的可序列化快照。
type LegSummary struct {
	Strike     float64 `json:"strike"`
	Right      string  `json:"right"`
	Quantity   int     `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	EntryMid   float64 `json:"entry_mid"`
	ExitMid    float64 `json:"exit_mid"`
	Marked     bool    `json:"marked"`
	PnL        float64 `json:"pnl"`
}

// Summary 为仓位的可序列化快照，用于日志与持久化。
type Summary struct {
	EntryTime     time.Time    `json:"entry_time"`
	ExitTime      time.Time    `json:"exit_time,omitempty"`
	Direction     int          `json:"direction"`
	ExitReason    string       `json:"exit_reason,omitempty"`
	EntryNotional float64      `json:"entry_notional"`
	PnL           float64      `json:"pnl"`
	ReturnPct     float64      `json:"return_pct"`
	Legs          []LegSummary `json:"legs"`
}

// Summarize 生成仓位快照。
func Summarize(p *Position) Summary {
	if p == nil {
		return Summary{}
	}
	legs := make([]LegSummary, len(p.legs))
	for i, leg := range p.legs {
		mid, marked := leg.ExitMid()
		legs[i] = LegSummary{
			Strike:     leg.Strike,
			Right:      leg.Right.String(),
			Quantity:   leg.Quantity,
			EntryPrice: leg.EntryPrice,
			EntryMid:   leg.EntryMid,
			ExitMid:    mid,
			Marked:     marked,
			PnL:        leg.PnL(),
		}
	}
	exitTime, _ := p.ExitTime()
	return Summary{
		EntryTime:     p.EntryTime,
		ExitTime:      exitTime,
		Direction:     int(p.Direction),
		ExitReason:    string(p.exitReason),
		EntryNotional: p.EntryNotional(),
		PnL:           p.PnL(),
		ReturnPct:     p.ReturnPct(),
		Legs:          legs,
	}
}

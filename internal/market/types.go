package market

import (
	"fmt"
	"strings"
	"time"
)

// Step 为相邻两个行情区间的固定间隔。
const Step = time.Second

// Right 表示期权类型。
type Right string

const (
	// Call 看涨期权。
	Call Right = "C"
	// Put 看跌期权。
	Put Right = "P"
)

// ParseRight 解析 C/P（大小写不敏感，兼容 call/put）。
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return Call, nil
	case "P", "PUT":
		return Put, nil
	default:
		return "", fmt.Errorf("market: 无法识别的期权类型 %q", s)
	}
}

func (r Right) String() string {
	return string(r)
}

// Quote 为单个合约的买卖报价。
type Quote struct {
	Bid float64
	Ask float64
	Mid float64
}

// NewQuote 根据买一卖一计算中间价。
func NewQuote(bid, ask float64) Quote {
	return Quote{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
}

// ChainRecord 为同一时刻、同一行权价的看涨与看跌报价。
type ChainRecord struct {
	Strike float64
	Call   Quote
	Put    Quote
}

// Side 返回指定方向的报价。
func (r ChainRecord) Side(right Right) Quote {
	if right == Call {
		return r.Call
	}
	return r.Put
}

// Tick 代表标的在某一秒的价格。
type Tick struct {
	Time  time.Time
	Price float64
}

// Bar 代表标的单根K线，用于 ATR 等需要高低价的指标。
type Bar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

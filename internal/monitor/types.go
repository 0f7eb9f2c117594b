package monitor

import (
	"time"

	"options-backtest/internal/backtest"
	"options-backtest/internal/position"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventRunFinished    EventType = "run_finished"
	EventError          EventType = "error"
)

// Event 封装通用监控事件，Timestamp 为行情时间。
type Event struct {
	RunID     string      `json:"run_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PositionPayload 记录仓位快照。
type PositionPayload struct {
	Strategy string           `json:"strategy"`
	Position position.Summary `json:"position"`
}

// Run 为一次回测的汇总记录。
type Run struct {
	ID        string
	Strategy  string
	Date      time.Time
	Params    map[string]any
	Metrics   backtest.Metrics
	Intervals int
	Skipped   int
	Started   time.Time
	Finished  time.Time
}

// NewRun 由回测结果构建记录。
func NewRun(id string, date time.Time, params map[string]any, r backtest.Result) Run {
	return Run{
		ID:        id,
		Strategy:  r.Strategy,
		Date:      date,
		Params:    params,
		Metrics:   r.Metrics,
		Intervals: r.Intervals,
		Skipped:   r.Skipped,
		Started:   r.Started,
		Finished:  r.Finished,
	}
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"options-backtest/internal/position"
	"options-backtest/internal/store"
)

// Service 负责持久化回测事件与运行结果。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	applied, err := store.Migrate("monitor_journal_v1", journalSchema)
	if err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	if applied {
		logger.Info("已创建回测日志表")
	}

	return s, nil
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS backtest_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	event_time TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_events_run ON backtest_events(run_id, event_type);
CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	trade_date TEXT NOT NULL,
	params TEXT NOT NULL,
	total_pnl REAL NOT NULL,
	win_rate REAL NOT NULL,
	num_positions INTEGER NOT NULL,
	mar REAL NOT NULL,
	sortino REAL NOT NULL,
	total_return REAL NOT NULL,
	profit_factor REAL,
	intervals INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
`

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backtest_events (run_id, event_type, payload, event_time, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, string(event.Type), string(payload),
		event.Timestamp.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// SaveRun 写入一次回测的汇总。无限大的盈亏比存为 NULL。
func (s *Service) SaveRun(ctx context.Context, run Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("monitor: 序列化参数失败: %w", err)
	}
	m := run.Metrics
	_, err = s.db.ExecContext(ctx, `
INSERT INTO backtest_runs (
	id, strategy, trade_date, params, total_pnl, win_rate, num_positions,
	mar, sortino, total_return, profit_factor, intervals, skipped, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Date.Format(time.DateOnly), string(params),
		m.TotalPnL, m.WinRate, m.NumPositions, m.MAR, m.Sortino, m.Return, finite(m.ProfitFactor),
		run.Intervals, run.Skipped,
		run.Started.UTC().Format(time.RFC3339Nano), run.Finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入回测记录失败: %w", err)
	}
	return nil
}

const runColumns = `id, strategy, trade_date, params, total_pnl, win_rate, num_positions,
	mar, sortino, total_return, profit_factor, intervals, skipped, started_at, finished_at`

// GetRun 按 ID 读取回测汇总。
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("monitor: 查询回测记录 %s 失败: %w", id, err)
	}
	return run, nil
}

// ListRuns 返回最近的回测记录，ID 为 ULID，按时间倒序。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询回测记录失败: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历回测记录失败: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run             Run
		date, params    string
		started, finish string
		pf              sql.NullFloat64
	)
	err := row.Scan(
		&run.ID, &run.Strategy, &date, &params,
		&run.Metrics.TotalPnL, &run.Metrics.WinRate, &run.Metrics.NumPositions,
		&run.Metrics.MAR, &run.Metrics.Sortino, &run.Metrics.Return, &pf,
		&run.Intervals, &run.Skipped, &started, &finish,
	)
	if err != nil {
		return Run{}, err
	}

	run.Metrics.ProfitFactor = math.Inf(1)
	if pf.Valid {
		run.Metrics.ProfitFactor = pf.Float64
	}
	if run.Date, err = time.Parse(time.DateOnly, date); err != nil {
		return Run{}, fmt.Errorf("monitor: 解析交易日失败: %w", err)
	}
	if run.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("monitor: 解析开始时间失败: %w", err)
	}
	if run.Finished, err = time.Parse(time.RFC3339Nano, finish); err != nil {
		return Run{}, fmt.Errorf("monitor: 解析结束时间失败: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return Run{}, fmt.Errorf("monitor: 解析参数失败: %w", err)
	}
	return run, nil
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, runID, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		RunID:     runID,
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按运行与类型检索事件，按写入顺序返回。
func (s *Service) ListEvents(ctx context.Context, runID string, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, event_type, payload, event_time FROM backtest_events WHERE run_id = ?`
	args := []interface{}{runID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			event   Event
			typ     string
			payload string
			ts      string
		)
		if scanErr := rows.Scan(&event.RunID, &typ, &payload, &ts); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}
		event.Type = EventType(typ)
		if event.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("monitor: 解析事件时间失败: %w", err)
		}
		var raw json.RawMessage = []byte(payload)
		event.Payload = raw
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历事件失败: %w", err)
	}

	return events, nil
}

// Recorder 将引擎的仓位事件写入 backtest_events，实现 backtest.Observer。
// 写入失败只记录告警，不中断回测。
type Recorder struct {
	svc      *Service
	ctx      context.Context
	runID    string
	strategy string
}

// NewRecorder 创建绑定到单次运行的记录器。
func (s *Service) NewRecorder(ctx context.Context, runID, strategy string) *Recorder {
	return &Recorder{svc: s, ctx: ctx, runID: runID, strategy: strategy}
}

// PositionOpened 记录开仓。
func (r *Recorder) PositionOpened(pos *position.Position) {
	r.record(EventPositionOpened, pos.EntryTime, pos)
}

// PositionClosed 记录平仓。
func (r *Recorder) PositionClosed(pos *position.Position) {
	exitTime, _ := pos.ExitTime()
	r.record(EventPositionClosed, exitTime, pos)
}

func (r *Recorder) record(typ EventType, at time.Time, pos *position.Position) {
	if err := r.svc.Record(r.ctx, Event{
		RunID:     r.runID,
		Type:      typ,
		Timestamp: at,
		Payload:   PositionPayload{Strategy: r.strategy, Position: position.Summarize(pos)},
	}); err != nil {
		r.svc.logger.Warn("记录仓位事件失败",
			zap.String("run_id", r.runID),
			zap.String("event", string(typ)),
			zap.Error(err),
		)
	}
}

// finite 将非有限值转为 NULL。
func finite(v float64) sql.NullFloat64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

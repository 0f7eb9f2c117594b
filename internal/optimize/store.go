package optimize

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"options-backtest/internal/store"
)

// TrialStore 将试验持久化到 optimize_trials 表。
type TrialStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTrialStore 初始化试验存储并建表。
func NewTrialStore(store *store.Store, logger *zap.Logger) (*TrialStore, error) {
	if store == nil {
		return nil, fmt.Errorf("optimize: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := store.Migrate("optimize_trials_v1", trialSchema); err != nil {
		return nil, fmt.Errorf("optimize: 初始化表失败: %w", err)
	}
	return &TrialStore{db: store.DB(), logger: logger}, nil
}

const trialSchema = `
CREATE TABLE IF NOT EXISTS optimize_trials (
	id TEXT PRIMARY KEY,
	study TEXT NOT NULL,
	number INTEGER NOT NULL,
	state TEXT NOT NULL,
	value REAL,
	params TEXT NOT NULL,
	metrics TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	UNIQUE (study, number)
);
CREATE INDEX IF NOT EXISTS idx_optimize_trials_study ON optimize_trials(study, state);
`

// storedMetrics 为 JSON 友好的指标，非有限值记为 null。
type storedMetrics struct {
	TotalPnL     float64  `json:"total_pnl"`
	WinRate      float64  `json:"win_rate"`
	NumPositions int      `json:"num_positions"`
	MAR          float64  `json:"mar"`
	Sortino      float64  `json:"sortino"`
	Return       float64  `json:"return"`
	ProfitFactor *float64 `json:"profit_factor"`
}

// Save 写入单个试验。
func (s *TrialStore) Save(ctx context.Context, study string, t Trial) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("optimize: 序列化参数失败: %w", err)
	}
	m := storedMetrics{
		TotalPnL:     t.Metrics.TotalPnL,
		WinRate:      t.Metrics.WinRate,
		NumPositions: t.Metrics.NumPositions,
		MAR:          t.Metrics.MAR,
		Sortino:      t.Metrics.Sortino,
		Return:       t.Metrics.Return,
	}
	if pf := t.Metrics.ProfitFactor; !math.IsInf(pf, 0) && !math.IsNaN(pf) {
		m.ProfitFactor = &pf
	}
	metrics, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("optimize: 序列化指标失败: %w", err)
	}

	var value sql.NullFloat64
	if t.State == StateComplete && !math.IsInf(t.Value, 0) && !math.IsNaN(t.Value) {
		value = sql.NullFloat64{Float64: t.Value, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO optimize_trials (id, study, number, state, value, params, metrics, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, study, t.Number, string(t.State), value, string(params), string(metrics), t.Error,
		t.Started.UTC().Format(time.RFC3339Nano), t.Finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("optimize: 写入试验 %d 失败: %w", t.Number, err)
	}
	return nil
}

// List 按编号返回某次搜索的全部试验。
func (s *TrialStore) List(ctx context.Context, study string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, number, state, value, params, metrics, error, started_at, finished_at
FROM optimize_trials WHERE study = ? ORDER BY number ASC`, study)
	if err != nil {
		return nil, fmt.Errorf("optimize: 查询试验失败: %w", err)
	}
	defer rows.Close()

	var trials []Trial
	for rows.Next() {
		var (
			t                 Trial
			state             string
			value             sql.NullFloat64
			params, metrics   string
			started, finished string
		)
		if err := rows.Scan(&t.ID, &t.Number, &state, &value, &params, &metrics, &t.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("optimize: 解析试验失败: %w", err)
		}
		t.State = TrialState(state)
		if value.Valid {
			t.Value = value.Float64
		}
		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("optimize: 解析参数失败: %w", err)
		}
		var m storedMetrics
		if err := json.Unmarshal([]byte(metrics), &m); err != nil {
			return nil, fmt.Errorf("optimize: 解析指标失败: %w", err)
		}
		t.Metrics.TotalPnL = m.TotalPnL
		t.Metrics.WinRate = m.WinRate
		t.Metrics.NumPositions = m.NumPositions
		t.Metrics.MAR = m.MAR
		t.Metrics.Sortino = m.Sortino
		t.Metrics.Return = m.Return
		t.Metrics.ProfitFactor = math.Inf(1)
		if m.ProfitFactor != nil {
			t.Metrics.ProfitFactor = *m.ProfitFactor
		}
		if t.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("optimize: 解析开始时间失败: %w", err)
		}
		if t.Finished, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("optimize: 解析结束时间失败: %w", err)
		}
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("optimize: 遍历试验失败: %w", err)
	}
	return trials, nil
}

package monitor

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest/internal/backtest"
	"options-backtest/internal/config"
	"options-backtest/internal/market"
	"options-backtest/internal/position"
	"options-backtest/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	require.NoError(t, err)
	return svc
}

type constMark float64

func (m constMark) Mark(time.Time, float64, market.Right) (float64, error) {
	return float64(m), nil
}

func TestRecorderWritesPositionEvents(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	rec := svc.NewRecorder(ctx, "run-1", "default")
	var _ backtest.Observer = rec

	entry := time.Date(2025, 1, 2, 9, 30, 1, 0, time.UTC)
	exit := entry.Add(time.Hour)
	pos, err := position.New(entry, position.Long,
		position.NewLeg(5905, market.Call, 1, 1.90, 2.00),
		position.NewLeg(5895, market.Put, 1, 1.70, 1.80),
	)
	require.NoError(t, err)

	rec.PositionOpened(pos)
	require.NoError(t, pos.Revalue(constMark(2.5), exit))
	require.NoError(t, pos.Close(exit, position.ExitSignal))
	rec.PositionClosed(pos)

	events, err := svc.ListEvents(ctx, "run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPositionOpened, events[0].Type)
	assert.True(t, entry.Equal(events[0].Timestamp))
	assert.Equal(t, EventPositionClosed, events[1].Type)
	assert.True(t, exit.Equal(events[1].Timestamp))

	var payload PositionPayload
	require.NoError(t, json.Unmarshal(events[1].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "default", payload.Strategy)
	assert.Equal(t, "signal", payload.Position.ExitReason)
	assert.Len(t, payload.Position.Legs, 2)
	assert.InDelta(t, 1.40, payload.Position.PnL, 1e-9)

	closed, err := svc.ListEvents(ctx, "run-1", EventPositionClosed, 10)
	require.NoError(t, err)
	assert.Len(t, closed, 1)

	other, err := svc.ListEvents(ctx, "run-2", "", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveAndGetRun(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	started := time.Date(2025, 10, 15, 8, 0, 0, 0, time.UTC)

	run := Run{
		ID:       "01JABCDEF",
		Strategy: "putspread",
		Date:     time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Params:   map[string]any{"short_strike": 10.0},
		Metrics: backtest.Metrics{
			TotalPnL: 1.5, WinRate: 1, NumPositions: 2,
			MAR: 0.3, Sortino: 0.2, Return: 30, ProfitFactor: math.Inf(1),
		},
		Intervals: 23400,
		Skipped:   3,
		Started:   started,
		Finished:  started.Add(1500 * time.Millisecond),
	}
	require.NoError(t, svc.SaveRun(ctx, run))
	assert.Error(t, svc.SaveRun(ctx, run), "主键重复")

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Strategy, got.Strategy)
	assert.True(t, run.Date.Equal(got.Date))
	assert.Equal(t, 10.0, got.Params["short_strike"])
	assert.True(t, math.IsInf(got.Metrics.ProfitFactor, 1))
	assert.Equal(t, 2, got.Metrics.NumPositions)
	assert.Equal(t, 23400, got.Intervals)
	assert.Equal(t, 1500*time.Millisecond, got.Finished.Sub(got.Started))

	_, err = svc.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestRecordError(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	svc.RecordError(ctx, "run-9", "回测失败", assert.AnError, map[string]interface{}{"date": "2025-01-02"})

	events, err := svc.ListEvents(ctx, "run-9", EventError, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "回测失败", payload.Message)
	assert.Equal(t, assert.AnError.Error(), payload.Error)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.Error(t, err)
}

func TestNewServiceReopensExistingJournal(t *testing.T) {
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	first, err := NewService(s, nil)
	require.NoError(t, err)
	require.NoError(t, first.SaveRun(context.Background(), Run{ID: "01A", Strategy: "default", Params: map[string]any{}}))

	second, err := NewService(s, nil)
	require.NoError(t, err)
	runs, err := second.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestListRunsNewestFirst(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for _, id := range []string{"01A", "01C", "01B"} {
		require.NoError(t, svc.SaveRun(ctx, Run{ID: id, Strategy: "default", Params: map[string]any{}}))
	}

	runs, err := svc.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "01C", runs[0].ID)
	assert.Equal(t, "01B", runs[1].ID)
}

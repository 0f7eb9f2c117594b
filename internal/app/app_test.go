package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest/internal/config"
	"options-backtest/internal/market"
	"options-backtest/internal/marketdata"
	"options-backtest/internal/monitor"
	"options-backtest/internal/store"
)

const openMs = (9*3600 + 30*60) * 1000

var day = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func writeZst(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
}

// testConfig 生成 09:30:01 - 09:30:10 的缩短交易时段及对应数据文件。
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	src := marketdata.NewFileSource(marketdata.FileSourceConfig{Dir: dir})

	prices := []string{"ms_of_day,price,date"}
	quotes := []string{"ms_of_day,strike,right,bid,ask,date"}
	for sec := 1; sec <= 10; sec++ {
		ms := openMs + sec*1000
		prices = append(prices, fmt.Sprintf("%d,5901.00,20250102", ms))
		for _, strike := range []int{5895000, 5900000, 5905000} {
			quotes = append(quotes,
				fmt.Sprintf("%d,%d,C,1.90,2.10,20250102", ms, strike),
				fmt.Sprintf("%d,%d,P,1.70,1.90,20250102", ms, strike),
			)
		}
	}
	writeZst(t, src.PricePath(day), prices)
	writeZst(t, src.QuotePath(day), quotes)

	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Data: config.DataConfig{
			Source:       "file",
			Dir:          dir,
			IntervalMs:   1000,
			Date:         "20250102",
			StrikeWindow: 200,
			Open:         marketdata.DefaultOpen,
			Close:        marketdata.DefaultOpen + 9*time.Second,
		},
		Backtest: config.BacktestConfig{StrikeIncrement: 5, Journal: true},
		Strategy: config.StrategyConfig{Name: "default"},
		Optimize: config.OptimizeConfig{
			Trials:    4,
			Jobs:      2,
			Seed:      7,
			Objective: "total_pnl",
			OutputDir: filepath.Join(dir, "optimize"),
			Space: map[string]config.RangeConfig{
				"profit_pct": {Type: "float", Min: 0.5, Max: 1},
			},
		},
	}
}

func memoryStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunBacktestWritesReportAndJournal(t *testing.T) {
	st := memoryStore(t)
	a := New(testConfig(t), nil, st)

	var out bytes.Buffer
	result, err := a.RunBacktest(context.Background(), &out)
	require.NoError(t, err)

	assert.Equal(t, 10, result.Intervals)
	require.Len(t, result.Positions, 1)
	assert.InDelta(t, 0.20, result.Metrics.TotalPnL, 1e-9)
	assert.Contains(t, out.String(), "Strategy:        default")
	assert.Contains(t, out.String(), "Positions:       1")

	svc, err := monitor.NewService(st, nil)
	require.NoError(t, err)
	runs, err := svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "default", runs[0].Strategy)
	assert.True(t, day.Equal(runs[0].Date))

	events, err := svc.ListEvents(context.Background(), runs[0].ID, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, monitor.EventPositionOpened, events[0].Type)
	assert.Equal(t, monitor.EventPositionClosed, events[1].Type)
}

func TestRunBacktestReportsIntegrityError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Close += time.Second

	_, err := New(cfg, nil, nil).RunBacktest(context.Background(), &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDataIntegrity)
}

func TestRunBacktestRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Name = "iron-condor"
	_, err := New(cfg, nil, nil).RunBacktest(context.Background(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "iron-condor")
}

func TestOptimizeExportsResults(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, nil, memoryStore(t))

	var out bytes.Buffer
	result, err := a.Optimize(context.Background(), &out)
	require.NoError(t, err)
	require.Len(t, result.Trials, 4)
	require.NotNil(t, result.Best)
	assert.Contains(t, out.String(), "Best trial: #0")
	assert.Contains(t, out.String(), "profit_pct:")

	files, err := filepath.Glob(filepath.Join(cfg.Optimize.OutputDir, "*"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestOptimizeRequiresSpaceForNonDefaultStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimize.Space = nil
	_, err := New(cfg, nil, nil).Optimize(context.Background(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "optimize.space")
}

func TestJournalHandler(t *testing.T) {
	st := memoryStore(t)
	_, err := New(testConfig(t), nil, st).RunBacktest(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)

	svc, err := monitor.NewService(st, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(newJournalHandler(svc, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []runView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].ProfitFactor, "无亏损时盈亏比为无穷大")
	assert.Equal(t, "2025-01-02", runs[0].Date)

	resp2, err := http.Get(srv.URL + "/runs/" + runs[0].ID + "/events?type=position_closed")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var events []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&events))
	assert.Len(t, events, 1)

	resp3, err := http.Get(srv.URL + "/runs/missing")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 200, parseLimit(""))
	assert.Equal(t, 200, parseLimit("-1"))
	assert.Equal(t, 5, parseLimit("5"))
	assert.Equal(t, 1000, parseLimit("5000"))
}

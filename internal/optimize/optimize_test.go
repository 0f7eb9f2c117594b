package optimize

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"options-backtest/internal/config"
	"options-backtest/internal/market"
	"options-backtest/internal/marketdata"
	"options-backtest/internal/store"
	"options-backtest/internal/strategy"
)

var sessionStart = time.Date(2025, 1, 2, 9, 30, 1, 0, time.UTC)

// flatSession 构建价格与报价都不变的交易日，默认策略在首个区间开仓并持有到收盘。
func flatSession(t *testing.T, rows int) *marketdata.Session {
	t.Helper()
	ticks := make([]market.Tick, rows)
	b := market.NewChainBuilder(sessionStart, rows)
	for row := 0; row < rows; row++ {
		ts := sessionStart.Add(time.Duration(row) * market.Step)
		ticks[row] = market.Tick{Time: ts, Price: 5901}
		for _, strike := range []float64{5895, 5900, 5905} {
			require.True(t, b.Add(ts, strike, market.Call, 1.90, 2.10))
			require.True(t, b.Add(ts, strike, market.Put, 1.70, 1.90))
		}
	}
	series, err := market.NewSeries(ticks)
	require.NoError(t, err)
	return &marketdata.Session{Date: sessionStart.Truncate(24 * time.Hour), Series: series, Chain: b.Build()}
}

func strangleConfig(trials int) Config {
	return Config{
		Name:      "strangle",
		Strategy:  strategy.NameDefault,
		Trials:    trials,
		Jobs:      3,
		Seed:      42,
		Objective: "total_pnl",
		Space: Space{
			"profit_pct":  {Type: TypeFloat, Min: 0.5, Max: 1.0},
			"call_offset": {Type: TypeInt, Min: 5, Max: 5},
		},
	}
}

func TestRangeSample(t *testing.T) {
	rng := trialRand(1, 0)
	for i := 0; i < 200; i++ {
		v := Range{Type: TypeInt, Min: 5, Max: 50, Step: 5}.Sample(rng).(int)
		assert.Zero(t, v%5)
		assert.GreaterOrEqual(t, v, 5)
		assert.LessOrEqual(t, v, 50)

		f := Range{Type: TypeFloat, Min: -2, Max: -0.5}.Sample(rng).(float64)
		assert.GreaterOrEqual(t, f, -2.0)
		assert.LessOrEqual(t, f, -0.5)
	}
	assert.Equal(t, 7, Range{Type: TypeInt, Min: 7, Max: 7}.Sample(rng))
}

func TestSpaceSampleIsDeterministic(t *testing.T) {
	space := DefaultPutSpreadSpace()
	require.NoError(t, space.Validate())

	a := space.Sample(trialRand(42, 3))
	b := space.Sample(trialRand(42, 3))
	c := space.Sample(trialRand(42, 4))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 11)

	// 抽样参数必须能被策略直接解码
	_, err := strategy.New(strategy.NamePutSpread, a, nil)
	assert.NoError(t, err)
}

func TestSpaceValidate(t *testing.T) {
	assert.Error(t, Space{}.Validate())
	err := Space{
		"a": {Type: "bool", Min: 0, Max: 1},
		"b": {Type: TypeInt, Min: 2, Max: 1},
	}.Validate()
	assert.ErrorContains(t, err, "参数 a")
	assert.ErrorContains(t, err, "参数 b")

	space, err := SpaceFromConfig(map[string]config.RangeConfig{
		"sma_period": {Type: "int", Min: 60, Max: 300},
	})
	require.NoError(t, err)
	assert.Equal(t, Range{Type: TypeInt, Min: 60, Max: 300}, space["sma_period"])

	space, err = SpaceFromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, space)
}

func TestObjectiveByName(t *testing.T) {
	_, err := ObjectiveByName("sharpe")
	assert.Error(t, err)
	for _, name := range []string{"mar", "sortino", "return", "profit_factor", "total_pnl"} {
		_, err := ObjectiveByName(name)
		assert.NoError(t, err, name)
	}
}

func TestStudyRunsAllTrials(t *testing.T) {
	session := flatSession(t, 30)
	study, err := NewStudy(strangleConfig(7), session, nil)
	require.NoError(t, err)

	result, err := study.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Trials, 7)
	for i, trial := range result.Trials {
		assert.Equal(t, i, trial.Number)
		assert.Equal(t, StateComplete, trial.State, trial.Error)
		assert.Equal(t, 1, trial.Metrics.NumPositions)
		assert.InDelta(t, 0.20, trial.Value, 1e-9)
		assert.Len(t, trial.ID, 26)
	}
	require.NotNil(t, result.Best)
	assert.Equal(t, 0, result.Best.Number, "目标值相同时取编号最小者")

	again, err := NewStudy(strangleConfig(7), session, nil)
	require.NoError(t, err)
	second, err := again.Run(context.Background())
	require.NoError(t, err)
	for i := range result.Trials {
		assert.Equal(t, result.Trials[i].Params, second.Trials[i].Params)
	}
}

func TestStudyExcludesFailedTrials(t *testing.T) {
	cfg := strangleConfig(4)
	cfg.Base = map[string]any{"unknown_param": 1}
	study, err := NewStudy(cfg, flatSession(t, 10), nil)
	require.NoError(t, err)

	result, err := study.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Trials, 4)
	for _, trial := range result.Trials {
		assert.Equal(t, StateFailed, trial.State)
		assert.NotEmpty(t, trial.Error)
	}
	assert.Nil(t, result.Best)

	var buf bytes.Buffer
	assert.ErrorIs(t, WriteBestYAML(&buf, cfg.Strategy, cfg.Objective, result.Best), ErrNoCompleteTrial)
}

func TestStudyStopsOnCancel(t *testing.T) {
	study, err := NewStudy(strangleConfig(5), flatSession(t, 10), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := study.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Trials)
	assert.Nil(t, result.Best)
}

func TestNewStudyValidation(t *testing.T) {
	session := flatSession(t, 5)

	_, err := NewStudy(strangleConfig(1), nil, nil)
	assert.Error(t, err)

	cfg := strangleConfig(0)
	_, err = NewStudy(cfg, session, nil)
	assert.Error(t, err)

	cfg = strangleConfig(1)
	cfg.Objective = "sharpe"
	_, err = NewStudy(cfg, session, nil)
	assert.Error(t, err)

	cfg = Config{Trials: 1}
	study, err := NewStudy(cfg, session, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(study.Name(), "putspread_opt_"))
}

func TestTrialStoreRoundTrip(t *testing.T) {
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	trials, err := NewTrialStore(s, nil)
	require.NoError(t, err)

	study, err := NewStudy(strangleConfig(3), flatSession(t, 10), nil, WithTrialStore(trials))
	require.NoError(t, err)
	result, err := study.Run(context.Background())
	require.NoError(t, err)

	saved, err := trials.List(context.Background(), "strangle")
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for i, trial := range saved {
		assert.Equal(t, result.Trials[i].ID, trial.ID)
		assert.Equal(t, StateComplete, trial.State)
		assert.InDelta(t, 0.20, trial.Value, 1e-9)
		assert.InDelta(t, result.Trials[i].Params["profit_pct"].(float64), trial.Params["profit_pct"].(float64), 1e-12)
		assert.Equal(t, result.Trials[i].Metrics.ProfitFactor, trial.Metrics.ProfitFactor)
	}

	empty, err := trials.List(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExport(t *testing.T) {
	study, err := NewStudy(strangleConfig(2), flatSession(t, 10), nil)
	require.NoError(t, err)
	result, err := study.Run(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := Export(dir, strangleConfig(2), result)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	f, err := os.Open(filepath.Join(dir, "results_strangle.csv"))
	require.NoError(t, err)
	defer f.Close()
	var rows []*trialRow
	require.NoError(t, gocsv.Unmarshal(f, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "complete", rows[0].State)
	assert.Contains(t, rows[1].Params, "profit_pct")

	data, err := os.ReadFile(filepath.Join(dir, "best_strangle.yaml"))
	require.NoError(t, err)
	var best struct {
		Strategy config.StrategyConfig `yaml:"strategy"`
		Trial    int                   `yaml:"trial"`
	}
	require.NoError(t, yaml.Unmarshal(data, &best))
	assert.Equal(t, strategy.NameDefault, best.Strategy.Name)
	assert.Equal(t, 0, best.Trial)
	assert.Equal(t, 5, best.Strategy.Params["call_offset"])

	// 最优参数可直接用于创建策略
	_, err = strategy.New(best.Strategy.Name, best.Strategy.Params, nil)
	assert.NoError(t, err)
}

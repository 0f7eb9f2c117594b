package optimize

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"options-backtest/internal/backtest"
	"options-backtest/internal/id"
	"options-backtest/internal/marketdata"
	"options-backtest/internal/strategy"
)

// TrialState 表示试验结果状态。
type TrialState string

const (
	StateComplete TrialState = "complete"
	StateFailed   TrialState = "failed"
)

// Trial 为单次参数试验。
type Trial struct {
	ID       string
	Number   int
	State    TrialState
	Params   map[string]any
	Value    float64
	Metrics  backtest.Metrics
	Error    string
	Started  time.Time
	Finished time.Time
}

// Config 定义一次参数搜索。
type Config struct {
	Name      string
	Strategy  string
	Trials    int
	Jobs      int
	Seed      int64
	Objective string
	Space     Space
	// Base 为固定参数，与抽样参数合并，抽样值优先。
	Base            map[string]any
	StrikeIncrement float64
}

// Result 汇总搜索结果，Trials 按编号排序，Best 为 nil 表示没有成功的试验。
type Result struct {
	Name   string
	Trials []Trial
	Best   *Trial
}

// Study 在同一个交易日上并发执行参数试验。
type Study struct {
	cfg       Config
	objective Objective
	session   *marketdata.Session
	store     *TrialStore
	logger    *zap.Logger
}

// Option 配置可选依赖。
type Option func(*Study)

// WithTrialStore 将每个试验写入 SQLite。
func WithTrialStore(store *TrialStore) Option {
	return func(s *Study) {
		s.store = store
	}
}

// NewStudy 创建参数搜索。session 在试验间只读共享。
func NewStudy(cfg Config, session *marketdata.Session, logger *zap.Logger, opts ...Option) (*Study, error) {
	if session == nil || session.Series == nil || session.Chain == nil {
		return nil, fmt.Errorf("optimize: session 不能为空")
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("optimize: trials 必须大于0")
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}
	if cfg.Strategy == "" {
		cfg.Strategy = strategy.NamePutSpread
	}
	if cfg.Objective == "" {
		cfg.Objective = "mar"
	}
	if cfg.Space == nil {
		cfg.Space = DefaultPutSpreadSpace()
	}
	if err := cfg.Space.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s_opt_%s", cfg.Strategy, time.Now().Format("20060102_150405"))
	}
	objective, err := ObjectiveByName(cfg.Objective)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Study{
		cfg:       cfg,
		objective: objective,
		session:   session,
		logger:    logger.With(zap.String("study", cfg.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name 返回搜索名称。
func (s *Study) Name() string {
	return s.cfg.Name
}

// Run 执行全部试验。ctx 取消后不再调度新试验，返回已完成部分与 ctx 错误。
func (s *Study) Run(ctx context.Context) (Result, error) {
	var (
		mu     sync.Mutex
		trials = make([]Trial, 0, s.cfg.Trials)
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Jobs)

	for i := 0; i < s.cfg.Trials; i++ {
		if groupCtx.Err() != nil {
			break
		}
		number := i
		group.Go(func() error {
			trial := s.runTrial(number)
			if s.store != nil {
				if err := s.store.Save(groupCtx, s.cfg.Name, trial); err != nil {
					s.logger.Warn("保存试验失败", zap.Int("trial", number), zap.Error(err))
				}
			}
			mu.Lock()
			trials = append(trials, trial)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	result := Result{Name: s.cfg.Name, Trials: sortTrials(trials)}
	result.Best = best(result.Trials)

	if result.Best != nil {
		s.logger.Info("参数搜索完成",
			zap.Int("trials", len(result.Trials)),
			zap.Int("best_trial", result.Best.Number),
			zap.Float64("best_value", result.Best.Value),
		)
	} else {
		s.logger.Warn("参数搜索没有成功的试验", zap.Int("trials", len(result.Trials)))
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("optimize: 搜索被中断: %w", err)
	}
	return result, nil
}

func (s *Study) runTrial(number int) Trial {
	trial := Trial{
		ID:      id.New(),
		Number:  number,
		Params:  s.params(number),
		Started: time.Now(),
	}
	logger := s.logger.With(zap.Int("trial", number))

	metrics, err := s.evaluate(trial.Params, logger)
	trial.Finished = time.Now()
	if err != nil {
		trial.State = StateFailed
		trial.Error = err.Error()
		logger.Warn("试验失败", zap.Error(err))
		return trial
	}

	trial.State = StateComplete
	trial.Metrics = metrics
	trial.Value = s.objective(metrics)
	logger.Info("试验完成",
		zap.Float64("value", trial.Value),
		zap.Float64("mar", metrics.MAR),
		zap.Float64("win_rate", metrics.WinRate),
		zap.Float64("return", metrics.Return),
		zap.Int("num_positions", metrics.NumPositions),
	)
	return trial
}

func (s *Study) params(number int) map[string]any {
	params := maps.Clone(s.cfg.Base)
	if params == nil {
		params = make(map[string]any, len(s.cfg.Space))
	}
	maps.Copy(params, s.cfg.Space.Sample(trialRand(s.cfg.Seed, number)))
	return params
}

func (s *Study) evaluate(params map[string]any, logger *zap.Logger) (backtest.Metrics, error) {
	strat, err := strategy.New(s.cfg.Strategy, params, logger)
	if err != nil {
		return backtest.Metrics{}, err
	}
	engine, err := backtest.NewEngine(
		backtest.Config{Label: s.cfg.Name, StrikeIncrement: s.cfg.StrikeIncrement},
		s.session.Series, s.session.Chain, strat, logger,
		backtest.WithBars(s.session.Bars),
	)
	if err != nil {
		return backtest.Metrics{}, err
	}
	result, err := engine.Run()
	if err != nil {
		return backtest.Metrics{}, err
	}
	return result.Metrics, nil
}

func sortTrials(trials []Trial) []Trial {
	sort.Slice(trials, func(i, j int) bool { return trials[i].Number < trials[j].Number })
	return trials
}

// best 返回目标值最大的成功试验，相同时取编号较小者。
func best(trials []Trial) *Trial {
	var top *Trial
	for i := range trials {
		t := &trials[i]
		if t.State != StateComplete || math.IsNaN(t.Value) {
			continue
		}
		if top == nil || t.Value > top.Value {
			top = t
		}
	}
	return top
}

// ErrNoCompleteTrial 表示没有可导出的最优试验。
var ErrNoCompleteTrial = errors.New("optimize: 没有成功的试验")

package app

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"options-backtest/internal/backtest"
	"options-backtest/internal/config"
	"options-backtest/internal/id"
	"options-backtest/internal/marketdata"
	"options-backtest/internal/monitor"
	"options-backtest/internal/optimize"
	"options-backtest/internal/store"
	"options-backtest/internal/strategy"
)

// App 聚合核心依赖并驱动回测与参数搜索。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。store 为 nil 时不写入运行记录。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// RunBacktest 加载交易日、执行一次回测并输出报告。
func (a *App) RunBacktest(ctx context.Context, out io.Writer) (backtest.Result, error) {
	date, err := marketdata.ParseDate(a.cfg.Data.Date)
	if err != nil {
		return backtest.Result{}, err
	}

	strat, err := strategy.New(a.cfg.Strategy.Name, a.cfg.Strategy.Params, a.logger)
	if err != nil {
		return backtest.Result{}, err
	}

	session, err := a.loadSession(ctx, date)
	if err != nil {
		return backtest.Result{}, err
	}

	runID := id.New()
	logger := a.logger.With(zap.String("run_id", runID))
	opts := []backtest.Option{backtest.WithBars(session.Bars)}

	var journal *monitor.Service
	if a.cfg.Backtest.Journal && a.store != nil {
		journal, err = monitor.NewService(a.store, logger)
		if err != nil {
			return backtest.Result{}, err
		}
		opts = append(opts, backtest.WithObserver(journal.NewRecorder(ctx, runID, strat.Name())))
	}

	engine, err := backtest.NewEngine(
		backtest.Config{Label: runID, StrikeIncrement: a.cfg.Backtest.StrikeIncrement},
		session.Series, session.Chain, strat, logger, opts...,
	)
	if err != nil {
		return backtest.Result{}, err
	}

	result, err := engine.Run()
	if err != nil {
		if journal != nil {
			journal.RecordError(ctx, runID, "回测失败", err, map[string]interface{}{
				"date":     session.Date.Format("2006-01-02"),
				"strategy": strat.Name(),
			})
		}
		return backtest.Result{}, err
	}

	if journal != nil {
		run := monitor.NewRun(runID, session.Date, a.cfg.Strategy.Params, result)
		if err := journal.SaveRun(ctx, run); err != nil {
			logger.Warn("保存回测记录失败", zap.Error(err))
		}
	}

	if err := backtest.WriteReport(out, result); err != nil {
		return result, fmt.Errorf("输出报告失败: %w", err)
	}
	return result, nil
}

// Optimize 在单个交易日上执行参数搜索并导出结果。
func (a *App) Optimize(ctx context.Context, out io.Writer) (optimize.Result, error) {
	date, err := marketdata.ParseDate(a.cfg.Data.Date)
	if err != nil {
		return optimize.Result{}, err
	}

	space, err := optimize.SpaceFromConfig(a.cfg.Optimize.Space)
	if err != nil {
		return optimize.Result{}, err
	}
	if space == nil && a.cfg.Strategy.Name != strategy.NamePutSpread {
		return optimize.Result{}, fmt.Errorf("策略 %s 没有默认搜索空间，请配置 optimize.space", a.cfg.Strategy.Name)
	}

	session, err := a.loadSession(ctx, date)
	if err != nil {
		return optimize.Result{}, err
	}

	cfg := optimize.Config{
		Strategy:        a.cfg.Strategy.Name,
		Trials:          a.cfg.Optimize.Trials,
		Jobs:            a.cfg.Optimize.Jobs,
		Seed:            a.cfg.Optimize.Seed,
		Objective:       a.cfg.Optimize.Objective,
		Space:           space,
		Base:            a.cfg.Strategy.Params,
		StrikeIncrement: a.cfg.Backtest.StrikeIncrement,
	}

	var opts []optimize.Option
	if a.store != nil {
		trials, err := optimize.NewTrialStore(a.store, a.logger)
		if err != nil {
			return optimize.Result{}, err
		}
		opts = append(opts, optimize.WithTrialStore(trials))
	}

	study, err := optimize.NewStudy(cfg, session, a.logger, opts...)
	if err != nil {
		return optimize.Result{}, err
	}

	result, runErr := study.Run(ctx)
	paths, err := optimize.Export(a.cfg.Optimize.OutputDir, cfg, result)
	if err != nil {
		return result, err
	}
	for _, p := range paths {
		a.logger.Info("结果已保存", zap.String("path", p))
	}

	if err := writeBest(out, cfg.Objective, result); err != nil {
		return result, fmt.Errorf("输出最优试验失败: %w", err)
	}
	return result, runErr
}

func writeBest(out io.Writer, objective string, result optimize.Result) error {
	if result.Best == nil {
		_, err := fmt.Fprintf(out, "Study %s: no complete trial out of %d\n", result.Name, len(result.Trials))
		return err
	}
	best := result.Best
	if _, err := fmt.Fprintf(out, "Best trial: #%d (%s %.4f)\n", best.Number, objective, best.Value); err != nil {
		return err
	}
	names := make([]string, 0, len(best.Params))
	for name := range best.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(out, "  %s: %v\n", name, best.Params[name]); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"options-backtest/internal/app"
	"options-backtest/internal/config"
	"options-backtest/internal/log"
	"options-backtest/internal/store"
	"options-backtest/internal/strategy"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func (r *runtime) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("关闭数据库失败", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

// bootstrap 加载配置、日志与数据库，override 在校验前修改配置。
func bootstrap(configPath string, override func(*config.Config)) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, store: sqliteStore}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Intraday 0DTE options backtester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")

	root.AddCommand(
		newRunCmd(&configPath),
		newOptimizeCmd(&configPath),
		newServeCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var date, strategyName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay one trading day through a strategy and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, func(cfg *config.Config) {
				if date != "" {
					cfg.Data.Date = date
				}
				if strategyName != "" {
					cfg.Strategy.Name = strategyName
				}
			})
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext()
			defer stop()

			if _, err := app.New(rt.cfg, rt.logger, rt.store).RunBacktest(ctx, cmd.OutOrStdout()); err != nil {
				rt.logger.Error("回测失败", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "交易日 YYYYMMDD")
	cmd.Flags().StringVar(&strategyName, "strategy", "", fmt.Sprintf("策略名称 %v", strategy.Names()))
	return cmd
}

func newOptimizeCmd(configPath *string) *cobra.Command {
	var (
		date, strategyName string
		trials, jobs       int
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search strategy parameters on one trading day",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, func(cfg *config.Config) {
				if date != "" {
					cfg.Data.Date = date
				}
				if strategyName != "" {
					cfg.Strategy.Name = strategyName
				}
				if trials > 0 {
					cfg.Optimize.Trials = trials
				}
				if jobs > 0 {
					cfg.Optimize.Jobs = jobs
				}
			})
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext()
			defer stop()

			if _, err := app.New(rt.cfg, rt.logger, rt.store).Optimize(ctx, cmd.OutOrStdout()); err != nil {
				rt.logger.Error("参数搜索失败", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "交易日 YYYYMMDD")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "策略名称")
	cmd.Flags().IntVar(&trials, "trials", 0, "试验次数")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "并发试验数")
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run journal over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath, nil)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signalContext()
			defer stop()

			return app.New(rt.cfg, rt.logger, rt.store).ServeJournal(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "监听地址")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

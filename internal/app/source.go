package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"options-backtest/internal/marketdata"
)

// openSource 按配置创建行情数据源，返回的 close 函数释放连接。
func (a *App) openSource(ctx context.Context) (marketdata.Source, func() error, error) {
	data := a.cfg.Data
	switch data.Source {
	case "file":
		src := marketdata.NewFileSource(marketdata.FileSourceConfig{
			Dir:        data.Dir,
			IndexRoot:  data.IndexRoot,
			OptionRoot: data.OptionRoot,
			IntervalMs: data.IntervalMs,
		})
		return src, func() error { return nil }, nil
	case "clickhouse":
		ch := a.cfg.ClickHouse
		src, err := marketdata.NewClickHouseSource(ctx, marketdata.ClickHouseConfig{
			Addr:        ch.Addr,
			Database:    ch.Database,
			Username:    ch.Username,
			Password:    ch.Password,
			IndexRoot:   data.IndexRoot,
			OptionRoot:  data.OptionRoot,
			DialTimeout: ch.DialTimeout,
		}, a.logger.Named("clickhouse"))
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知数据源 %q", data.Source)
	}
}

// loadSession 读取并校验一个交易日。
func (a *App) loadSession(ctx context.Context, date time.Time) (*marketdata.Session, error) {
	src, closeSource, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeSource(); err != nil {
			a.logger.Warn("关闭数据源失败", zap.Error(err))
		}
	}()

	data := a.cfg.Data
	loader, err := marketdata.NewLoader(src, marketdata.LoaderConfig{
		Open:         data.Open,
		Close:        data.Close,
		BarClose:     data.Close - time.Second,
		StrikeWindow: data.StrikeWindow,
		Cutoff:       data.Cutoff,
		RequireOHLC:  data.RequireOHLC,
	}, a.logger.Named("marketdata"))
	if err != nil {
		return nil, err
	}

	started := time.Now()
	session, err := loader.Load(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("加载交易日 %s 失败: %w", date.Format(time.DateOnly), err)
	}
	a.logger.Info("交易日数据已加载",
		zap.String("source", data.Source),
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("intervals", session.Series.Len()),
		zap.Int("bars", len(session.Bars)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return session, nil
}

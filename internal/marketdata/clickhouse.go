package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"options-backtest/internal/market"
)

// ClickHouseConfig 定义 ClickHouse 连接参数。
type ClickHouseConfig struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	IndexRoot   string
	OptionRoot  string
	DialTimeout time.Duration
}

// ClickHouseSource 从 index_quotes、index_ohlc、option_quotes 三张表读取行情。
type ClickHouseSource struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

// NewClickHouseSource 建立连接并检查连通性。
func NewClickHouseSource(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseSource, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("marketdata: clickhouse 地址不能为空")
	}
	if cfg.IndexRoot == "" {
		cfg.IndexRoot = "SPX"
	}
	if cfg.OptionRoot == "" {
		cfg.OptionRoot = "SPXW"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": 600,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: 打开 clickhouse 连接失败: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marketdata: clickhouse ping 失败: %w", err)
	}
	return &ClickHouseSource{conn: conn, cfg: cfg, logger: logger}, nil
}

// Close 关闭连接。
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

const (
	indexQuotesQuery = `SELECT ts, price FROM index_quotes WHERE root = ? AND toDate(ts) = ? ORDER BY ts`
	indexOHLCQuery   = `SELECT ts, open, high, low, close FROM index_ohlc WHERE root = ? AND toDate(ts) = ? ORDER BY ts`
	optionQuoteQuery = `SELECT ts, strike, right, bid, ask FROM option_quotes
WHERE root = ? AND toDate(ts) = ? AND strike BETWEEN ? AND ?
ORDER BY ts, strike, right`
)

func (s *ClickHouseSource) IndexPrices(ctx context.Context, day time.Time) ([]market.Tick, error) {
	rows, err := s.conn.Query(ctx, indexQuotesQuery, s.cfg.IndexRoot, day.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("marketdata: 查询 index_quotes 失败: %w", err)
	}
	defer rows.Close()

	var ticks []market.Tick
	for rows.Next() {
		var (
			ts    time.Time
			price float64
		)
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, fmt.Errorf("marketdata: 读取 index_quotes 失败: %w", err)
		}
		ticks = append(ticks, market.Tick{Time: naiveUTC(ts), Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("%w: index_quotes %s %s", ErrNotFound, s.cfg.IndexRoot, day.Format(time.DateOnly))
	}
	return ticks, nil
}

func (s *ClickHouseSource) IndexOHLC(ctx context.Context, day time.Time) ([]market.Bar, error) {
	rows, err := s.conn.Query(ctx, indexOHLCQuery, s.cfg.IndexRoot, day.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("marketdata: 查询 index_ohlc 失败: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var (
			ts  time.Time
			bar market.Bar
		)
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close); err != nil {
			return nil, fmt.Errorf("marketdata: 读取 index_ohlc 失败: %w", err)
		}
		bar.Time = naiveUTC(ts)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: index_ohlc %s %s", ErrNotFound, s.cfg.IndexRoot, day.Format(time.DateOnly))
	}
	return bars, nil
}

func (s *ClickHouseSource) OptionQuotes(ctx context.Context, day time.Time, minStrike, maxStrike float64) ([]OptionQuote, error) {
	rows, err := s.conn.Query(ctx, optionQuoteQuery, s.cfg.OptionRoot, day.Format(time.DateOnly), minStrike, maxStrike)
	if err != nil {
		return nil, fmt.Errorf("marketdata: 查询 option_quotes 失败: %w", err)
	}
	defer rows.Close()

	var quotes []OptionQuote
	for rows.Next() {
		var (
			ts    time.Time
			right string
			q     OptionQuote
		)
		if err := rows.Scan(&ts, &q.Strike, &right, &q.Bid, &q.Ask); err != nil {
			return nil, fmt.Errorf("marketdata: 读取 option_quotes 失败: %w", err)
		}
		if q.Right, err = market.ParseRight(right); err != nil {
			return nil, fmt.Errorf("marketdata: option_quotes: %w", err)
		}
		q.Time = naiveUTC(ts)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("期权报价查询完成", zap.Time("date", day), zap.Int("rows", len(quotes)))
	return quotes, nil
}

// naiveUTC 保留墙上时间，丢弃时区。
func naiveUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

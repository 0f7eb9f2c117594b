package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Data       DataConfig       `mapstructure:"data"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Optimize   OptimizeConfig   `mapstructure:"optimize"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// DataConfig 描述行情数据来源与交易时段。
type DataConfig struct {
	Source       string        `mapstructure:"source"` // file | clickhouse
	Dir          string        `mapstructure:"dir"`
	IndexRoot    string        `mapstructure:"index_root"`
	OptionRoot   string        `mapstructure:"option_root"`
	IntervalMs   int           `mapstructure:"interval_ms"`
	Date         string        `mapstructure:"date"`
	StrikeWindow float64       `mapstructure:"strike_window"`
	Open         time.Duration `mapstructure:"open"`
	Close        time.Duration `mapstructure:"close"`
	Cutoff       time.Duration `mapstructure:"cutoff"`
	RequireOHLC  bool          `mapstructure:"require_ohlc"`
}

// ClickHouseConfig 描述 ClickHouse 连接。
type ClickHouseConfig struct {
	Addr        []string      `mapstructure:"addr"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// BacktestConfig 控制回测引擎。
type BacktestConfig struct {
	StrikeIncrement float64 `mapstructure:"strike_increment"`
	Journal         bool    `mapstructure:"journal"`
}

// StrategyConfig 选择策略并提供参数覆盖。
type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// OptimizeConfig 控制参数搜索。
type OptimizeConfig struct {
	Trials    int                    `mapstructure:"trials"`
	Jobs      int                    `mapstructure:"jobs"`
	Seed      int64                  `mapstructure:"seed"`
	Objective string                 `mapstructure:"objective"`
	OutputDir string                 `mapstructure:"output_dir"`
	Space     map[string]RangeConfig `mapstructure:"space"`
}

// RangeConfig 描述单个参数的搜索区间。
type RangeConfig struct {
	Type string  `mapstructure:"type"` // int | float
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
	Step float64 `mapstructure:"step"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	File             FileLog  `mapstructure:"file"`
}

// FileLog 配置滚动日志文件，Path 为空时不启用。
type FileLog struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

var objectives = []string{"mar", "sortino", "return", "profit_factor", "total_pnl"}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch c.Data.Source {
	case "file":
		if c.Data.Dir == "" {
			err = multierr.Append(err, errors.New("data.dir 不能为空"))
		}
	case "clickhouse":
		if len(c.ClickHouse.Addr) == 0 {
			err = multierr.Append(err, errors.New("clickhouse.addr 至少包含一个地址"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("data.source 必须为 file 或 clickhouse, 实际 %q", c.Data.Source))
	}
	if c.Data.StrikeWindow <= 0 {
		err = multierr.Append(err, errors.New("data.strike_window 必须大于0"))
	}
	if c.Data.Open <= 0 || c.Data.Close <= c.Data.Open || c.Data.Close > 24*time.Hour {
		err = multierr.Append(err, errors.New("data.open/close 交易时段非法"))
	}
	if c.Data.Cutoff < 0 {
		err = multierr.Append(err, errors.New("data.cutoff 不能为负"))
	}
	if c.Backtest.StrikeIncrement <= 0 {
		err = multierr.Append(err, errors.New("backtest.strike_increment 必须大于0"))
	}
	if c.Strategy.Name == "" {
		err = multierr.Append(err, errors.New("strategy.name 不能为空"))
	}
	if c.Optimize.Trials <= 0 {
		err = multierr.Append(err, errors.New("optimize.trials 必须大于0"))
	}
	if c.Optimize.Jobs <= 0 {
		err = multierr.Append(err, errors.New("optimize.jobs 必须大于0"))
	}
	if !contains(objectives, c.Optimize.Objective) {
		err = multierr.Append(err, fmt.Errorf("optimize.objective 必须为 %s 之一", strings.Join(objectives, "/")))
	}
	for name, r := range c.Optimize.Space {
		if r.Type != "int" && r.Type != "float" {
			err = multierr.Append(err, fmt.Errorf("optimize.space.%s.type 必须为 int 或 float", name))
		}
		if r.Max < r.Min {
			err = multierr.Append(err, fmt.Errorf("optimize.space.%s max 不能小于 min", name))
		}
		if r.Step < 0 {
			err = multierr.Append(err, fmt.Errorf("optimize.space.%s.step 不能为负", name))
		}
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package backtest

// DefaultStrikeIncrement 为行权价间距的缺省值。
const DefaultStrikeIncrement = 5.0

// Config 定义回测参数。
type Config struct {
	Label           string  // 运行标识，仅用于日志
	StrikeIncrement float64 // 平值行权价取整间距
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.StrikeIncrement <= 0 {
		cfg.StrikeIncrement = DefaultStrikeIncrement
	}
	return cfg
}

package strategy

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"options-backtest/internal/backtest"
)

// 已注册的策略名称。
const (
	NameDefault     = "default"
	NamePutSpread   = "putspread"
	NameSMAStrangle = "sma-strangle"
)

type factory func(raw map[string]any, logger *zap.Logger) (backtest.Strategy, error)

var registry = map[string]factory{
	NameDefault: func(raw map[string]any, logger *zap.Logger) (backtest.Strategy, error) {
		params := DefaultLongStrangleParams()
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return NewLongStrangle(params, logger)
	},
	NamePutSpread: func(raw map[string]any, logger *zap.Logger) (backtest.Strategy, error) {
		params := DefaultPutSpreadParams()
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return NewPutSpread(params, logger)
	},
	NameSMAStrangle: func(raw map[string]any, logger *zap.Logger) (backtest.Strategy, error) {
		params := DefaultSMAStrangleParams()
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		return NewSMAStrangle(params, logger)
	},
}

// New 按名称创建策略，raw 中的参数覆盖默认值。
func New(name string, raw map[string]any, logger *zap.Logger) (backtest.Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: 未知策略 %q, 可选 %v", name, Names())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return f(raw, logger.Named("strategy"))
}

// Names 返回已注册的策略名称。
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeParams 将 raw 合并进 out，未知字段视为错误。
func decodeParams(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("strategy: 创建参数解码器失败: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("strategy: 解析参数失败: %w", err)
	}
	return nil
}

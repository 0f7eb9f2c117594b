package optimize

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/multierr"

	"options-backtest/internal/config"
)

// 参数类型。
const (
	TypeInt   = "int"
	TypeFloat = "float"
)

// Range 为单个参数的取值区间，Step 为 0 时浮点参数连续取值、整数参数步长为 1。
type Range struct {
	Type string
	Min  float64
	Max  float64
	Step float64
}

// Validate 校验区间。
func (r Range) Validate() error {
	var err error
	if r.Type != TypeInt && r.Type != TypeFloat {
		err = multierr.Append(err, fmt.Errorf("类型 %q 非法", r.Type))
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Max < r.Min {
		err = multierr.Append(err, fmt.Errorf("区间 [%g, %g] 非法", r.Min, r.Max))
	}
	if r.Step < 0 {
		err = multierr.Append(err, fmt.Errorf("步长 %g 不能为负", r.Step))
	}
	return err
}

// Sample 在区间内均匀抽样，整数参数返回 int。
func (r Range) Sample(rng *rand.Rand) any {
	step := r.Step
	if r.Type == TypeInt && step == 0 {
		step = 1
	}
	if step == 0 {
		return r.Min + rng.Float64()*(r.Max-r.Min)
	}
	n := int(math.Floor((r.Max-r.Min)/step + 1e-9))
	v := r.Min + float64(rng.IntN(n+1))*step
	if r.Type == TypeInt {
		return int(math.Round(v))
	}
	return v
}

// Space 为命名参数区间集合。
type Space map[string]Range

// DefaultPutSpreadSpace 返回价差策略的默认搜索空间（1 秒数据）。
func DefaultPutSpreadSpace() Space {
	return Space{
		"short_strike":  {Type: TypeInt, Min: 5, Max: 50, Step: 5},
		"spread_width":  {Type: TypeInt, Min: 5, Max: 50, Step: 5},
		"profit_pct":    {Type: TypeFloat, Min: 0.05, Max: 1.0},
		"loss_pct":      {Type: TypeFloat, Min: -2.0, Max: -0.5},
		"min_credit":    {Type: TypeFloat, Min: 0.05, Max: 0.50},
		"sma_period":    {Type: TypeInt, Min: 60, Max: 300},
		"rsi_period":    {Type: TypeInt, Min: 30, Max: 120},
		"rsi_lower":     {Type: TypeFloat, Min: 25, Max: 40},
		"rsi_upper":     {Type: TypeFloat, Min: 60, Max: 75},
		"atr_period":    {Type: TypeInt, Min: 30, Max: 120},
		"atr_threshold": {Type: TypeFloat, Min: 0.0001, Max: 0.001},
	}
}

// SpaceFromConfig 转换配置中的搜索空间，为空时返回 nil。
func SpaceFromConfig(cfg map[string]config.RangeConfig) (Space, error) {
	if len(cfg) == 0 {
		return nil, nil
	}
	space := make(Space, len(cfg))
	for name, rc := range cfg {
		space[name] = Range{Type: rc.Type, Min: rc.Min, Max: rc.Max, Step: rc.Step}
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return space, nil
}

// Validate 校验所有区间。
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("optimize: 搜索空间为空")
	}
	var err error
	for _, name := range s.Names() {
		if rerr := s[name].Validate(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("optimize: 参数 %s: %w", name, rerr))
		}
	}
	return err
}

// Names 返回排序后的参数名。
func (s Space) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sample 按参数名顺序抽样，相同随机源得到相同参数。
func (s Space) Sample(rng *rand.Rand) map[string]any {
	params := make(map[string]any, len(s))
	for _, name := range s.Names() {
		params[name] = s[name].Sample(rng)
	}
	return params
}

// trialRand 为每个试验创建独立的随机源，结果只取决于 seed 与试验编号。
func trialRand(seed int64, number int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(number)))
}

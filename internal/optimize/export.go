package optimize

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"
)

// trialRow 为导出 CSV 的一行。
type trialRow struct {
	Number       int     `csv:"number"`
	ID           string  `csv:"id"`
	State        string  `csv:"state"`
	Value        float64 `csv:"value"`
	TotalPnL     float64 `csv:"total_pnl"`
	WinRate      float64 `csv:"win_rate"`
	NumPositions int     `csv:"num_positions"`
	MAR          float64 `csv:"mar"`
	Sortino      float64 `csv:"sortino"`
	Return       float64 `csv:"return"`
	ProfitFactor float64 `csv:"profit_factor"`
	DurationMs   int64   `csv:"duration_ms"`
	Params       string  `csv:"params"`
	Error        string  `csv:"error"`
}

// WriteTrialsCSV 将试验写为 CSV，参数列为 JSON。
func WriteTrialsCSV(w io.Writer, trials []Trial) error {
	rows := make([]*trialRow, len(trials))
	for i, t := range trials {
		params, err := json.Marshal(t.Params)
		if err != nil {
			return fmt.Errorf("optimize: 序列化试验 %d 参数失败: %w", t.Number, err)
		}
		rows[i] = &trialRow{
			Number:       t.Number,
			ID:           t.ID,
			State:        string(t.State),
			Value:        t.Value,
			TotalPnL:     t.Metrics.TotalPnL,
			WinRate:      t.Metrics.WinRate,
			NumPositions: t.Metrics.NumPositions,
			MAR:          t.Metrics.MAR,
			Sortino:      t.Metrics.Sortino,
			Return:       t.Metrics.Return,
			ProfitFactor: t.Metrics.ProfitFactor,
			DurationMs:   t.Finished.Sub(t.Started).Milliseconds(),
			Params:       string(params),
			Error:        t.Error,
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("optimize: 写入 CSV 失败: %w", err)
	}
	return nil
}

// bestFile 与配置文件中 strategy 段结构一致，可直接合并使用。
type bestFile struct {
	Strategy struct {
		Name   string         `yaml:"name"`
		Params map[string]any `yaml:"params"`
	} `yaml:"strategy"`
	Trial     int     `yaml:"trial"`
	Objective string  `yaml:"objective"`
	Value     float64 `yaml:"value"`
}

// WriteBestYAML 写出最优参数。
func WriteBestYAML(w io.Writer, strategyName, objective string, best *Trial) error {
	if best == nil {
		return ErrNoCompleteTrial
	}
	var out bestFile
	out.Strategy.Name = strategyName
	out.Strategy.Params = best.Params
	out.Trial = best.Number
	out.Objective = objective
	out.Value = best.Value

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("optimize: 写入 YAML 失败: %w", err)
	}
	return enc.Close()
}

// Export 在 dir 下写出 results_<name>.csv，存在最优试验时写出 best_<name>.yaml。
func Export(dir string, cfg Config, result Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("optimize: 创建输出目录失败: %w", err)
	}
	name := strings.ReplaceAll(result.Name, string(filepath.Separator), "_")

	csvPath := filepath.Join(dir, "results_"+name+".csv")
	if err := writeFile(csvPath, func(w io.Writer) error { return WriteTrialsCSV(w, result.Trials) }); err != nil {
		return nil, err
	}
	paths := []string{csvPath}

	if result.Best == nil {
		return paths, nil
	}
	yamlPath := filepath.Join(dir, "best_"+name+".yaml")
	if err := writeFile(yamlPath, func(w io.Writer) error {
		return WriteBestYAML(w, cfg.Strategy, cfg.Objective, result.Best)
	}); err != nil {
		return paths, err
	}
	return append(paths, yamlPath), nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("optimize: 创建 %s 失败: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("optimize: 关闭 %s 失败: %w", path, cerr)
		}
	}()
	return write(f)
}

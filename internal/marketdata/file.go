package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"

	"options-backtest/internal/market"
)

// FileSourceConfig 描述 ThetaData v2 目录布局。
type FileSourceConfig struct {
	Dir        string
	IndexRoot  string
	OptionRoot string
	IntervalMs int
}

// FileSource 读取 ThetaData 导出的 .csv.zst 文件。
//
//	<dir>/v2/hist/index/price/<root>/<interval>/<date>.csv.zst
//	<dir>/v2/hist/index/ohlc/<root>/<interval>/<date>.csv.zst
//	<dir>/v2/bulk_hist/option/quote/<root>/<interval>/<date>.csv.zst
type FileSource struct {
	cfg FileSourceConfig
}

// NewFileSource 创建文件数据源。
func NewFileSource(cfg FileSourceConfig) *FileSource {
	if cfg.Dir == "" {
		cfg.Dir = "data/thetadata"
	}
	if cfg.IndexRoot == "" {
		cfg.IndexRoot = "SPX"
	}
	if cfg.OptionRoot == "" {
		cfg.OptionRoot = "SPXW"
	}
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = 1000
	}
	return &FileSource{cfg: cfg}
}

type indexPriceRow struct {
	MsOfDay int64   `csv:"ms_of_day"`
	Price   float64 `csv:"price"`
	Date    int     `csv:"date"`
}

type indexOHLCRow struct {
	MsOfDay int64   `csv:"ms_of_day"`
	Open    float64 `csv:"open"`
	High    float64 `csv:"high"`
	Low     float64 `csv:"low"`
	Close   float64 `csv:"close"`
	Date    int     `csv:"date"`
}

type optionQuoteRow struct {
	MsOfDay int64   `csv:"ms_of_day"`
	Strike  int64   `csv:"strike"`
	Right   string  `csv:"right"`
	Bid     float64 `csv:"bid"`
	Ask     float64 `csv:"ask"`
	Date    int     `csv:"date"`
}

// PricePath 返回标的价格文件路径。
func (s *FileSource) PricePath(day time.Time) string {
	return s.path("hist/index/price", s.cfg.IndexRoot, day)
}

// OHLCPath 返回标的 OHLC 文件路径。
func (s *FileSource) OHLCPath(day time.Time) string {
	return s.path("hist/index/ohlc", s.cfg.IndexRoot, day)
}

// QuotePath 返回期权报价文件路径。
func (s *FileSource) QuotePath(day time.Time) string {
	return s.path("bulk_hist/option/quote", s.cfg.OptionRoot, day)
}

func (s *FileSource) path(kind, root string, day time.Time) string {
	return filepath.Join(s.cfg.Dir, "v2", filepath.FromSlash(kind), root,
		strconv.Itoa(s.cfg.IntervalMs), day.Format("20060102")+".csv.zst")
}

func (s *FileSource) IndexPrices(ctx context.Context, day time.Time) ([]market.Tick, error) {
	var rows []indexPriceRow
	if err := readCSV(ctx, s.PricePath(day), &rows); err != nil {
		return nil, err
	}
	ticks := make([]market.Tick, len(rows))
	for i, r := range rows {
		ticks[i] = market.Tick{Time: rowTime(day, r.Date, r.MsOfDay), Price: r.Price}
	}
	return ticks, nil
}

func (s *FileSource) IndexOHLC(ctx context.Context, day time.Time) ([]market.Bar, error) {
	var rows []indexOHLCRow
	if err := readCSV(ctx, s.OHLCPath(day), &rows); err != nil {
		return nil, err
	}
	bars := make([]market.Bar, len(rows))
	for i, r := range rows {
		bars[i] = market.Bar{
			Time:  rowTime(day, r.Date, r.MsOfDay),
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
		}
	}
	return bars, nil
}

func (s *FileSource) OptionQuotes(ctx context.Context, day time.Time, minStrike, maxStrike float64) ([]OptionQuote, error) {
	var rows []optionQuoteRow
	if err := readCSV(ctx, s.QuotePath(day), &rows); err != nil {
		return nil, err
	}
	quotes := make([]OptionQuote, 0, len(rows))
	for _, r := range rows {
		strike := StrikeFromThousandths(r.Strike)
		if strike < minStrike || strike > maxStrike {
			continue
		}
		right, err := market.ParseRight(strings.TrimSpace(r.Right))
		if err != nil {
			return nil, fmt.Errorf("marketdata: %s: %w", s.QuotePath(day), err)
		}
		quotes = append(quotes, OptionQuote{
			Time:   rowTime(day, r.Date, r.MsOfDay),
			Strike: strike,
			Right:  right,
			Bid:    r.Bid,
			Ask:    r.Ask,
		})
	}
	return quotes, nil
}

// StrikeFromThousandths 将千分之一点的整数行权价转换为点数。
func StrikeFromThousandths(v int64) float64 {
	return decimal.New(v, -3).InexactFloat64()
}

// rowTime 由 YYYYMMDD 与当日毫秒数组合时间，date 为 0 时使用 day。
func rowTime(day time.Time, date int, msOfDay int64) time.Time {
	base := day
	if date > 0 {
		base = time.Date(date/10000, time.Month(date/100%100), date%100, 0, 0, 0, 0, time.UTC)
	}
	return base.Add(time.Duration(msOfDay) * time.Millisecond)
}

// readCSV 读取 CSV 文件，.zst 后缀时先解压。
func readCSV(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("marketdata: 打开 %s 失败: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("marketdata: 解压 %s 失败: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}
	if err := gocsv.Unmarshal(r, out); err != nil {
		return fmt.Errorf("marketdata: 解析 %s 失败: %w", path, err)
	}
	return nil
}

package marketdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest/internal/market"
)

// 测试使用 09:30:01 - 09:30:10 的缩短交易时段。
var shortSession = LoaderConfig{
	Open:     DefaultOpen,
	Close:    DefaultOpen + 9*time.Second,
	BarClose: DefaultOpen + 8*time.Second,
}

const openMs = (9*3600 + 30*60) * 1000

func writeZst(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
}

type fixture struct {
	skipPrice  int // 跳过的价格秒数，0 表示不跳过
	withOHLC   bool
	extraRight string
}

// writeFixture 生成 09:30:00 起 11 秒的数据，首行价格为零。
func writeFixture(t *testing.T, src *FileSource, fx fixture) {
	t.Helper()
	prices := []string{"ms_of_day,price,date"}
	ohlc := []string{"ms_of_day,open,high,low,close,volume,count,date"}
	quotes := []string{"root,expiration,strike,right,ms_of_day,bid_size,bid_exchange,bid,bid_condition,ask_size,ask_exchange,ask,ask_condition,date"}
	for sec := 0; sec <= 10; sec++ {
		ms := openMs + sec*1000
		price := 5900.0 + float64(sec)/10
		if sec == 0 {
			price = 0
		}
		if sec != fx.skipPrice || fx.skipPrice == 0 {
			prices = append(prices, fmt.Sprintf("%d,%.2f,20250102", ms, price))
		}
		if sec < 10 {
			ohlc = append(ohlc, fmt.Sprintf("%d,%.2f,%.2f,%.2f,%.2f,0,0,20250102", ms, price, price+1, price-1, price))
		}
		for _, strike := range []int{5895000, 5900000, 5905000, 6200000} {
			for _, right := range []string{"C", "P"} {
				quotes = append(quotes, fmt.Sprintf("SPXW,20250102,%d,%s,%d,1,1,1.90,0,1,1,2.10,0,20250102", strike, right, ms))
			}
		}
	}
	writeZst(t, src.PricePath(day), prices)
	if fx.withOHLC {
		writeZst(t, src.OHLCPath(day), ohlc)
	}
	writeZst(t, src.QuotePath(day), quotes)
}

func TestFileSourcePaths(t *testing.T) {
	src := NewFileSource(FileSourceConfig{Dir: "/data"})
	assert.Equal(t, filepath.FromSlash("/data/v2/hist/index/price/SPX/1000/20250102.csv.zst"), src.PricePath(day))
	assert.Equal(t, filepath.FromSlash("/data/v2/hist/index/ohlc/SPX/1000/20250102.csv.zst"), src.OHLCPath(day))
	assert.Equal(t, filepath.FromSlash("/data/v2/bulk_hist/option/quote/SPXW/1000/20250102.csv.zst"), src.QuotePath(day))
}

func TestStrikeFromThousandths(t *testing.T) {
	assert.Equal(t, 5905.0, StrikeFromThousandths(5905000))
	assert.Equal(t, 5902.5, StrikeFromThousandths(5902500))
}

func TestLoadSessionFromFiles(t *testing.T) {
	src := NewFileSource(FileSourceConfig{Dir: t.TempDir()})
	writeFixture(t, src, fixture{withOHLC: true})

	loader, err := NewLoader(src, shortSession, nil)
	require.NoError(t, err)
	session, err := loader.Load(context.Background(), day)
	require.NoError(t, err)

	open := day.Add(DefaultOpen)
	assert.Equal(t, 10, session.Series.Len())
	assert.Equal(t, open, session.Series.Start())
	assert.InDelta(t, 5900.1, session.Series.At(0).Price, 1e-9, "09:30:00 首行被丢弃")
	assert.Len(t, session.Bars, 9)

	assert.Equal(t, []float64{5895, 5900, 5905}, session.Chain.Strikes(), "窗口外的行权价被过滤")
	rec, ok := session.Chain.Lookup(open.Add(3*time.Second), 5905)
	require.True(t, ok)
	assert.InDelta(t, 2.00, rec.Call.Mid, 1e-9)
	assert.InDelta(t, 1.90, rec.Put.Bid, 1e-9)
}

func TestLoadRejectsMissingTick(t *testing.T) {
	src := NewFileSource(FileSourceConfig{Dir: t.TempDir()})
	writeFixture(t, src, fixture{skipPrice: 5})

	loader, err := NewLoader(src, shortSession, nil)
	require.NoError(t, err)
	session, err := loader.Load(context.Background(), day)

	require.Error(t, err)
	assert.Nil(t, session)
	var ierr *market.IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "index", ierr.Source)
	assert.Equal(t, day.Add(DefaultOpen+4*time.Second), ierr.FirstMissing)
}

func TestLoadOHLCOptional(t *testing.T) {
	src := NewFileSource(FileSourceConfig{Dir: t.TempDir()})
	writeFixture(t, src, fixture{})

	loader, err := NewLoader(src, shortSession, nil)
	require.NoError(t, err)
	session, err := loader.Load(context.Background(), day)
	require.NoError(t, err)
	assert.Nil(t, session.Bars)

	strict := shortSession
	strict.RequireOHLC = true
	loader, err = NewLoader(src, strict, nil)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), day)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCutoff(t *testing.T) {
	src := NewFileSource(FileSourceConfig{Dir: t.TempDir()})
	writeFixture(t, src, fixture{withOHLC: true})

	cfg := shortSession
	cfg.Cutoff = DefaultOpen + 5*time.Second
	loader, err := NewLoader(src, cfg, nil)
	require.NoError(t, err)
	session, err := loader.Load(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 5, session.Series.Len())
	assert.Len(t, session.Bars, 5)
	assert.Equal(t, 5, session.Chain.Rows())
}

// memorySource 为内存数据源，用于完整交易日测试。
type memorySource struct {
	ticks  []market.Tick
	quotes []OptionQuote
}

func (m memorySource) IndexPrices(context.Context, time.Time) ([]market.Tick, error) {
	return m.ticks, nil
}

func (m memorySource) IndexOHLC(context.Context, time.Time) ([]market.Bar, error) {
	return nil, ErrNotFound
}

func (m memorySource) OptionQuotes(_ context.Context, _ time.Time, lo, hi float64) ([]OptionQuote, error) {
	return m.quotes, nil
}

func TestLoadFullDayMissingTick(t *testing.T) {
	gap := day.Add(10*time.Hour + 15*time.Minute)
	var ticks []market.Tick
	for _, ts := range secondsBetween(day.Add(DefaultOpen), day.Add(DefaultClose), gap) {
		ticks = append(ticks, market.Tick{Time: ts, Price: 5900})
	}

	loader, err := NewLoader(memorySource{ticks: ticks}, LoaderConfig{}, nil)
	require.NoError(t, err)
	session, err := loader.Load(context.Background(), day)

	assert.Nil(t, session)
	assert.ErrorIs(t, err, market.ErrDataIntegrity)
	var ierr *market.IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, gap, ierr.FirstMissing)
}

func TestLoadRejectsIncompleteChain(t *testing.T) {
	open := day.Add(shortSession.Open)
	var (
		ticks  []market.Tick
		quotes []OptionQuote
	)
	for i := 0; i < 10; i++ {
		ts := open.Add(time.Duration(i) * time.Second)
		ticks = append(ticks, market.Tick{Time: ts, Price: 5900})
		if i != 7 {
			quotes = append(quotes, OptionQuote{Time: ts, Strike: 5900, Right: market.Call, Bid: 1, Ask: 2})
		}
	}

	loader, err := NewLoader(memorySource{ticks: ticks, quotes: quotes}, shortSession, nil)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), day)

	var ierr *market.IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "option", ierr.Source)
	assert.Equal(t, open.Add(7*time.Second), ierr.FirstMissing)
}

package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest/internal/market"
)

var day = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func secondsBetween(start, end time.Time, skip ...time.Time) []time.Time {
	var out []time.Time
	for t := start; !t.After(end); t = t.Add(time.Second) {
		skipped := false
		for _, s := range skip {
			if s.Equal(t) {
				skipped = true
			}
		}
		if !skipped {
			out = append(out, t)
		}
	}
	return out
}

func TestValidateIntervalsFullSession(t *testing.T) {
	openAt, closeAt := day.Add(DefaultOpen), day.Add(DefaultClose)
	times := secondsBetween(openAt, closeAt)
	require.Len(t, times, 23400)
	assert.NoError(t, ValidateIntervals("index", times, openAt, closeAt))

	// 期权链每秒多行
	doubled := append(append([]time.Time(nil), times...), times...)
	assert.NoError(t, ValidateIntervals("option", doubled, openAt, closeAt))
}

func TestValidateIntervalsMissingTick(t *testing.T) {
	openAt, closeAt := day.Add(DefaultOpen), day.Add(DefaultClose)
	gap := day.Add(10*time.Hour + 15*time.Minute)

	err := ValidateIntervals("index", secondsBetween(openAt, closeAt, gap), openAt, closeAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrDataIntegrity))

	var ierr *market.IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, 23400, ierr.Expected)
	assert.Equal(t, 23399, ierr.Actual)
	assert.Equal(t, gap, ierr.FirstMissing)
	assert.Equal(t, gap, ierr.LastMissing)
}

func TestValidateIntervalsOutOfRange(t *testing.T) {
	open := day.Add(DefaultOpen)
	end := open.Add(2 * time.Second)
	times := append(secondsBetween(open, end), end.Add(time.Second))
	assert.ErrorIs(t, ValidateIntervals("index", times, open, end), market.ErrDataIntegrity)

	offGrid := []time.Time{open, open.Add(1500 * time.Millisecond), end}
	assert.ErrorIs(t, ValidateIntervals("index", offGrid, open, end), market.ErrDataIntegrity)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"20250102", "2025-01-02"} {
		d, err := ParseDate(s)
		require.NoError(t, err)
		assert.Equal(t, day, d)
	}
	_, err := ParseDate("01/02/2025")
	assert.Error(t, err)
}

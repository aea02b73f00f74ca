package market

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/pkg/errs"
)

func TestNewSeriesRejectsUnorderedBars(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Time: t0, Close: 10},
		{Time: t0, Close: 11},
	}
	_, err := NewSeries("X", "1d", bars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not after")

	bars[1].Time = t0.Add(time.Hour)
	bars[1].Close = 0
	_, err = NewSeries("X", "1d", bars)
	assert.ErrorIs(t, err, errs.ErrInvalidData)
}

func TestRequireBars(t *testing.T) {
	s := Series{Bars: make([]Bar, 10)}
	err := s.RequireBars(50)
	assert.True(t, errors.Is(err, errs.ErrInsufficientData))
	assert.NoError(t, s.RequireBars(10))
}

func TestColumnAndFingerprint(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewSeries("ABC", "1d", []Bar{
		{Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Time: t0.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200},
	})
	require.NoError(t, err)

	vol, ok := s.Column("Volume")
	require.True(t, ok)
	assert.Equal(t, []float64{100, 200}, vol)
	_, ok = s.Column("close")
	assert.False(t, ok, "column lookup is exact")

	fp := s.Fingerprint()
	assert.Len(t, fp, 64)
	s2 := s
	s2.Bars = append([]Bar(nil), s.Bars...)
	s2.Bars[1].Close = 2.0001
	assert.NotEqual(t, fp, s2.Fingerprint())
}

func TestLoadCSV(t *testing.T) {
	t.Run("date column", func(t *testing.T) {
		data := "Date,Open,High,Low,Close,Adj Close,Volume\n" +
			"2024-01-02,10,11,9,10.5,10.4,1000\n" +
			"2024-01-03,10.5,12,10,11.5,11.4,1200\n"
		s, err := LoadCSV(strings.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, 2, s.Len())
		assert.Equal(t, 11.5, s.Bars[1].Close)
		assert.Equal(t, 1200.0, s.Bars[1].Volume)
		assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), s.Bars[1].Time)
	})

	t.Run("unix milliseconds", func(t *testing.T) {
		data := "timestamp,open,high,low,close,volume\n1704153600000,1,1,1,1,0\n1704157200000,1,1,1,2,0\n"
		s, err := LoadCSV(strings.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, s.Bars[1].Time.Sub(s.Bars[0].Time))
	})

	t.Run("missing close", func(t *testing.T) {
		_, err := LoadCSV(strings.NewReader("date,open,high,low\n"))
		assert.ErrorContains(t, err, `"close"`)
	})

	t.Run("byte order mark", func(t *testing.T) {
		data := "\ufeffDate,Open,High,Low,Close,Volume\n2024-01-02,10,11,9,10.5,1000\n"
		s, err := LoadCSV(strings.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 10.5, s.Bars[0].Close)
	})

	t.Run("bad number reports line", func(t *testing.T) {
		_, err := LoadCSV(strings.NewReader("date,open,high,low,close\n2024-01-01,1,1,1,abc\n"))
		assert.ErrorContains(t, err, "line 2")
		assert.ErrorIs(t, err, errs.ErrInvalidData)
	})
}

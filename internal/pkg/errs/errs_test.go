package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBacktestWrapKeepsCause(t *testing.T) {
	cause := InsufficientData("backtest", 50, 10)
	err := Backtest(cause)

	assert.True(t, errors.Is(err, ErrBacktestFailure))
	assert.True(t, errors.Is(err, ErrInsufficientData))
	var de *DataError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, 50, de.Required)
	assert.Contains(t, err.Error(), "at least 50")

	assert.Same(t, err, Backtest(err), "already wrapped errors are returned unchanged")
	assert.Nil(t, Backtest(nil))
}

func TestStrategyErrorNamesToken(t *testing.T) {
	err := fmt.Errorf("entry rule: %w", InvalidStrategy("unknown column", "SMA_99"))
	assert.True(t, errors.Is(err, ErrInvalidStrategy))
	assert.Contains(t, err.Error(), `"SMA_99"`)
	assert.True(t, IsClientError(err))
	assert.False(t, IsClientError(IndicatorFailure("RSI", "nan")))
}

func TestInvalidData(t *testing.T) {
	assert.Nil(t, InvalidData(nil))
	err := InvalidData(errors.New("bar 3: close must be positive"))
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.True(t, IsClientError(err))
	assert.Equal(t, err, InvalidData(err))
}

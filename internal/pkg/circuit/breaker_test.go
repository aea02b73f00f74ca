package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("src", 2, time.Minute)
	b.now = func() time.Time { return now }
	var changes []string
	b.OnStateChange(func(_ string, from, to State) { changes = append(changes, from.String()+">"+to.String()) })

	boom := errors.New("boom")
	assert.ErrorIs(t, b.Do(func() error { return boom }, nil), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }, nil), boom)
	require.Equal(t, StateOpen, b.State())

	called := false
	assert.ErrorIs(t, b.Do(func() error { called = true; return nil }, nil), ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, b.Do(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>CLOSED"}, changes)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New("src", 1, time.Second)
	b.now = func() time.Time { return now }
	b.Failure()
	now = now.Add(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestIgnoredErrorsDoNotCount(t *testing.T) {
	b := New("src", 1, time.Hour)
	canceled := errors.New("canceled")
	err := b.Do(func() error { return canceled }, func(err error) bool { return err != canceled })
	assert.ErrorIs(t, err, canceled)
	assert.Equal(t, StateClosed, b.State())
}

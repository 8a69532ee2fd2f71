package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacingController(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewPacingController(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultPacingBaseDelay, c.Delay())
	})

	t.Run("rejects base delay above max", func(t *testing.T) {
		_, err := NewPacingController(&PacingControllerConfig{
			BaseDelay: time.Second,
			MaxDelay:  100 * time.Millisecond,
		})
		assert.Error(t, err)
	})
}

func TestPacingControllerBackoffDoublesAndCaps(t *testing.T) {
	c, err := NewPacingController(&PacingControllerConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
	})
	require.NoError(t, err)

	c.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, c.Delay())

	c.RecordFailure()
	assert.Equal(t, 400*time.Millisecond, c.Delay())

	c.RecordFailure()
	assert.Equal(t, 500*time.Millisecond, c.Delay(), "backoff caps at max delay")

	c.RecordFailure()
	assert.Equal(t, 500*time.Millisecond, c.Delay())
	assert.Equal(t, 4, c.ConsecutiveFailures())
}

func TestPacingControllerSuccessResets(t *testing.T) {
	c, err := NewPacingController(&PacingControllerConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	})
	require.NoError(t, err)

	c.RecordFailure()
	c.RecordFailure()
	require.Greater(t, c.Delay(), 100*time.Millisecond)

	c.RecordSuccess()
	assert.Equal(t, 100*time.Millisecond, c.Delay())
	assert.Equal(t, 0, c.ConsecutiveFailures())
}

package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/backoff"
)

func TestCappedExponential_NeverExceedsCapPlusJitter(t *testing.T) {
	cap := 600 * time.Second
	c := backoff.NewCappedExponential(5*time.Second, cap, 0.2)

	maxAllowed := time.Duration(float64(cap) * 1.2)
	for attempt := 1; attempt <= 20; attempt++ {
		for range 50 {
			got := c.Delay(attempt)
			assert.GreaterOrEqual(t, got, time.Duration(0))
			assert.LessOrEqual(t, got, maxAllowed)
		}
	}
}

func TestCappedExponential_GrowsThenCaps(t *testing.T) {
	// Zero jitter isolates the exponential curve itself.
	c := backoff.NewCappedExponential(5*time.Second, 600*time.Second, 0)

	assert.Equal(t, 5*time.Second, c.Delay(1))
	assert.Equal(t, 10*time.Second, c.Delay(2))
	assert.Equal(t, 20*time.Second, c.Delay(3))
	assert.Equal(t, 40*time.Second, c.Delay(4))

	// 5 * 2^(7-1) = 320s, still under the 600s cap.
	assert.Equal(t, 320*time.Second, c.Delay(7))

	// 5 * 2^(8-1) = 640s, exceeds the 600s cap.
	assert.Equal(t, 600*time.Second, c.Delay(8))
	assert.Equal(t, 600*time.Second, c.Delay(30))
}

func TestCappedExponential_JitterIsSymmetricAroundCurve(t *testing.T) {
	c := backoff.NewCappedExponential(10*time.Second, 600*time.Second, 0.2)

	below, above := 0, 0
	for range 200 {
		got := c.Delay(1) // uncapped base = 10s
		if got < 10*time.Second {
			below++
		} else if got > 10*time.Second {
			above++
		}
	}
	assert.Greater(t, below, 0, "expected some samples below the base")
	assert.Greater(t, above, 0, "expected some samples above the base")
}

func TestCappedExponential_ClampsJitterFraction(t *testing.T) {
	c := backoff.NewCappedExponential(5*time.Second, 600*time.Second, 5)
	assert.Equal(t, 1.0, c.JitterFraction)

	c = backoff.NewCappedExponential(5*time.Second, 600*time.Second, -5)
	assert.Equal(t, 0.0, c.JitterFraction)
}

func TestDefaultStrategy_CenteredOnFiveSecondBase(t *testing.T) {
	s := backoff.DefaultStrategy()
	require.NotNil(t, s)

	d := s.Delay(1)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 6*time.Second) // 5s base + 20% jitter
}

package network

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCongestionControllerGrowsOnSustainedSuccess(t *testing.T) {
	c := NewCongestionController(1)
	ideal := c.GetIdealConcurrency("host", 8)
	require.Equal(t, 1, ideal)

	for i := 0; i < 5; i++ {
		c.RecordOutcome("host", 10*time.Millisecond, nil)
	}
	ideal = c.GetIdealConcurrency("host", 8)
	require.Greater(t, ideal, 1)
}

func TestCongestionControllerBacksOffOnError(t *testing.T) {
	c := NewCongestionController(1)
	c.SeedIfAbsent("host", 8)
	require.Equal(t, 8, c.GetIdealConcurrency("host", 8))

	c.RecordOutcome("host", 10*time.Millisecond, errors.New("boom"))
	require.Less(t, c.GetIdealConcurrency("host", 8), 8)
}

func TestCongestionControllerSeedIfAbsentDoesNotClobberExisting(t *testing.T) {
	c := NewCongestionController(1)
	c.SeedIfAbsent("host", 4)
	require.Equal(t, 4, c.GetIdealConcurrency("host", 16))

	c.SeedIfAbsent("host", 16)
	require.Equal(t, 4, c.GetIdealConcurrency("host", 16))
}

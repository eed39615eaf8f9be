package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddBackoffDoublesPerFailureUpToCeiling(t *testing.T) {
	base := minRestartDelay
	require.Equal(t, base, addBackoff(base, 0))
	require.Equal(t, 2*base, addBackoff(base, 1))
	require.Equal(t, 4*base, addBackoff(base, 2))
	require.Equal(t, maxRestartDelay, addBackoff(base, 64), "must saturate at the ceiling rather than overflow")
}

func TestBackoffDelayGrowsWithFailureCountAndRespectsFloor(t *testing.T) {
	slot := &Slot{FailureCount: 0}
	require.Equal(t, minRestartDelay, backoffDelay(slot))

	withFailures := &Slot{FailureCount: 10}
	require.GreaterOrEqual(t, backoffDelay(withFailures), minRestartDelay)
	require.LessOrEqual(t, backoffDelay(withFailures), maxRestartDelay)
}

package waiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func recordWindow(a *Adaptive, didWork bool) {
	for i := 0; i < measurementWindow; i++ {
		a.RecordIteration(didWork)
	}
}

func TestNewAdaptiveStartsIdle(t *testing.T) {
	a := New()
	require.Equal(t, LevelIdle, a.Level())
}

func TestBusyWindowSwitchesToPeakImmediately(t *testing.T) {
	a := New()
	recordWindow(a, true)
	require.Equal(t, LevelPeak, a.Level(), "the first disagreeing window switches with no delay")
}

func TestHysteresisDelaysASingleDisagreeingWindow(t *testing.T) {
	a := New()
	recordWindow(a, true)
	require.Equal(t, LevelPeak, a.Level())

	// One quiet window right after a switch must not immediately flip back:
	// the switch delay absorbs a single noisy observation.
	recordWindow(a, false)
	require.Equal(t, LevelPeak, a.Level(), "a single disagreeing window must not flap the regime")
}

func TestHysteresisEventuallySwitchesAfterSustainedDisagreement(t *testing.T) {
	a := New()
	recordWindow(a, true)
	require.Equal(t, LevelPeak, a.Level())

	for i := 0; i < switchDelayCycles+1; i++ {
		recordWindow(a, false)
	}
	require.Equal(t, LevelIdle, a.Level(), "sustained disagreement across the delay window must switch regimes")
}

func TestLevelStringNames(t *testing.T) {
	require.Equal(t, "idle", LevelIdle.String())
	require.Equal(t, "low", LevelLow.String())
	require.Equal(t, "warming", LevelWarming.String())
	require.Equal(t, "active", LevelActive.String())
	require.Equal(t, "peak", LevelPeak.String())
}

func TestWaitReturnsForEveryLevel(t *testing.T) {
	a := New()
	// Wait must return promptly (not block forever) regardless of regime;
	// this just exercises every branch of the sleepFor table plus the
	// peak busy-spin fallthrough.
	for _, lvl := range []Level{LevelIdle, LevelLow, LevelWarming, LevelActive, LevelPeak} {
		a.level.Store(int32(lvl))
		a.Wait()
	}
}

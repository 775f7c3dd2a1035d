package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSPSCPushPopFIFO(t *testing.T) {
	q := NewSPSC[int](4)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 1, q.Len())

	v, ok = q.TryPop()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestSPSCTryPopEmpty(t *testing.T) {
	q := NewSPSC[int](4)
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestSPSCTryPushFailsWhenFull(t *testing.T) {
	// Capacity 4 holds at most 3 live items: the ring reserves one slot to
	// distinguish full from empty.
	q := NewSPSC[int](4)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.True(t, q.TryPush(3))
	require.False(t, q.TryPush(4), "ring must report full before overwriting unread data")
}

func TestSPSCPushYieldSucceedsOnceSpaceFrees(t *testing.T) {
	q := NewSPSC[int](2)
	require.True(t, q.TryPush(1))

	done := make(chan bool, 1)
	go func() {
		done <- q.PushYield(2, func() bool { return false })
	}()

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.True(t, <-done)
}

func TestSPSCPushYieldAbandonsOnShouldStop(t *testing.T) {
	q := NewSPSC[int](2)
	require.True(t, q.TryPush(1))

	ok := q.PushYield(2, func() bool { return true })
	require.False(t, ok, "PushYield must abandon immediately once shouldStop reports true")
}

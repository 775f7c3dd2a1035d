package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPSCTryPublishAndConsume(t *testing.T) {
	q := NewMPSC[int](4)
	require.True(t, q.TryPublish(1))
	require.True(t, q.TryPublish(2))

	c := q.NewConsumer()
	v, ok := c.TryConsume()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = c.TryConsume()
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = c.TryConsume()
	require.False(t, ok, "consumer must report empty once drained")
}

func TestMPSCTryPublishFailsWhenFull(t *testing.T) {
	q := NewMPSC[int](2)
	require.True(t, q.TryPublish(1))
	require.True(t, q.TryPublish(2))
	require.False(t, q.TryPublish(3), "publish must fail once capacity is exhausted")
}

func TestMPSCPreservesClaimOrderUnderConcurrentProducers(t *testing.T) {
	q := NewMPSC[int](1024)
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			require.True(t, q.TryPublish(v))
		}(i)
	}
	wg.Wait()

	c := q.NewConsumer()
	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v, ok := c.TryConsume()
		require.True(t, ok)
		seen[v] = true
	}
	require.Len(t, seen, n, "every published value must be observed exactly once")
}

func TestMPSCBlockingPublishConsume(t *testing.T) {
	q := NewMPSC[string](2)
	q.Publish("a")
	q.Publish("b")

	c := q.NewConsumer()
	require.Equal(t, "a", c.Consume())
	require.Equal(t, "b", c.Consume())
}

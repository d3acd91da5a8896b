package netutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	const N = 3
	q := NewQueue[string](N)

	for i := 0; i < N; i++ {
		require.Equal(t, i, q.Len())
		require.True(t, q.Deliver("hello world"))
		require.Equal(t, i+1, q.Len())
	}
	for i := 0; i < 2; i++ {
		require.False(t, q.Deliver("goodbye world"))
	}
	for i := 0; i < N; i++ {
		require.Equal(t, N-i, q.Len())
		x, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, "hello world", x)
		require.Equal(t, N-i-1, q.Len())
	}
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestQueueOrder(t *testing.T) {
	q := NewQueue[int](8)
	for i := 0; i < 20; i++ {
		require.True(t, q.Deliver(i))
		x, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, i, x)
	}
}

func TestQueuePopBlocks(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[int](1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Deliver(42)
	}()
	x, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, x)
}

func TestQueuePopCancel(t *testing.T) {
	ctx, cf := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cf()
	q := NewQueue[int](1)
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueuePurge(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, q.Deliver(i))
	}
	var got []int
	require.Equal(t, 4, q.Purge(func(x int) { got = append(got, x) }))
	require.Equal(t, []int{0, 1, 2, 3}, got)
	require.Equal(t, 0, q.Len())
}

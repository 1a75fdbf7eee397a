package spec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentCache_ConcurrentRequestsCoalesce(t *testing.T) {
	c := NewSegmentCache()
	var calls int32

	build := func(ctx context.Context, k int) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("segment-data"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data, err := c.Get(context.Background(), 0, time.Second, build)
			require.NoError(t, err)
			results[idx] = data
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls, "only one build should run for one segment index")
	for _, r := range results {
		assert.Equal(t, []byte("segment-data"), r)
	}
}

func TestSegmentCache_IdempotentAfterComplete(t *testing.T) {
	c := NewSegmentCache()
	build := func(ctx context.Context, k int) ([]byte, error) { return []byte{1, 2, 3}, nil }

	first, err := c.Get(context.Background(), 2, time.Second, build)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), 2, time.Second, build)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSegmentCache_TimeoutEvictsForRetry(t *testing.T) {
	c := NewSegmentCache()
	attempt := 0
	build := func(ctx context.Context, k int) ([]byte, error) {
		attempt++
		if attempt == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte("ok"), nil
	}

	_, err := c.Get(context.Background(), 0, 10*time.Millisecond, build)
	require.Error(t, err)

	data, err := c.Get(context.Background(), 0, time.Second, build)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, 2, attempt, "evicted builder must be retried, not replayed")
}

func TestSegmentCache_BuildErrorPropagatesToWaiters(t *testing.T) {
	c := NewSegmentCache()
	wantErr := errors.New("decode failed")
	build := func(ctx context.Context, k int) ([]byte, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := c.Get(context.Background(), 1, time.Second, build)
			errs[idx] = err
		}(i)
	}
	wg.Wait()
	for _, e := range errs {
		require.Error(t, e)
	}
}

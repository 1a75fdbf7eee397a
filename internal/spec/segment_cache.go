package spec

import (
	"context"
	"sync"
	"time"

	"github.com/ixlab-labs/igni/internal/apperr"
)

// BuildFunc produces the MPEG-TS bytes for one segment. It is expected
// to run the C3-C6 pipeline (resolve, decode, filter, mux).
type BuildFunc func(ctx context.Context, k int) ([]byte, error)

// buildState is one in-flight or completed build, directly modeled on
// the teacher's Chunk{ data []byte, notifs []chan bool }: any number
// of callers can wait on the same build by registering a channel that
// the builder closes when done.
type buildState struct {
	done   bool
	data   []byte
	err    error
	notify []chan struct{}
}

// SegmentCache memoizes segment builds per index so concurrent
// requests for the same segment coalesce onto one builder, per spec
// §5 ("Segment production is memoized per (spec, k)"). A build that
// exceeds its deadline is evicted so the next request retries from
// scratch rather than replaying a stale failure.
type SegmentCache struct {
	mu    sync.Mutex
	build map[int]*buildState
}

func NewSegmentCache() *SegmentCache {
	return &SegmentCache{build: make(map[int]*buildState)}
}

// Get returns segment k's bytes, building it if necessary. Concurrent
// callers for the same k block on the same in-flight build and all
// receive its result, satisfying idempotent-bytes (spec §8 property
// 5) without redundant decode/encode work.
func (c *SegmentCache) Get(ctx context.Context, k int, deadline time.Duration, build BuildFunc) ([]byte, error) {
	c.mu.Lock()
	st, exists := c.build[k]
	if exists && st.done {
		data, err := st.data, st.err
		c.mu.Unlock()
		return data, err
	}
	if exists {
		ch := make(chan struct{})
		st.notify = append(st.notify, ch)
		c.mu.Unlock()
		return c.waitFor(ctx, k, ch, deadline)
	}

	st = &buildState{}
	c.build[k] = st
	c.mu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	data, err := build(bctx, k)

	c.mu.Lock()
	if bctx.Err() != nil && err != nil {
		// Timed out or cancelled: drop the memo entirely so the next
		// caller gets a fresh builder, per spec §5's "exceeding it
		// invalidates the memoized builder so the next request retries".
		delete(c.build, k)
		notify := st.notify
		c.mu.Unlock()
		timeoutErr := apperr.Wrap(apperr.Timeout, err, "segment %d build deadline exceeded", k)
		for _, ch := range notify {
			close(ch)
		}
		return nil, timeoutErr
	}

	st.done, st.data, st.err = true, data, err
	notify := st.notify
	c.mu.Unlock()
	for _, ch := range notify {
		close(ch)
	}
	return data, err
}

func (c *SegmentCache) waitFor(ctx context.Context, k int, ch chan struct{}, deadline time.Duration) ([]byte, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-ch:
		c.mu.Lock()
		st, ok := c.build[k]
		c.mu.Unlock()
		if !ok {
			// Builder was evicted after a timeout; caller retries.
			return nil, apperr.New(apperr.Timeout, "segment %d build was evicted, retry", k)
		}
		return st.data, st.err
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "segment %d request cancelled", k)
	case <-timer.C:
		return nil, apperr.New(apperr.Timeout, "segment %d wait exceeded deadline", k)
	}
}

// Invalidate drops a cached/in-flight segment. Tearing down an idle
// spec does not call it; the whole cache is dropped with the spec.
func (c *SegmentCache) Invalidate(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.build, k)
}

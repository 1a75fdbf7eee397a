package spec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

func mkFrames(n int) []FrameEntry {
	out := make([]FrameEntry, n)
	for i := range out {
		out[i] = FrameEntry{TS: rational.New(int64(i), 25)}
	}
	return out
}

func newTestSpec() *Spec {
	return New("s1", 1280, 720, "yuv420p", rational.New(2, 1), rational.New(30, 1))
}

func TestPushPart_BackwardPushAdvancesFrontier(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(3, mkFrames(3), false))
	assert.Equal(t, 0, s.Frontier())

	require.NoError(t, s.PushPart(0, mkFrames(3), false))
	assert.Equal(t, 6, s.Frontier())
}

func TestPushPart_DuplicatePositionRejected(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(1), false))
	err := s.PushPart(0, mkFrames(1), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestPushPart_EmptyNonTerminalRejected(t *testing.T) {
	s := newTestSpec()
	err := s.PushPart(0, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrEmptyNonTerminal)
}

func TestPushPart_PastTerminalRejected(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(5), true))
	err := s.PushPart(5, mkFrames(1), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPastTerminal)
}

func TestPushPart_ClosesOnFrontierPastTerminal(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(5), true))
	assert.True(t, s.Closed())
	assert.True(t, s.Terminated())
}

func TestPushPart_PushAfterClosedRejected(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(3), true))
	err := s.PushPart(1, mkFrames(1), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTerminated)
}

// TestPushPart_OrderIndependence is spec §8 property 2: any permutation
// of parts covering [0, N) with one terminal yields identical final
// state regardless of push order.
func TestPushPart_OrderIndependence(t *testing.T) {
	const n = 50
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}

	finalFrontiers := map[int]bool{}
	for trial := 0; trial < 5; trial++ {
		perm := append([]int(nil), positions...)
		rand.New(rand.NewSource(int64(trial))).Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		s := newTestSpec()
		for _, pos := range perm {
			terminal := pos == n-1
			require.NoError(t, s.PushPart(pos, mkFrames(1), terminal))
		}
		finalFrontiers[s.Frontier()] = true
		assert.True(t, s.Closed())
	}
	assert.Len(t, finalFrontiers, 1, "frontier must be identical regardless of push order")
}

func TestSegmentReady_OpenVsClosed(t *testing.T) {
	s := newTestSpec() // segment_frames = 2 * 30 = 60
	require.NoError(t, s.PushPart(0, mkFrames(60), false))
	assert.True(t, s.SegmentReady(0))
	assert.False(t, s.SegmentReady(1))

	require.NoError(t, s.PushPart(60, mkFrames(10), true))
	assert.True(t, s.Closed())
	assert.True(t, s.SegmentReady(1), "trailing partial segment ready once closed")
}

func TestReadySegmentCount_FloorThenCeil(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(90), false))
	assert.Equal(t, 1, s.ReadySegmentCount()) // floor(90/60) = 1

	require.NoError(t, s.PushPart(90, nil, true))
	assert.Equal(t, 2, s.ReadySegmentCount()) // ceil(90/60) = 2
}

func TestFrameAt_OnlyWithinFrontier(t *testing.T) {
	s := newTestSpec()
	require.NoError(t, s.PushPart(0, mkFrames(3), false))
	_, ok := s.FrameAt(2)
	assert.True(t, ok)
	_, ok = s.FrameAt(3)
	assert.False(t, ok)
}

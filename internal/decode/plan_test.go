package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/source"
)

func mkHandle(n, kfEvery int) *source.Handle {
	ts := make([]source.TSEntry, n)
	for i := 0; i < n; i++ {
		ts[i] = source.TSEntry{PTS: rational.New(int64(i), 30), IsKeyframe: i%kfEvery == 0}
	}
	return &source.Handle{TS: ts}
}

func TestBuild_GroupsByKeyframeRun(t *testing.T) {
	h := mkHandle(30, 10) // keyframes at 0, 10, 20
	required := []rational.R{
		rational.New(1, 30), rational.New(5, 30), rational.New(9, 30), // group @ kf 0
		rational.New(12, 30), rational.New(19, 30), // group @ kf 10
		rational.New(25, 30), // group @ kf 20
	}
	plan := Build(h, required)
	require.Len(t, plan.Groups, 3)
	assert.Equal(t, 0, plan.Groups[0].KeyframeIndex)
	assert.Len(t, plan.Groups[0].Targets, 3)
	assert.Equal(t, 10, plan.Groups[1].KeyframeIndex)
	assert.Len(t, plan.Groups[1].Targets, 2)
	assert.Equal(t, 20, plan.Groups[2].KeyframeIndex)
	assert.Len(t, plan.Groups[2].Targets, 1)
}

func TestBuild_EmptyRequired(t *testing.T) {
	h := mkHandle(10, 5)
	plan := Build(h, nil)
	assert.Empty(t, plan.Groups)
}

func TestBuild_SingleKeyframeRunWhenAllClose(t *testing.T) {
	h := mkHandle(100, 50)
	required := []rational.R{rational.New(0, 30), rational.New(10, 30), rational.New(40, 30)}
	plan := Build(h, required)
	require.Len(t, plan.Groups, 1)
	assert.Len(t, plan.Groups[0].Targets, 3)
}

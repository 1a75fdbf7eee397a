package hls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/source"
	"github.com/ixlab-labs/igni/internal/spec"
)

func TestBuildSegment_NoCommittedFramesReturnsNotFound(t *testing.T) {
	sources := source.NewRegistry(nil, nil)
	sp := spec.New("x", 640, 360, "yuv420p", rational.New(2, 1), rational.New(30, 1))

	_, err := BuildSegment(context.Background(), sp, 0, PipelineConfig{Sources: sources})
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestBuildSegment_UnknownSourcePropagatesResolveError(t *testing.T) {
	sources := source.NewRegistry(nil, nil)
	sp := spec.New("x", 640, 360, "yuv420p", rational.New(2, 1), rational.New(30, 1))

	root := &expr.SourceNode{Video: "does-not-exist", Index: expr.Index{Kind: expr.IndexILoc, ILoc: 0}}
	frames := make([]spec.FrameEntry, 60)
	for i := range frames {
		frames[i] = spec.FrameEntry{TS: rational.New(int64(i), 30), Expr: root}
	}
	require.NoError(t, sp.PushPart(0, frames, true))

	_, err := BuildSegment(context.Background(), sp, 0, PipelineConfig{Sources: sources})
	assert.Error(t, err)
}

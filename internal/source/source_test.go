package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

type fakeBackend struct{ path string }

func (f *fakeBackend) Materialize(ctx context.Context, desc Descriptor) (string, error) {
	return f.path, nil
}

type fakeProber struct {
	ts     []TSEntry
	w, h   int
	err    error
}

func (f *fakeProber) Probe(ctx context.Context, path string, streamIndex int) ([]TSEntry, int, int, error) {
	return f.ts, f.w, f.h, f.err
}

func mkTS(n int, kfEvery int) []TSEntry {
	out := make([]TSEntry, n)
	for i := 0; i < n; i++ {
		out[i] = TSEntry{PTS: rational.New(int64(i), 30), IsKeyframe: i%kfEvery == 0}
	}
	return out
}

func TestRegistry_RegisterAndOpen(t *testing.T) {
	prober := &fakeProber{ts: mkTS(90, 30), w: 1280, h: 720}
	reg := NewRegistry(prober, map[string]Backend{"local": &fakeBackend{path: "/tmp/fake.mp4"}})

	desc := Descriptor{ID: "cam1", StorageService: "local", StorageConfig: map[string]string{"path": "/tmp/fake.mp4"}}
	h, err := reg.Register(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, 1280, h.Descriptor.Width)
	assert.Len(t, h.TS, 90)

	again, err := reg.Open("cam1")
	require.NoError(t, err)
	assert.Same(t, h, again)
}

func TestRegistry_Open_NotFound(t *testing.T) {
	reg := NewRegistry(&fakeProber{}, nil)
	_, err := reg.Open("missing")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestValidateTS_RejectsNonIncreasing(t *testing.T) {
	ts := mkTS(5, 2)
	ts[3].PTS = ts[2].PTS // duplicate breaks strict monotonicity
	err := validateTS(ts)
	require.Error(t, err)
}

func TestValidateTS_RejectsNonKeyframeFirst(t *testing.T) {
	ts := mkTS(5, 2)
	ts[0].IsKeyframe = false
	err := validateTS(ts)
	require.Error(t, err)
}

func TestHandle_ILocToPTS_OutOfRange(t *testing.T) {
	h := &Handle{TS: mkTS(10, 5)}
	_, err := h.ILocToPTS(100)
	require.Error(t, err)
	assert.Equal(t, apperr.DecodeErr, apperr.KindOf(err))

	pts, err := h.ILocToPTS(3)
	require.NoError(t, err)
	assert.Zero(t, pts.Cmp(rational.New(3, 30)))
}

func TestHandle_NearestKeyframeAtOrBefore(t *testing.T) {
	h := &Handle{TS: mkTS(20, 5)} // keyframes at 0, 5, 10, 15
	idx, ok := h.NearestKeyframeAtOrBefore(rational.New(12, 30))
	require.True(t, ok)
	assert.Equal(t, 10, idx)

	idx, ok = h.NearestKeyframeAtOrBefore(rational.New(4, 30))
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

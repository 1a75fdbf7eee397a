package hls

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/spec"
)

func mkFrames(n int) []spec.FrameEntry {
	out := make([]spec.FrameEntry, n)
	for i := range out {
		out[i] = spec.FrameEntry{TS: rational.New(int64(i), 30)}
	}
	return out
}

func segURL(k int) string { return fmt.Sprintf("/vod/x/segment-%d.ts", k) }

func TestBuildMediaPlaylist_LiteralTagsPresent(t *testing.T) {
	sp := spec.New("x", 1280, 720, "yuv420p", rational.New(2, 1), rational.New(30, 1))
	require.NoError(t, sp.PushPart(0, mkFrames(60), true))

	text := BuildMediaPlaylist(sp, segURL)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Contains(t, lines, "#EXT-X-PLAYLIST-TYPE:EVENT")
	assert.Contains(t, lines, "#EXT-X-TARGETDURATION:2")
	assert.Contains(t, lines, "#EXT-X-VERSION:4")
	assert.Contains(t, lines, "#EXT-X-MEDIA-SEQUENCE:0")
	assert.Contains(t, lines, "#EXT-X-START:TIME-OFFSET=0")
	assert.Contains(t, lines, "/vod/x/segment-0.ts")
	assert.Equal(t, "#EXT-X-ENDLIST", lines[len(lines)-1])
}

func TestBuildMediaPlaylist_NoEndlistWhileOpen(t *testing.T) {
	sp := spec.New("x", 1280, 720, "yuv420p", rational.New(2, 1), rational.New(30, 1))
	require.NoError(t, sp.PushPart(0, mkFrames(60), false))

	text := BuildMediaPlaylist(sp, segURL)
	assert.NotContains(t, text, "#EXT-X-ENDLIST")
	assert.Contains(t, text, "/vod/x/segment-0.ts")
}

func TestBuildMediaPlaylist_SegmentCountMatchesFrontier(t *testing.T) {
	sp := spec.New("x", 1280, 720, "yuv420p", rational.New(2, 1), rational.New(30, 1))
	require.NoError(t, sp.PushPart(0, mkFrames(90), false)) // 1 full + 30 into a 2nd

	text := BuildMediaPlaylist(sp, segURL)
	assert.Equal(t, 1, strings.Count(text, "#EXTINF"))
}

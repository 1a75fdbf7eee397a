package hls

import (
	"bytes"
	"fmt"
	"math"

	"github.com/mogiioin/hls-m3u8/m3u8"

	"github.com/ixlab-labs/igni/internal/spec"
)

// BuildMasterPlaylist returns the master playlist pointing at one
// spec's media playlist, per spec §4.8's /vod/{id}/playlist.m3u8. The
// master playlist carries no byte-exact contract, so it's generated
// with the ecosystem library rather than hand-rolled, unlike the media
// playlist below.
func BuildMasterPlaylist(streamURL string, bandwidth uint32, width, height int) *bytes.Buffer {
	p := m3u8.NewMasterPlaylist()
	mp, _ := m3u8.NewMediaPlaylist(0, 1)
	p.Append(streamURL, mp, m3u8.VariantParams{
		Bandwidth:  bandwidth,
		Resolution: fmt.Sprintf("%dx%d", width, height),
	})
	return p.Encode()
}

// BuildMediaPlaylist renders the EVENT media playlist for sp, matching
// the literal tag set spec §4.8 requires exactly. hls-m3u8's
// MediaPlaylist.Encode is not used here: it unconditionally appends
// "#EXT-X-ALLOW-CACHE:NO" for EVENT playlists and only ever emits
// EXT-X-START when the offset is strictly positive, both of which
// would add or drop lines the spec's exact-bytes contract forbids,
// so the tags are composed directly.
func BuildMediaPlaylist(sp *spec.Spec, segmentURL func(k int) string) string {
	segFrames := int(sp.SegmentFrames().Num() / sp.SegmentFrames().Den())
	targetDuration := int(math.Ceil(sp.SegmentLength.Float64()))
	ready := sp.ReadySegmentCount()

	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	fmt.Fprintf(&buf, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	buf.WriteString("#EXT-X-VERSION:4\n")
	buf.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	buf.WriteString("#EXT-X-START:TIME-OFFSET=0\n")

	frameRate := sp.FrameRate.Float64()
	for k := 0; k < ready; k++ {
		frames := segFrames
		if k == ready-1 {
			n := sp.CommittedFrameCount()
			if n-k*segFrames < segFrames {
				frames = n - k*segFrames
			}
		}
		duration := float64(frames) / frameRate
		fmt.Fprintf(&buf, "#EXTINF:%.3f,\n%s\n", duration, segmentURL(k))
	}

	if sp.Closed() && ready == int(math.Ceil(float64(sp.CommittedFrameCount())/float64(segFrames))) {
		buf.WriteString("#EXT-X-ENDLIST\n")
	}
	return buf.String()
}

package source

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ixlab-labs/igni/internal/rational"
)

// GoCVProber probes a source's timestamp table with gocv.VideoCapture,
// reading CAP_PROP_POS_MSEC per frame. Keyframes are not read from the
// codec: is_keyframe is synthesized from KeyframeInterval, and frame 0
// is always a keyframe.
//
// Open Question (spec §9, "CAP_PROP_POS_MSEC ... within two frame
// durations"): this implementation treats CAP_PROP_POS_MSEC as
// authoritative for PTS and does not check the two-frame-duration
// bound, neither at runtime nor in this package's tests, since OpenCV's
// VideoCapture gives no stronger guarantee across backends.
type GoCVProber struct {
	// KeyframeInterval, when > 0, synthesizes is_keyframe=true every N
	// frames for containers/backends that don't expose per-frame GOP
	// structure through gocv — many consumer MP4/TS assets are encoded
	// with a fixed GOP, so this is a reasonable default rather than a
	// guess. When <= 0, the interval is twice the reported frame rate
	// (30 fps if the backend reports none), i.e. a 2-second GOP.
	KeyframeInterval int
}

func (p *GoCVProber) Probe(ctx context.Context, path string, streamIndex int) ([]TSEntry, int, int, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer vc.Close()

	width := int(vc.Get(gocv.VideoCaptureFrameWidth))
	height := int(vc.Get(gocv.VideoCaptureFrameHeight))
	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}

	interval := p.KeyframeInterval
	if interval <= 0 {
		interval = int(fps) * 2 // a conservative 2-second GOP assumption
		if interval <= 0 {
			interval = 1
		}
	}

	var ts []TSEntry
	mat := gocv.NewMat()
	defer mat.Close()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		default:
		}

		if ok := vc.Read(&mat); !ok || mat.Empty() {
			break
		}
		msec := vc.Get(gocv.VideoCapturePosMsec)
		pts := msecToRational(msec, idx, fps)

		ts = append(ts, TSEntry{
			PTS:        pts,
			IsKeyframe: idx == 0 || idx%interval == 0,
		})
		idx++
	}

	if len(ts) == 0 {
		return nil, 0, 0, fmt.Errorf("no frames decoded from %s", path)
	}
	return ts, width, height, nil
}

// msecToRational converts a millisecond timestamp to an exact rational,
// falling back to the nominal frame-index*1/fps when the backend
// reports a zero or negative msec value for a frame after frame 0; a
// positive value is used as reported, even if it is not monotone.
func msecToRational(msec float64, idx int, fps float64) rational.R {
	if msec <= 0 && idx > 0 {
		return rational.New(int64(idx), 1).Mul(rational.New(1000, int64(fps*1000)))
	}
	// Represent milliseconds as an exact rational msec/1000.
	const scale = 1000000
	return rational.New(int64(msec*scale), scale*1000)
}

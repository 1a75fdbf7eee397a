package mux

import (
	"bytes"
	"context"
	"math/big"

	"github.com/asticode/go-astits"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

// videoPID and pmtPID match a single-program, video-only transport
// stream; spec §4.6 carries no audio, so one elementary stream on PID
// 256 with itself as the PCR source is sufficient, the simplest layout
// go-astits' muxer supports.
const (
	videoPID = 256
	pmtPID   = 4096
)

// NALUnit is one Annex-B access unit extracted from the encoder's
// elementary stream, tagged with the presentation/decode time and
// IDR-ness the caller computed from the frame index (spec §4.6:
// "output-frame PTS = k * (1/frame_rate); the first frame of every
// segment carries an IDR").
type NALUnit struct {
	Data    []byte
	PTS     rational.R // seconds
	IsIDR   bool
}

// MuxSegment remuxes a sequence of Annex-B access units, each already
// tagged with its presentation time, into one standalone MPEG-TS
// segment. Each segment gets its own PAT/PMT so a player can start
// decoding at any segment boundary, matching HLS's expectation that
// every .ts file is independently demuxable.
//
// PTS/DTS are both derived from the frame's own presentation time:
// with a B-frame-free encode whose only IDR is each segment's first
// frame (GopFrames tied to segment length, see EncoderConfig),
// presentation order equals decode order,
// so DTS == PTS exactly. This is the same assumption the teacher's
// Stream.transcode makes by never requesting B-frames from ffmpeg.
func MuxSegment(ctx context.Context, clockHz int64, units []NALUnit) ([]byte, error) {
	if len(units) == 0 {
		return nil, apperr.New(apperr.RenderError, "cannot mux an empty segment")
	}

	var buf bytes.Buffer
	m := astits.NewMuxer(ctx, &buf)
	if err := m.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "registering elementary stream")
	}
	m.SetPCRPID(videoPID)

	if err := m.WriteTables(); err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "writing PAT/PMT")
	}

	for i, u := range units {
		if i == 0 && !u.IsIDR {
			return nil, apperr.New(apperr.RenderError, "segment's first access unit is not an IDR")
		}

		base := toClockBase(u.PTS, clockHz)
		pcr := &astits.ClockReference{Base: base}

		_, err := m.WriteData(&astits.MuxerData{
			PID: videoPID,
			AdaptationField: &astits.PacketAdaptationField{
				RandomAccessIndicator:     u.IsIDR,
				HasPCR:                    i == 0,
				PCR:                       pcr,
			},
			PES: &astits.PESData{
				Header: &astits.PESHeader{
					StreamID: astits.StreamIDVideo,
					OptionalHeader: &astits.PESOptionalHeader{
						MarkerBits:      2,
						PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
						PTS:             &astits.ClockReference{Base: base},
					},
				},
				Data: u.Data,
			},
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.RenderError, err, "writing access unit %d", i)
		}
	}

	return buf.Bytes(), nil
}

// toClockBase converts a rational-seconds PTS into the 90kHz (or
// caller-supplied) base used by MPEG-TS clock references, rounding to
// the nearest tick rather than truncating so repeated conversions
// don't accumulate drift across a long segment.
func toClockBase(pts rational.R, clockHz int64) int64 {
	scaled := pts.MulInt(clockHz)
	num, den := scaled.Rat().Num(), scaled.Rat().Denom()
	half := new(big.Int).Rsh(den, 1)
	rounded := new(big.Int).Add(num, half)
	rounded.Quo(rounded, den)
	return rounded.Int64()
}

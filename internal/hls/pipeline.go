// Package hls implements C8: the HLS endpoint layer, routing playlist
// and segment requests and driving the C3-C6 pipeline that produces
// segment bytes on demand.
package hls

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/decode"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/filter"
	"github.com/ixlab-labs/igni/internal/mux"
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/resolve"
	"github.com/ixlab-labs/igni/internal/source"
	"github.com/ixlab-labs/igni/internal/spec"
)

// PipelineConfig carries everything the segment builder needs that
// isn't specific to one spec or one segment index.
type PipelineConfig struct {
	Sources   *source.Registry
	Pool      *decode.Pool
	Encoder   mux.EncoderConfig
	ClockHz   int64 // MPEG-TS clock rate, conventionally 90000
}

// BuildSegment runs C3 (resolve) -> C4 (decode) -> C5 (filter) -> C6
// (encode+mux) for segment k of sp, returning its MPEG-TS bytes. It
// implements spec §4.4/§4.5/§4.6 end to end and is the function
// SegmentCache.Get memoizes per (spec, k).
func BuildSegment(ctx context.Context, sp *spec.Spec, k int, cfg PipelineConfig) ([]byte, error) {
	segFrames := int(sp.SegmentFrames().Num() / sp.SegmentFrames().Den())
	if segFrames <= 0 {
		return nil, apperr.New(apperr.RenderError, "non-positive segment frame count")
	}
	start := k * segFrames
	end := start + segFrames

	roots := make([]expr.Node, 0, segFrames)
	for i := start; i < end; i++ {
		fe, ok := sp.FrameAt(i)
		if !ok {
			break // trailing partial segment on a closed spec
		}
		roots = append(roots, fe.Expr)
	}
	if len(roots) == 0 {
		return nil, apperr.New(apperr.NotFound, "segment %d has no committed frames", k)
	}

	resolved, err := resolve.Resolve(roots, cfg.Sources)
	if err != nil {
		return nil, err
	}

	handles := make(map[source.ID]*source.Handle, len(resolved.Required))
	plans := make(map[source.ID]*decode.Plan, len(resolved.Required))
	for sid, required := range resolved.Required {
		h, err := cfg.Sources.Open(sid)
		if err != nil {
			return nil, err
		}
		handles[sid] = h
		plans[sid] = decode.Build(h, required)
	}

	fm := decode.NewFrameMap()
	defer fm.Release()

	if err := cfg.Pool.DecodeAll(ctx, handles, plans, fm); err != nil {
		return nil, err
	}

	evaluator := &filter.Evaluator{Handles: cfg.Sources, Frames: fm}

	encCfg := cfg.Encoder
	encCfg.Width, encCfg.Height = sp.Width, sp.Height
	encCfg.FrameRateN, encCfg.FrameRateD = sp.FrameRate.Num(), sp.FrameRate.Den()
	encCfg.GopFrames = len(roots)

	enc, err := mux.NewRawFrameEncoder(ctx, encCfg)
	if err != nil {
		return nil, err
	}

	for _, root := range roots {
		select {
		case <-ctx.Done():
			enc.Abort()
			return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "segment %d build cancelled", k)
		default:
		}

		v, err := evaluator.Eval(root)
		if err != nil {
			enc.Abort()
			return nil, err
		}
		if !v.IsFrame {
			enc.Abort()
			return nil, apperr.New(apperr.RenderError, "segment %d: root expression is not a frame", k)
		}
		raw, convErr := matToYUV420P(v.Mat, sp.Width, sp.Height)
		if convErr != nil {
			enc.Abort()
			return nil, convErr
		}
		if err := enc.WriteFrame(raw); err != nil {
			enc.Abort()
			return nil, err
		}
	}

	annexB, err := enc.Finish()
	if err != nil {
		return nil, err
	}

	units, err := mux.SplitAccessUnits(annexB)
	if err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "segment %d: splitting encoder output", k)
	}
	if len(units) != len(roots) {
		return nil, apperr.New(apperr.RenderError, "segment %d: encoder emitted %d access units for %d frames", k, len(units), len(roots))
	}

	frameDuration := invert(sp.FrameRate)
	nalUnits := make([]mux.NALUnit, len(units))
	for i, au := range units {
		pts := frameDuration.MulInt(int64(start + i))
		var data []byte
		for _, n := range au.NALs {
			data = append(data, 0, 0, 0, 1)
			data = append(data, n...)
		}
		nalUnits[i] = mux.NALUnit{Data: data, PTS: pts, IsIDR: au.IsIDR}
	}

	return mux.MuxSegment(ctx, cfg.ClockHz, nalUnits)
}

func invert(r rational.R) rational.R {
	return rational.New(r.Den(), r.Num())
}

// matToYUV420P converts an evaluated BGR(A) frame to the planar
// yuv420p layout the encode stage's "-f rawvideo -pix_fmt yuv420p"
// input expects, mirroring Scale's own CvtColor use in internal/filter.
// It takes ownership of m and always closes it, whether or not a
// resize replaces it first; callers must not also close v.Mat.
func matToYUV420P(m gocv.Mat, width, height int) ([]byte, error) {
	if m.Cols() != width || m.Rows() != height {
		resized := gocv.NewMat()
		gocv.Resize(m, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		m.Close()
		m = resized
	}
	defer m.Close()

	yuv := gocv.NewMat()
	defer yuv.Close()
	gocv.CvtColor(m, &yuv, gocv.ColorBGRToYUVI420)
	return yuv.ToBytes(), nil
}

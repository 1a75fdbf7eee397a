// Package filter implements C5: the filter executor. Every registered
// filter from internal/expr's registry is backed by a direct gocv call
// so the output is pixel-identical to OpenCV for the same arguments
// (spec §8 property 7), the same way the teacher's Stream.transcodeArgs
// builds exact ffmpeg filter-graph strings rather than approximating
// them with a homegrown scaler.
package filter

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
)

// Value is the bottom-up evaluation result of one expression node:
// either a frame (Mat) or a data literal, mirroring expr.Node's own
// Frame/Data split (spec §3's "arguments may be frames or primitive
// data").
type Value struct {
	IsFrame bool
	Mat     gocv.Mat
	Data    *expr.DataNode
}

func frameValue(m gocv.Mat) Value { return Value{IsFrame: true, Mat: m} }
func dataValue(d *expr.DataNode) Value { return Value{IsFrame: false, Data: d} }

func (v Value) asInt() (int64, error) {
	if v.IsFrame || v.Data == nil {
		return 0, apperr.New(apperr.RenderError, "expected data value, got frame")
	}
	switch v.Data.DKind {
	case expr.DataInt:
		return v.Data.Int, nil
	case expr.DataFloat:
		return int64(v.Data.Float), nil
	default:
		return 0, apperr.New(apperr.RenderError, "expected numeric data, got kind %d", v.Data.DKind)
	}
}

func (v Value) asFloat() (float64, error) {
	if v.IsFrame || v.Data == nil {
		return 0, apperr.New(apperr.RenderError, "expected data value, got frame")
	}
	switch v.Data.DKind {
	case expr.DataFloat:
		return v.Data.Float, nil
	case expr.DataInt:
		return float64(v.Data.Int), nil
	default:
		return 0, apperr.New(apperr.RenderError, "expected numeric data, got kind %d", v.Data.DKind)
	}
}

func (v Value) asString() (string, error) {
	if v.IsFrame || v.Data == nil || v.Data.DKind != expr.DataString {
		return "", apperr.New(apperr.RenderError, "expected string data")
	}
	return v.Data.Str, nil
}

func (v Value) asBytes() ([]byte, error) {
	if v.IsFrame || v.Data == nil || v.Data.DKind != expr.DataBytes {
		return nil, apperr.New(apperr.RenderError, "expected bytes data")
	}
	return v.Data.Bytes, nil
}

func (v Value) asIntList() ([]int64, error) {
	if v.IsFrame || v.Data == nil || v.Data.DKind != expr.DataList {
		return nil, apperr.New(apperr.RenderError, "expected list data")
	}
	out := make([]int64, len(v.Data.List))
	for i, item := range v.Data.List {
		iv, err := dataValue(item).asInt()
		if err != nil {
			return nil, err
		}
		out[i] = iv
	}
	return out, nil
}

// asPoint reads a two-element [x, y] data list as an image.Point.
func (v Value) asPoint() (image.Point, error) {
	xy, err := v.asIntList()
	if err != nil || len(xy) != 2 {
		return image.Point{}, apperr.New(apperr.RenderError, "expected [x, y] point")
	}
	return image.Pt(int(xy[0]), int(xy[1])), nil
}

// asColor reads a 3- or 4-element [B, G, R(, A)] data list — the BGR(A)
// ordering spec §4.5's filter table specifies for cv2.* draw calls —
// into a color.RGBA, which is what gocv's drawing functions accept.
func (v Value) asColor() (color.RGBA, error) {
	bgra, err := v.asIntList()
	if err != nil || (len(bgra) != 3 && len(bgra) != 4) {
		return color.RGBA{}, apperr.New(apperr.RenderError, "expected BGR or BGRA color list")
	}
	a := int64(255)
	if len(bgra) == 4 {
		a = bgra[3]
	}
	return color.RGBA{R: uint8(bgra[2]), G: uint8(bgra[1]), B: uint8(bgra[0]), A: uint8(a)}, nil
}

package filter

import (
	"bytes"
	"image"
	"image/color"
	"io"

	"github.com/klauspost/compress/gzip"
	"gocv.io/x/gocv"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
)

type implFunc func(args []Value, kwargs map[string]Value) (Value, error)

// implementations backs every entry in expr.Registry with a concrete
// gocv call, grounded on the filter table in SPEC_FULL.md's C5 section.
var implementations = map[string]implFunc{
	"Scale":            implScale,
	"_black":           implBlack,
	"_inline_mat":      implInlineMat,
	"_slice_mat":       implSliceMat,
	"_slice_write_mat": implSliceWriteMat,
	"cv2.rectangle":    implRectangle,
	"cv2.circle":       implCircle,
	"cv2.line":         implLine,
	"cv2.arrowedLine":  implArrowedLine,
	"cv2.ellipse":      implEllipse,
	"cv2.polylines":    implPolylines,
	"cv2.fillPoly":     implFillPoly,
	"cv2.drawMarker":   implDrawMarker,
	"cv2.drawContours": implDrawContours,
	"cv2.putText":      implPutText,
	"cv2.addWeighted":  implAddWeighted,
}

func pixFmtToMatType(pixFmt string) gocv.MatType {
	switch pixFmt {
	case "gray", "yuv420p": // luma plane representation for internal raster ops
		return gocv.MatTypeCV8UC1
	case "rgb24", "bgr24":
		return gocv.MatTypeCV8UC3
	case "rgba", "bgra":
		return gocv.MatTypeCV8UC4
	default:
		return gocv.MatTypeCV8UC4
	}
}

// implScale resamples to width/height/pix_fmt, identity when all three
// already match (spec §4.5 table).
func implScale(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 1 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "Scale expects one frame argument")
	}
	src := args[0].Mat

	width, height := src.Cols(), src.Rows()
	if v, ok := kwargs["width"]; ok {
		w, err := v.asInt()
		if err != nil {
			return Value{}, err
		}
		width = int(w)
	}
	if v, ok := kwargs["height"]; ok {
		h, err := v.asInt()
		if err != nil {
			return Value{}, err
		}
		height = int(h)
	}

	out := gocv.NewMat()
	if width == src.Cols() && height == src.Rows() {
		src.CopyTo(&out)
	} else {
		gocv.Resize(src, &out, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	}

	if v, ok := kwargs["pix_fmt"]; ok {
		pixFmt, err := v.asString()
		if err != nil {
			return Value{}, err
		}
		converted, err := convertPixFmt(out, pixFmt)
		if err != nil {
			out.Close()
			return Value{}, err
		}
		out.Close()
		return frameValue(converted), nil
	}
	return frameValue(out), nil
}

func convertPixFmt(src gocv.Mat, pixFmt string) (gocv.Mat, error) {
	out := gocv.NewMat()
	switch pixFmt {
	case "rgb24":
		gocv.CvtColor(src, &out, gocv.ColorBGRToRGB)
	case "bgr24":
		if src.Channels() == 4 {
			gocv.CvtColor(src, &out, gocv.ColorBGRAToBGR)
		} else {
			src.CopyTo(&out)
		}
	case "rgba":
		gocv.CvtColor(src, &out, gocv.ColorBGRToRGBA)
	case "bgra":
		if src.Channels() == 3 {
			gocv.CvtColor(src, &out, gocv.ColorBGRToBGRA)
		} else {
			src.CopyTo(&out)
		}
	case "gray", "yuv420p":
		gocv.CvtColor(src, &out, gocv.ColorBGRToGray)
	default:
		out.Close()
		return gocv.Mat{}, apperr.New(apperr.RenderError, "unsupported pix_fmt %q", pixFmt)
	}
	return out, nil
}

// implBlack allocates a constant-color frame.
func implBlack(args []Value, kwargs map[string]Value) (Value, error) {
	width, err := requireInt(kwargs, "width")
	if err != nil {
		return Value{}, err
	}
	height, err := requireInt(kwargs, "height")
	if err != nil {
		return Value{}, err
	}
	pixFmt := "bgr24"
	if v, ok := kwargs["pix_fmt"]; ok {
		pixFmt, err = v.asString()
		if err != nil {
			return Value{}, err
		}
	}

	mat := gocv.NewMatWithSize(int(height), int(width), pixFmtToMatType(pixFmt))
	scalar := gocv.NewScalar(0, 0, 0, 0)
	if v, ok := kwargs["color"]; ok {
		c, err := v.asColor()
		if err != nil {
			return Value{}, err
		}
		scalar = gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), float64(c.A))
	}
	mat.SetTo(scalar)
	return frameValue(mat), nil
}

// implInlineMat decodes inline raster bytes via gocv.IMDecode, first
// gunzipping them when the compression kwarg is "gzip".
func implInlineMat(args []Value, kwargs map[string]Value) (Value, error) {
	v, ok := kwargs["data"]
	if !ok {
		return Value{}, apperr.New(apperr.RenderError, "_inline_mat missing data kwarg")
	}
	data, err := v.asBytes()
	if err != nil {
		return Value{}, err
	}
	if cv, ok := kwargs["compression"]; ok {
		if comp, err := cv.asString(); err != nil || comp != "gzip" {
			return Value{}, apperr.New(apperr.RenderError, "_inline_mat: unsupported compression")
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return Value{}, apperr.Wrap(apperr.RenderError, err, "opening gzip inline raster")
		}
		if data, err = io.ReadAll(zr); err != nil {
			return Value{}, apperr.Wrap(apperr.RenderError, err, "decompressing inline raster")
		}
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil {
		return Value{}, apperr.Wrap(apperr.RenderError, err, "decoding inline raster")
	}
	return frameValue(mat), nil
}

// implSliceMat borrows a rectangular, bounds-checked view.
func implSliceMat(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 5 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "_slice_mat expects frame,y0,y1,x0,x1")
	}
	src := args[0].Mat
	y0, y1, x0, x1, err := fourInts(args[1], args[2], args[3], args[4])
	if err != nil {
		return Value{}, err
	}
	if y0 < 0 || x0 < 0 || y1 > int64(src.Rows()) || x1 > int64(src.Cols()) || y0 >= y1 || x0 >= x1 {
		return Value{}, apperr.New(apperr.RenderError, "_slice_mat bounds out of range")
	}
	region := src.Region(image.Rect(int(x0), int(y0), int(x1), int(y1)))
	return frameValue(region), nil
}

// implSliceWriteMat returns dst with src composited into region [y0:y1, x0:x1].
func implSliceWriteMat(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 6 || !args[0].IsFrame || !args[1].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "_slice_write_mat expects dst,src,y0,y1,x0,x1")
	}
	dst, src := args[0].Mat, args[1].Mat
	y0, y1, x0, x1, err := fourInts(args[2], args[3], args[4], args[5])
	if err != nil {
		return Value{}, err
	}
	if y0 < 0 || x0 < 0 || y1 > int64(dst.Rows()) || x1 > int64(dst.Cols()) || y0 >= y1 || x0 >= x1 {
		return Value{}, apperr.New(apperr.RenderError, "_slice_write_mat bounds out of range")
	}

	out := dst.Clone()
	region := out.Region(image.Rect(int(x0), int(y0), int(x1), int(y1)))
	src.CopyTo(&region)
	region.Close()
	return frameValue(out), nil
}

func implRectangle(args []Value, kwargs map[string]Value) (Value, error) {
	img, pt1, pt2, c, thickness, err := drawArgsTwoPoints(args, kwargs)
	if err != nil {
		return Value{}, err
	}
	out := img.Clone()
	gocv.Rectangle(&out, image.Rectangle{Min: pt1, Max: pt2}, c, int(thickness))
	return frameValue(out), nil
}

func implCircle(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) < 4 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.circle expects frame,center,radius,color")
	}
	center, err := args[1].asPoint()
	if err != nil {
		return Value{}, err
	}
	radius, err := args[2].asInt()
	if err != nil {
		return Value{}, err
	}
	c, err := args[3].asColor()
	if err != nil {
		return Value{}, err
	}
	thickness, err := thicknessOf(args, 4, kwargs)
	if err != nil {
		return Value{}, err
	}
	out := args[0].Mat.Clone()
	gocv.Circle(&out, center, int(radius), c, int(thickness))
	return frameValue(out), nil
}

func implLine(args []Value, kwargs map[string]Value) (Value, error) {
	img, pt1, pt2, c, thickness, err := drawArgsTwoPoints(args, kwargs)
	if err != nil {
		return Value{}, err
	}
	out := img.Clone()
	gocv.Line(&out, pt1, pt2, c, int(thickness))
	return frameValue(out), nil
}

func implArrowedLine(args []Value, kwargs map[string]Value) (Value, error) {
	img, pt1, pt2, c, thickness, err := drawArgsTwoPoints(args, kwargs)
	if err != nil {
		return Value{}, err
	}
	out := img.Clone()
	gocv.ArrowedLine(&out, pt1, pt2, c, int(thickness))
	return frameValue(out), nil
}

// implEllipse takes all ten args positionally: unlike
// rectangle/circle/line, the original frontend always fills
// thickness/lineType/shift with their defaults rather than cascading
// an optional tail, so there is no kwargs fallback here.
func implEllipse(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 10 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.ellipse expects frame,center,axes,angle,startAngle,endAngle,color,thickness,lineType,shift")
	}
	center, err := args[1].asPoint()
	if err != nil {
		return Value{}, err
	}
	axes, err := args[2].asPoint()
	if err != nil {
		return Value{}, err
	}
	angle, err := args[3].asFloat()
	if err != nil {
		return Value{}, err
	}
	startAngle, err := args[4].asFloat()
	if err != nil {
		return Value{}, err
	}
	endAngle, err := args[5].asFloat()
	if err != nil {
		return Value{}, err
	}
	c, err := args[6].asColor()
	if err != nil {
		return Value{}, err
	}
	thickness, err := args[7].asInt()
	if err != nil {
		return Value{}, err
	}
	lineType, err := args[8].asInt()
	if err != nil {
		return Value{}, err
	}
	shift, err := args[9].asInt()
	if err != nil {
		return Value{}, err
	}
	out := args[0].Mat.Clone()
	gocv.EllipseWithParams(&out, center, axes, angle, startAngle, endAngle, c, int(thickness), gocv.LineType(lineType), int(shift))
	return frameValue(out), nil
}

func implPolylines(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 4 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.polylines expects frame,pts,isClosed,color")
	}
	pts, err := pointsFromNestedList(args[1])
	if err != nil {
		return Value{}, err
	}
	isClosed, err := args[2].asInt()
	if err != nil {
		return Value{}, err
	}
	c, err := args[3].asColor()
	if err != nil {
		return Value{}, err
	}
	thickness, err := thicknessOf(args, len(args), kwargs)
	if err != nil {
		return Value{}, err
	}
	pv := gocv.NewPointsVectorFromPoints(pts)
	defer pv.Close()
	out := args[0].Mat.Clone()
	gocv.Polylines(&out, pv, isClosed != 0, c, int(thickness))
	return frameValue(out), nil
}

func implFillPoly(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 3 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.fillPoly expects frame,pts,color")
	}
	pts, err := pointsFromNestedList(args[1])
	if err != nil {
		return Value{}, err
	}
	c, err := args[2].asColor()
	if err != nil {
		return Value{}, err
	}
	pv := gocv.NewPointsVectorFromPoints(pts)
	defer pv.Close()
	out := args[0].Mat.Clone()
	gocv.FillPoly(&out, pv, c)
	return frameValue(out), nil
}

func implDrawMarker(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) < 3 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.drawMarker expects frame,position,color")
	}
	position, err := args[1].asPoint()
	if err != nil {
		return Value{}, err
	}
	c, err := args[2].asColor()
	if err != nil {
		return Value{}, err
	}
	markerType := gocv.MarkerCross
	if v, ok := kwargs["markerType"]; ok {
		mt, err := v.asInt()
		if err != nil {
			return Value{}, err
		}
		markerType = gocv.MarkerType(mt)
	}
	markerSize := int64(20)
	if v, ok := kwargs["markerSize"]; ok {
		markerSize, err = v.asInt()
		if err != nil {
			return Value{}, err
		}
	}
	thickness, err := thicknessOf(args, len(args), kwargs)
	if err != nil {
		return Value{}, err
	}
	out := args[0].Mat.Clone()
	gocv.DrawMarker(&out, position, c, markerType, int(markerSize), int(thickness), gocv.LineAA)
	return frameValue(out), nil
}

func implDrawContours(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 5 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.drawContours expects frame,contours,contourIdx,color,thickness")
	}
	pts, err := pointsFromNestedList(args[1])
	if err != nil {
		return Value{}, err
	}
	contourIdx, err := args[2].asInt()
	if err != nil {
		return Value{}, err
	}
	c, err := args[3].asColor()
	if err != nil {
		return Value{}, err
	}
	thickness, err := args[4].asInt()
	if err != nil {
		return Value{}, err
	}
	pv := gocv.NewPointsVectorFromPoints(pts)
	defer pv.Close()
	out := args[0].Mat.Clone()
	gocv.DrawContours(&out, pv, int(contourIdx), c, int(thickness))
	return frameValue(out), nil
}

func implPutText(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) < 6 || !args[0].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.putText expects frame,text,org,fontFace,fontScale,color")
	}
	text, err := args[1].asString()
	if err != nil {
		return Value{}, err
	}
	org, err := args[2].asPoint()
	if err != nil {
		return Value{}, err
	}
	fontFace, err := args[3].asInt()
	if err != nil {
		return Value{}, err
	}
	fontScale, err := args[4].asFloat()
	if err != nil {
		return Value{}, err
	}
	c, err := args[5].asColor()
	if err != nil {
		return Value{}, err
	}
	thickness, err := thicknessOf(args, 6, kwargs)
	if err != nil {
		return Value{}, err
	}
	lineType, err := trailingInt(args, 7, kwargs, "lineType", int64(gocv.LineAA))
	if err != nil {
		return Value{}, err
	}
	bottomLeftOriginInt, err := trailingInt(args, 8, kwargs, "bottomLeftOrigin", 0)
	if err != nil {
		return Value{}, err
	}
	out := args[0].Mat.Clone()
	gocv.PutTextWithParams(&out, text, org, gocv.HersheyFont(fontFace), fontScale, c, int(thickness), gocv.LineType(lineType), bottomLeftOriginInt != 0)
	return frameValue(out), nil
}

func implAddWeighted(args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 5 || !args[0].IsFrame || !args[2].IsFrame {
		return Value{}, apperr.New(apperr.RenderError, "cv2.addWeighted expects src1,alpha,src2,beta,gamma")
	}
	alpha, err := args[1].asFloat()
	if err != nil {
		return Value{}, err
	}
	beta, err := args[3].asFloat()
	if err != nil {
		return Value{}, err
	}
	gamma, err := args[4].asFloat()
	if err != nil {
		return Value{}, err
	}
	out := gocv.NewMat()
	gocv.AddWeighted(args[0].Mat, alpha, args[2].Mat, beta, gamma, &out)
	return frameValue(out), nil
}

// --- shared helpers ---

func requireInt(kwargs map[string]Value, key string) (int64, error) {
	v, ok := kwargs[key]
	if !ok {
		return 0, apperr.New(apperr.RenderError, "missing required kwarg %q", key)
	}
	return v.asInt()
}

// thicknessOf reads the optional thickness value, which the original
// frontend appends as a trailing positional arg (args[idx]) but which
// a caller may also pass as a "thickness" kwarg; positional wins when
// both are present, matching the original's own call signature.
func thicknessOf(args []Value, idx int, kwargs map[string]Value) (int64, error) {
	return trailingInt(args, idx, kwargs, "thickness", 1)
}

// trailingInt generalizes thicknessOf to any cascaded optional param:
// read args[idx] if the caller supplied that many positional args,
// else fall back to the kwarg, else the default.
func trailingInt(args []Value, idx int, kwargs map[string]Value, key string, def int64) (int64, error) {
	if idx < len(args) {
		return args[idx].asInt()
	}
	if v, ok := kwargs[key]; ok {
		return v.asInt()
	}
	return def, nil
}

func fourInts(a, b, c, d Value) (int64, int64, int64, int64, error) {
	av, err := a.asInt()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	bv, err := b.asInt()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	cv, err := c.asInt()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	dv, err := d.asInt()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return av, bv, cv, dv, nil
}

// drawArgsTwoPoints reads the common frame,pt1,pt2,color signature
// shared by rectangle/line/arrowedLine, plus the thickness kwarg.
func drawArgsTwoPoints(args []Value, kwargs map[string]Value) (gocv.Mat, image.Point, image.Point, color.RGBA, int64, error) {
	if len(args) < 4 || !args[0].IsFrame {
		return gocv.Mat{}, image.Point{}, image.Point{}, color.RGBA{}, 0, apperr.New(apperr.RenderError, "expected frame,pt1,pt2,color")
	}
	pt1, err := args[1].asPoint()
	if err != nil {
		return gocv.Mat{}, image.Point{}, image.Point{}, color.RGBA{}, 0, err
	}
	pt2, err := args[2].asPoint()
	if err != nil {
		return gocv.Mat{}, image.Point{}, image.Point{}, color.RGBA{}, 0, err
	}
	c, err := args[3].asColor()
	if err != nil {
		return gocv.Mat{}, image.Point{}, image.Point{}, color.RGBA{}, 0, err
	}
	thickness, err := thicknessOf(args, 4, kwargs)
	if err != nil {
		return gocv.Mat{}, image.Point{}, image.Point{}, color.RGBA{}, 0, err
	}
	return args[0].Mat, pt1, pt2, c, thickness, nil
}

func pointsFromNestedList(v Value) ([][]image.Point, error) {
	if v.IsFrame || v.Data == nil || v.Data.DKind != expr.DataList {
		return nil, apperr.New(apperr.RenderError, "expected nested point list")
	}
	polys := make([][]image.Point, len(v.Data.List))
	for i, poly := range v.Data.List {
		pv := dataValue(poly)
		if pv.Data == nil || pv.Data.DKind != expr.DataList {
			return nil, apperr.New(apperr.RenderError, "expected list of points per polygon")
		}
		pts := make([]image.Point, len(pv.Data.List))
		for j, pt := range pv.Data.List {
			xy := dataValue(pt)
			pair, err := xy.asIntList()
			if err != nil || len(pair) != 2 {
				return nil, apperr.New(apperr.RenderError, "expected [x, y] point")
			}
			pts[j] = image.Pt(int(pair[0]), int(pair[1]))
		}
		polys[i] = pts
	}
	return polys, nil
}

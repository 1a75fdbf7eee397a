package filter

import (
	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/decode"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/source"
)

// SourceHandles is the subset of source.Registry the evaluator needs
// to translate a Source leaf's ILoc/IT index back into the PTS key
// that C4 used when populating the frame map.
type SourceHandles interface {
	Open(id source.ID) (*source.Handle, error)
}

// Evaluator evaluates one expression tree bottom-up against a
// pre-populated frame map, per spec §4.5. Evaluation of a single tree
// is single-threaded, and the caller (internal/hls's segment builder)
// evaluates a segment's frames one after another, not in parallel.
type Evaluator struct {
	Handles SourceHandles
	Frames  *decode.FrameMap
}

// maxEvalDepth mirrors the decoder's own bounded-depth walk (spec §9).
const maxEvalDepth = 64

// Eval evaluates n and every descendant, returning the resulting Value.
// A filter failure aborts evaluation immediately per spec §4.5's
// "a filter failure fails the whole segment" error policy — the caller
// is expected to treat any returned error as fatal for the whole
// segment, not just this one frame.
func (e *Evaluator) Eval(n expr.Node) (Value, error) {
	return e.eval(n, 0)
}

func (e *Evaluator) eval(n expr.Node, depth int) (Value, error) {
	if depth > maxEvalDepth {
		return Value{}, apperr.New(apperr.RenderError, "expression depth exceeds %d during evaluation", maxEvalDepth)
	}
	switch v := n.(type) {
	case *expr.DataNode:
		return dataValue(v), nil
	case *expr.SourceNode:
		return e.evalSource(v)
	case *expr.FilterNode:
		return e.evalFilter(v, depth)
	default:
		return Value{}, apperr.New(apperr.RenderError, "unknown expression node type")
	}
}

func (e *Evaluator) evalSource(s *expr.SourceNode) (Value, error) {
	h, err := e.Handles.Open(source.ID(s.Video))
	if err != nil {
		return Value{}, err
	}

	var pts = s.Index.IT
	if s.Index.Kind == expr.IndexILoc {
		p, err := h.ILocToPTS(s.Index.ILoc)
		if err != nil {
			return Value{}, err
		}
		pts = p
	}

	mat, ok := e.Frames.Get(source.ID(s.Video), pts)
	if !ok {
		return Value{}, apperr.New(apperr.RenderError, "frame map missing (%s, %s): decode planning bug", s.Video, pts.String())
	}
	// Evaluators mutate frames in place (e.g. cv2.rectangle draws onto
	// its first arg); clone so the shared frame map stays pristine for
	// any other tree referencing the same (source, pts) this segment.
	return frameValue(mat.Clone()), nil
}

func (e *Evaluator) evalFilter(f *expr.FilterNode, depth int) (Value, error) {
	spec, ok := expr.Lookup(f.Name)
	if !ok {
		return Value{}, apperr.New(apperr.RenderError, "filter %q not registered", f.Name)
	}

	args := make([]Value, len(f.Args))
	for i, a := range f.Args {
		v, err := e.eval(a, depth+1)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}

	kwargs := make(map[string]Value, len(f.Kwargs))
	for k, a := range f.Kwargs {
		v, err := e.eval(a, depth+1)
		if err != nil {
			return Value{}, err
		}
		kwargs[k] = v
	}

	impl, ok := implementations[f.Name]
	if !ok {
		return Value{}, apperr.New(apperr.RenderError, "filter %q has no evaluator implementation", f.Name)
	}
	out, err := impl(args, kwargs)
	if err != nil {
		return Value{}, apperr.Wrap(apperr.RenderError, err, "filter %q failed", f.Name)
	}
	_ = spec.OutKind
	return out, nil
}

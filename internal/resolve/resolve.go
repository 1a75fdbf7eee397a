// Package resolve implements C3: the dependency resolver. It walks a
// batch of frame-expression roots (one per output frame of a segment)
// and enumerates, per source, the sorted-unique rational PTS values
// that decoding must produce before C5 can evaluate the trees.
package resolve

import (
	"sort"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/source"
)

// SourceHandles resolves a source id to its frozen timestamp table,
// satisfied by *source.Registry in production and a stub in tests.
type SourceHandles interface {
	Open(id source.ID) (*source.Handle, error)
}

// Result is the dependency resolver's contract output: per source, a
// sorted-unique list of required PTS values (spec §4.3).
type Result struct {
	Required map[source.ID][]rational.R
}

// Resolve walks every root and collects SourceLeaf dependencies,
// translating ILoc indices to PTS via each source's ts-table so
// downstream planning (C4) works in a single coordinate system.
func Resolve(roots []expr.Node, handles SourceHandles) (*Result, error) {
	leaves := make(map[source.ID]map[string]rational.R) // dedup by String() key

	var walk func(n expr.Node, depth int) error
	walk = func(n expr.Node, depth int) error {
		if depth > 64 {
			return apperr.New(apperr.DecodeErr, "expression depth exceeds 64 during resolution")
		}
		switch v := n.(type) {
		case *expr.SourceNode:
			h, err := handles.Open(source.ID(v.Video))
			if err != nil {
				return err
			}
			var pts rational.R
			switch v.Index.Kind {
			case expr.IndexILoc:
				p, err := h.ILocToPTS(v.Index.ILoc)
				if err != nil {
					return err
				}
				pts = p
			case expr.IndexIT:
				pts = v.Index.IT
			}
			set, ok := leaves[source.ID(v.Video)]
			if !ok {
				set = make(map[string]rational.R)
				leaves[source.ID(v.Video)] = set
			}
			set[pts.String()] = pts
			return nil
		case *expr.FilterNode:
			for _, a := range v.Args {
				if err := walk(a, depth+1); err != nil {
					return err
				}
			}
			for _, a := range v.Kwargs {
				if err := walk(a, depth+1); err != nil {
					return err
				}
			}
			return nil
		case *expr.DataNode:
			return nil
		default:
			return nil
		}
	}

	for _, root := range roots {
		if err := walk(root, 0); err != nil {
			return nil, err
		}
	}

	out := &Result{Required: make(map[source.ID][]rational.R, len(leaves))}
	for sid, set := range leaves {
		list := make([]rational.R, 0, len(set))
		for _, pts := range set {
			list = append(list, pts)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Cmp(list[j]) < 0 })
		out.Required[sid] = list
	}
	return out, nil
}

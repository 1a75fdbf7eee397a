package expr

import (
	"encoding/json"
	"fmt"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

// maxWalkDepth bounds the nested-form walk; the wire format doesn't
// forbid cycles on its own, so both decoders reject depth > 64 (spec's
// "Cyclic / self-referential expressions" edge case).
const maxWalkDepth = 64

// wireNode mirrors the nested JSON tags from spec §3/§4.1:
// Filter/Source/Data, with ILoc/IT as the Source index variants and
// String/Int/Float/Bool/List/Bytes as the Data wrappers. A "Frame" tag
// is not decoded; a node carrying only that tag is rejected.
type wireNode struct {
	Filter *wireFilter  `json:"Filter,omitempty"`
	Source *wireSource  `json:"Source,omitempty"`
	Data   *wireData    `json:"Data,omitempty"`
}

type wireFilter struct {
	Name   string              `json:"name"`
	Args   []wireNode          `json:"args"`
	Kwargs map[string]wireNode `json:"kwargs"`
}

type wireSource struct {
	Video string        `json:"video"`
	ILoc  *int64        `json:"ILoc,omitempty"`
	IT    *[2]int64     `json:"IT,omitempty"`
}

type wireData struct {
	String *string     `json:"String,omitempty"`
	Int    *int64      `json:"Int,omitempty"`
	Float  *float64    `json:"Float,omitempty"`
	Bool   *bool       `json:"Bool,omitempty"`
	List   []wireData  `json:"List,omitempty"`
	Bytes  []byte      `json:"Bytes,omitempty"`
}

// DecodeJSON parses the nested-tree JSON form of a single frame
// expression (spec §4.1's "Parse JSON ... form").
func DecodeJSON(raw []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, apperr.New(apperr.DecodeErr, "malformed expression json: %v", err)
	}
	return decodeWireNode(&w, 0)
}

// DecodeJSONBatch parses the "frame_exprs" array form used when pushing
// several frame expressions in one request.
func DecodeJSONBatch(raw []byte) ([]Node, error) {
	var ws []wireNode
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, apperr.New(apperr.DecodeErr, "malformed expression batch json: %v", err)
	}
	out := make([]Node, len(ws))
	for i := range ws {
		n, err := decodeWireNode(&ws[i], 0)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func decodeWireNode(w *wireNode, depth int) (Node, error) {
	if depth > maxWalkDepth {
		return nil, apperr.New(apperr.DecodeErr, "expression depth exceeds %d", maxWalkDepth)
	}
	switch {
	case w.Source != nil:
		return decodeWireSource(w.Source)
	case w.Data != nil:
		return decodeWireData(w.Data)
	case w.Filter != nil:
		return decodeWireFilter(w.Filter, depth)
	default:
		return nil, apperr.New(apperr.DecodeErr, "expression node carries none of Source/Data/Filter")
	}
}

func decodeWireSource(s *wireSource) (Node, error) {
	var idx Index
	switch {
	case s.ILoc != nil:
		idx = Index{Kind: IndexILoc, ILoc: *s.ILoc}
	case s.IT != nil:
		idx = Index{Kind: IndexIT, IT: rational.New(s.IT[0], s.IT[1])}
	default:
		return nil, apperr.New(apperr.DecodeErr, "source node missing ILoc/IT index")
	}
	return &SourceNode{Video: SourceID(s.Video), Index: idx}, nil
}

func decodeWireData(d *wireData) (*DataNode, error) {
	switch {
	case d.String != nil:
		return &DataNode{DKind: DataString, Str: *d.String}, nil
	case d.Int != nil:
		return &DataNode{DKind: DataInt, Int: *d.Int}, nil
	case d.Float != nil:
		return &DataNode{DKind: DataFloat, Float: *d.Float}, nil
	case d.Bool != nil:
		return &DataNode{DKind: DataBool, Bool: *d.Bool}, nil
	case d.Bytes != nil:
		return &DataNode{DKind: DataBytes, Bytes: d.Bytes}, nil
	case d.List != nil:
		items := make([]*DataNode, len(d.List))
		for i := range d.List {
			item, err := decodeWireData(&d.List[i])
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return &DataNode{DKind: DataList, List: items}, nil
	default:
		return nil, apperr.New(apperr.DecodeErr, "empty Data node")
	}
}

func decodeWireFilter(f *wireFilter, depth int) (Node, error) {
	spec, ok := Lookup(f.Name)
	if !ok {
		return nil, apperr.New(apperr.DecodeErr, "unknown filter %q", f.Name)
	}
	if !spec.arityInRange(len(f.Args)) {
		return nil, apperr.New(apperr.DecodeErr, "filter %q expects %d..%d args, got %d", f.Name, spec.Arity, spec.MaxArity, len(f.Args))
	}
	args := make([]Node, len(f.Args))
	for i := range f.Args {
		n, err := decodeWireNode(&f.Args[i], depth+1)
		if err != nil {
			return nil, err
		}
		if spec.ArgKinds != nil && i < len(spec.ArgKinds) {
			if err := checkArgKind(f.Name, i, spec.ArgKinds[i], n); err != nil {
				return nil, err
			}
		}
		args[i] = n
	}
	var kwargs map[string]Node
	if len(f.Kwargs) > 0 {
		kwargs = make(map[string]Node, len(f.Kwargs))
		for k, v := range f.Kwargs {
			if _, known := spec.KwargKinds[k]; !known {
				return nil, apperr.New(apperr.DecodeErr, "filter %q: unknown kwarg %q", f.Name, k)
			}
			n, err := decodeWireNode(&v, depth+1)
			if err != nil {
				return nil, err
			}
			kwargs[k] = n
		}
	}
	return &FilterNode{Name: f.Name, Args: args, Kwargs: kwargs}, nil
}

func checkArgKind(filterName string, pos int, want ArgKind, got Node) error {
	if want == ArgAny {
		return nil
	}
	switch want {
	case ArgFrame:
		if got.Kind() == KindData {
			return apperr.New(apperr.DecodeErr, "filter %q arg %d: expected frame, got data", filterName, pos)
		}
	case ArgData:
		if got.Kind() != KindData {
			return apperr.New(apperr.DecodeErr, "filter %q arg %d: expected data, got %s", filterName, pos, kindName(got.Kind()))
		}
	}
	return nil
}

func kindName(k NodeKind) string {
	switch k {
	case KindSource:
		return "source"
	case KindFilter:
		return "filter"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

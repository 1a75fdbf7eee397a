// Package expr implements C1: the frame-expression model and both wire
// decoders (nested JSON and the compact pool-based block format) from
// spec §3/§4.1.
package expr

import "github.com/ixlab-labs/igni/internal/rational"

// SourceID identifies a registered source video.
type SourceID string

// NodeKind distinguishes the three expression variants from spec §3.
type NodeKind int

const (
	KindSource NodeKind = iota
	KindFilter
	KindData
)

// Node is any node in a frame-expression tree: a Source leaf, a Filter
// application, or a Data literal.
type Node interface {
	Kind() NodeKind
}

// IndexKind selects how a Source leaf addresses its source's frames.
type IndexKind int

const (
	IndexILoc IndexKind = iota
	IndexIT
)

// Index is the ILoc(i) | IT(t) variant from spec §3.
type Index struct {
	Kind IndexKind
	ILoc int64
	IT   rational.R
}

// SourceNode decodes a source frame by integer index or rational time.
type SourceNode struct {
	Video SourceID
	Index Index
}

func (*SourceNode) Kind() NodeKind { return KindSource }

// FilterNode applies a registered filter to frame and/or data arguments.
type FilterNode struct {
	Name   string
	Args   []Node
	Kwargs map[string]Node
}

func (*FilterNode) Kind() NodeKind { return KindFilter }

// DataKind enumerates the primitive data wrapper tags from spec §6.
type DataKind int

const (
	DataBool DataKind = iota
	DataInt
	DataFloat
	DataString
	DataList
	DataBytes
)

// DataNode is a Data leaf: bool|int|float|string|list|bytes.
type DataNode struct {
	DKind  DataKind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []*DataNode
	Bytes  []byte
}

func (*DataNode) Kind() NodeKind { return KindData }

// FrameExpr is a Node that evaluates to a frame: a SourceNode, or a
// FilterNode whose registered out-kind is "frame".
type FrameExpr = Node

// SourceLeaf is a resolved (source, pts) dependency, the output of C3.
type SourceLeaf struct {
	Video SourceID
	PTS   rational.R
}

package expr

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

// Compact block wire layout (spec §3/§4.1):
//
// Envelope: one flags byte followed by the payload.
//   bit 0 set  -> payload is gzip-compressed JSON of a compactBlock
//   bit 0 clear -> payload is raw JSON of a compactBlock
//
// compactBlock carries four pools (functions, literals, sources,
// kwarg_keys) plus a flat exprs array of packed 64-bit words. Each
// word's upper 16 bits select the node kind; the remaining 48 bits
// split into two 24-bit fields, primaryIdx and extraIdx, whose meaning
// depends on the kind:
//
//   dataWord:   primaryIdx = index into Literals (a Data value)
//   sourceWord: primaryIdx = index into Sources (video id)
//               extraIdx   = index into Literals (an index descriptor)
//   filterWord: primaryIdx = index into Functions (filter name)
//               extraIdx   = index into FilterSpans (argument/kwarg span)
//
// FilterSpans point into flat ArgRefs ([]uint32 indices into Exprs) and
// KwargRefs ([]compactKwargRef), giving each FILTER word its variable
// length argument list without needing more than 48 bits in the word
// itself — this is the "argument-span pointer" indirection spec §3
// alludes to.
const (
	wordKindShift = 48
	wordIdxBits   = 24
	wordIdxMask   = (1 << wordIdxBits) - 1
)

type compactWordKind uint16

const (
	wordData compactWordKind = iota
	wordSource
	wordFilter
)

func packWord(kind compactWordKind, primary, extra uint32) uint64 {
	return uint64(kind)<<wordKindShift | uint64(primary&wordIdxMask)<<wordIdxBits | uint64(extra&wordIdxMask)
}

func unpackWord(w uint64) (kind compactWordKind, primary, extra uint32) {
	kind = compactWordKind(w >> wordKindShift)
	primary = uint32((w >> wordIdxBits) & wordIdxMask)
	extra = uint32(w & wordIdxMask)
	return
}

// compactLiteral is one entry of the Literals pool: either a Data value
// or a Source index descriptor (ILoc/IT), tagged by Kind.
type compactLiteral struct {
	Kind string    `json:"kind"`
	Data *wireData `json:"data,omitempty"`
	ILoc *int64    `json:"iloc,omitempty"`
	IT   *[2]int64 `json:"it,omitempty"`
}

type compactFilterSpan struct {
	ArgStart   uint32 `json:"arg_start"`
	ArgLen     uint32 `json:"arg_len"`
	KwargStart uint32 `json:"kwarg_start"`
	KwargLen   uint32 `json:"kwarg_len"`
}

type compactKwargRef struct {
	KeyIdx  uint32 `json:"key_idx"`
	ExprIdx uint32 `json:"expr_idx"`
}

type compactBlock struct {
	Functions   []string            `json:"functions"`
	Literals    []compactLiteral    `json:"literals"`
	Sources     []string            `json:"sources"`
	KwargKeys   []string            `json:"kwarg_keys"`
	Exprs       []uint64            `json:"exprs"`
	FilterSpans []compactFilterSpan `json:"filter_spans"`
	ArgRefs     []uint32            `json:"arg_refs"`
	KwargRefs   []compactKwargRef   `json:"kwarg_refs"`
	FrameExprs  []uint32            `json:"frame_exprs"`
}

const envelopeGzipBit = 1 << 0

// DecodeCompact implements the compact-block decode path: "decompress
// if envelope declares gzip; validate that all pool indices in exprs
// are in range; walk frame_exprs treating each root as an expression;
// reify into the in-memory tree by depth-first expansion" (spec §4.1).
func DecodeCompact(raw []byte) ([]Node, error) {
	if len(raw) < 1 {
		return nil, apperr.New(apperr.DecodeErr, "empty compact block envelope")
	}
	flags := raw[0]
	body := raw[1:]

	if flags&envelopeGzipBit != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, err, "corrupt gzip envelope")
		}
		defer zr.Close()
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, err, "gzip stream error")
		}
		body = decompressed
	}

	var blk compactBlock
	if err := json.Unmarshal(body, &blk); err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, err, "malformed compact block")
	}

	d := &compactDecoder{blk: &blk, memo: make(map[uint32]Node, len(blk.Exprs))}
	if err := d.validateRanges(); err != nil {
		return nil, err
	}

	out := make([]Node, len(blk.FrameExprs))
	for i, rootIdx := range blk.FrameExprs {
		n, err := d.expand(rootIdx, 0)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

type compactDecoder struct {
	blk  *compactBlock
	memo map[uint32]Node
}

func (d *compactDecoder) validateRanges() error {
	nf, nl, ns, nk, ne := len(d.blk.Functions), len(d.blk.Literals), len(d.blk.Sources), len(d.blk.KwargKeys), len(d.blk.Exprs)
	for _, w := range d.blk.Exprs {
		kind, primary, extra := unpackWord(w)
		switch kind {
		case wordData:
			if int(primary) >= nl {
				return apperr.New(apperr.DecodeErr, "data word literal index %d out of range (%d literals)", primary, nl)
			}
		case wordSource:
			if int(primary) >= ns {
				return apperr.New(apperr.DecodeErr, "source word source index %d out of range (%d sources)", primary, ns)
			}
			if int(extra) >= nl {
				return apperr.New(apperr.DecodeErr, "source word index-descriptor %d out of range (%d literals)", extra, nl)
			}
		case wordFilter:
			if int(primary) >= nf {
				return apperr.New(apperr.DecodeErr, "filter word function index %d out of range (%d functions)", primary, nf)
			}
			if int(extra) >= len(d.blk.FilterSpans) {
				return apperr.New(apperr.DecodeErr, "filter word span index %d out of range", extra)
			}
			span := d.blk.FilterSpans[extra]
			if int(span.ArgStart+span.ArgLen) > len(d.blk.ArgRefs) {
				return apperr.New(apperr.DecodeErr, "filter arg span out of range")
			}
			for _, ai := range d.blk.ArgRefs[span.ArgStart : span.ArgStart+span.ArgLen] {
				if int(ai) >= ne {
					return apperr.New(apperr.DecodeErr, "filter arg expr ref %d out of range (%d exprs)", ai, ne)
				}
			}
			if int(span.KwargStart+span.KwargLen) > len(d.blk.KwargRefs) {
				return apperr.New(apperr.DecodeErr, "filter kwarg span out of range")
			}
			for _, kr := range d.blk.KwargRefs[span.KwargStart : span.KwargStart+span.KwargLen] {
				if int(kr.KeyIdx) >= nk {
					return apperr.New(apperr.DecodeErr, "kwarg key ref %d out of range (%d keys)", kr.KeyIdx, nk)
				}
				if int(kr.ExprIdx) >= ne {
					return apperr.New(apperr.DecodeErr, "kwarg expr ref %d out of range (%d exprs)", kr.ExprIdx, ne)
				}
			}
		default:
			return apperr.New(apperr.DecodeErr, "unknown compact word kind %d", kind)
		}
	}
	for _, ri := range d.blk.FrameExprs {
		if int(ri) >= ne {
			return apperr.New(apperr.DecodeErr, "frame_exprs root %d out of range (%d exprs)", ri, ne)
		}
	}
	return nil
}

func (d *compactDecoder) expand(exprIdx uint32, depth int) (Node, error) {
	if depth > maxWalkDepth {
		return nil, apperr.New(apperr.DecodeErr, "compact expression depth exceeds %d", maxWalkDepth)
	}
	if n, ok := d.memo[exprIdx]; ok {
		if _, isCycle := n.(cycleSentinel); isCycle {
			return nil, apperr.New(apperr.DecodeErr, "cyclic expression at index %d", exprIdx)
		}
		return n, nil
	}
	// Placeholder breaks self-referential cycles: a re-entrant expand
	// call on an index already being expanded means the encoding
	// contains a cycle, which the wire format never forbids outright.
	d.memo[exprIdx] = cycleSentinel{}

	w := d.blk.Exprs[exprIdx]
	kind, primary, extra := unpackWord(w)

	var node Node
	var err error
	switch kind {
	case wordData:
		node, err = literalToData(&d.blk.Literals[primary])
	case wordSource:
		node, err = d.expandSource(primary, extra)
	case wordFilter:
		node, err = d.expandFilter(primary, extra, depth)
	}
	if err != nil {
		delete(d.memo, exprIdx)
		return nil, err
	}
	if _, isCycle := node.(cycleSentinel); isCycle {
		return nil, apperr.New(apperr.DecodeErr, "cyclic expression at index %d", exprIdx)
	}
	d.memo[exprIdx] = node
	return node, nil
}

// cycleSentinel marks an in-progress expansion; seeing it again means
// the compact encoding contains a cycle.
type cycleSentinel struct{}

func (cycleSentinel) Kind() NodeKind { return -1 }

func (d *compactDecoder) expandSource(sourceIdx, literalIdx uint32) (Node, error) {
	lit := d.blk.Literals[literalIdx]
	var idx Index
	switch {
	case lit.ILoc != nil:
		idx = Index{Kind: IndexILoc, ILoc: *lit.ILoc}
	case lit.IT != nil:
		idx = Index{Kind: IndexIT, IT: rational.New(lit.IT[0], lit.IT[1])}
	default:
		return nil, apperr.New(apperr.DecodeErr, "source literal missing ILoc/IT")
	}
	return &SourceNode{Video: SourceID(d.blk.Sources[sourceIdx]), Index: idx}, nil
}

func (d *compactDecoder) expandFilter(fnIdx, spanIdx uint32, depth int) (Node, error) {
	name := d.blk.Functions[fnIdx]
	spec, ok := Lookup(name)
	if !ok {
		return nil, apperr.New(apperr.DecodeErr, "unknown filter %q", name)
	}
	span := d.blk.FilterSpans[spanIdx]

	if !spec.arityInRange(int(span.ArgLen)) {
		return nil, apperr.New(apperr.DecodeErr, "filter %q expects %d..%d args, got %d", name, spec.Arity, spec.MaxArity, span.ArgLen)
	}

	args := make([]Node, span.ArgLen)
	for i := uint32(0); i < span.ArgLen; i++ {
		child, err := d.expand(d.blk.ArgRefs[span.ArgStart+i], depth+1)
		if err != nil {
			return nil, err
		}
		if spec.ArgKinds != nil && int(i) < len(spec.ArgKinds) {
			if err := checkArgKind(name, int(i), spec.ArgKinds[i], child); err != nil {
				return nil, err
			}
		}
		args[i] = child
	}

	var kwargs map[string]Node
	if span.KwargLen > 0 {
		kwargs = make(map[string]Node, span.KwargLen)
		for i := uint32(0); i < span.KwargLen; i++ {
			ref := d.blk.KwargRefs[span.KwargStart+i]
			key := d.blk.KwargKeys[ref.KeyIdx]
			if _, known := spec.KwargKinds[key]; !known {
				return nil, apperr.New(apperr.DecodeErr, "filter %q: unknown kwarg %q", name, key)
			}
			child, err := d.expand(ref.ExprIdx, depth+1)
			if err != nil {
				return nil, err
			}
			kwargs[key] = child
		}
	}
	return &FilterNode{Name: name, Args: args, Kwargs: kwargs}, nil
}

func literalToData(lit *compactLiteral) (*DataNode, error) {
	if lit.Kind != "data" || lit.Data == nil {
		return nil, apperr.New(apperr.DecodeErr, "literal is not a data value")
	}
	return decodeWireData(lit.Data)
}

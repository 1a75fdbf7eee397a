// Package spec implements C7: the per-output-video state machine that
// accepts out-of-order frame parts, advances a contiguous applied
// frontier, and tracks termination — plus the segment-build
// coalescing (SegmentCache) that sits on top of it for C8.
package spec

import (
	"sync"
	"time"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/rational"
)

// FrameEntry is one output frame inside a part: its global timestamp
// and the expression tree that produces it.
type FrameEntry struct {
	TS   rational.R
	Expr expr.Node
}

// PartRow is one pushed batch, keyed by its starting frame position.
type PartRow struct {
	Pos      int
	Frames   []FrameEntry
	Terminal bool
}

// Spec holds the full state of one declarative output video: its
// geometry/timebase descriptors plus the part map, frontier and
// termination flags from spec §4.7. All mutation goes through
// PushPart under a single per-spec lock, matching the "per-spec
// mutation serialized under a per-spec lock" concurrency rule; reads
// take the same lock's read-share.
type Spec struct {
	ID            string
	Width, Height int
	PixFmt        string
	SegmentLength rational.R
	FrameRate     rational.R

	mu          sync.RWMutex
	parts       map[int]PartRow
	seen        map[int]bool // every pos ever pushed, including absorbed ones
	committed   []FrameEntry // contiguous frames [0, frontier)
	frontier     int
	terminalPos  *int
	closed       bool
	lastActivity time.Time
}

func New(id string, width, height int, pixFmt string, segmentLength, frameRate rational.R) *Spec {
	return &Spec{
		ID:            id,
		Width:         width,
		Height:        height,
		PixFmt:        pixFmt,
		SegmentLength: segmentLength,
		FrameRate:     frameRate,
		parts:         make(map[int]PartRow),
		seen:          make(map[int]bool),
		lastActivity:  time.Now(),
	}
}

// PushPart applies the transition rules of spec §4.7 atomically: the
// whole part is accepted or none of it is, and the frontier is
// advanced as far as newly-contiguous data allows.
func (s *Spec) PushPart(pos int, frames []FrameEntry, terminal bool) error {
	if !terminal && len(frames) == 0 {
		return apperr.NewStateViolation(apperr.ErrEmptyNonTerminal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = time.Now()

	if s.terminalPos != nil && pos+len(frames) > *s.terminalPos+1 {
		return apperr.NewStateViolation(apperr.ErrPastTerminal)
	}
	if s.closed {
		return apperr.NewStateViolation(apperr.ErrTerminated)
	}
	if s.seen[pos] {
		return apperr.NewStateViolation(apperr.ErrAlreadyExists)
	}

	s.parts[pos] = PartRow{Pos: pos, Frames: frames, Terminal: terminal}
	s.seen[pos] = true

	if terminal {
		tp := pos + len(frames) - 1
		s.terminalPos = &tp
	}

	for {
		row, ok := s.parts[s.frontier]
		if !ok {
			break
		}
		s.committed = append(s.committed, row.Frames...)
		delete(s.parts, s.frontier)
		s.frontier += len(row.Frames)
	}

	if s.terminalPos != nil && s.frontier > *s.terminalPos {
		s.closed = true
	}
	return nil
}

// Frontier returns F, the next-unapplied frame position.
func (s *Spec) Frontier() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frontier
}

// Closed reports whether every declared frame has been committed.
func (s *Spec) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Terminated reports whether a terminal part has been observed, even
// if the frontier hasn't yet caught up to it.
func (s *Spec) Terminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalPos != nil
}

// IdleSince reports whether no part has been pushed for at least d,
// the input to the expiry reaper described in spec §5 ("the spec-expiry
// reaper is a background task that deletes rows whose expires_at has
// passed").
func (s *Spec) IdleSince(d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity) >= d
}

// CommittedFrameCount returns N, the count of frames guaranteed
// contiguous from position 0 — equal to the frontier at every
// observation, since frames only ever become visible by advancing it.
func (s *Spec) CommittedFrameCount() int {
	return s.Frontier()
}

// FrameAt returns the committed frame at position i, or false if i is
// not yet within the frontier.
func (s *Spec) FrameAt(i int) (FrameEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.committed) {
		return FrameEntry{}, false
	}
	return s.committed[i], true
}

// SegmentFrames is R_k = L * frame_rate from spec §3, the number of
// output frames per segment.
func (s *Spec) SegmentFrames() rational.R {
	return s.SegmentLength.Mul(s.FrameRate)
}

// SegmentReady reports whether segment k's constituent frames are all
// within the frontier (or the spec is closed and k is the trailing
// partial segment), per spec §4.8's readiness rule.
func (s *Spec) SegmentReady(k int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segFrames := segmentFramesInt(s.SegmentLength, s.FrameRate)
	if segFrames <= 0 {
		return false
	}
	if (k+1)*segFrames <= s.frontier {
		return true
	}
	if s.closed && k*segFrames < s.frontier {
		return true
	}
	return false
}

// ReadySegmentCount returns how many segments are currently listable
// in the media playlist, per spec §8 property 4: floor(F/segFrames)
// while open, ceil(N/segFrames) once closed.
func (s *Spec) ReadySegmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segFrames := segmentFramesInt(s.SegmentLength, s.FrameRate)
	if segFrames <= 0 {
		return 0
	}
	if s.closed {
		return (s.frontier + segFrames - 1) / segFrames
	}
	return s.frontier / segFrames
}

// segmentFramesInt truncates R_k to an integer frame count. A fractional
// R_k (segment_length * frame_rate not an integer) is not rejected at
// spec creation; its fractional part is dropped here.
func segmentFramesInt(segmentLength, frameRate rational.R) int {
	r := segmentLength.Mul(frameRate)
	return int(r.Num() / r.Den())
}

package decode

import (
	"context"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/source"
)

// Frame is a decoded raster buffer keyed to the source PTS it came
// from. FrameMap stores bare Mats, not Frames; the Mats it holds are
// owned by the FrameMap and freed by its Release (see Get).
type Frame struct {
	PTS rational.R
	Mat gocv.Mat
}

// FrameMap is the in-memory frame map from spec §4.4 step 4, shared
// between the decode pool (producer) and the filter executor
// (consumer), keyed by (source_id, pts).
type FrameMap struct {
	mu     sync.Mutex
	frames map[source.ID]map[string]gocv.Mat
}

func NewFrameMap() *FrameMap {
	return &FrameMap{frames: make(map[source.ID]map[string]gocv.Mat)}
}

func (fm *FrameMap) put(sid source.ID, pts rational.R, mat gocv.Mat) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	m, ok := fm.frames[sid]
	if !ok {
		m = make(map[string]gocv.Mat)
		fm.frames[sid] = m
	}
	m[pts.String()] = mat
}

// Get returns the decoded frame for (sid, pts). The returned Mat is
// owned by the FrameMap; callers must not Close it directly — use
// Release to tear the whole map down once a segment build finishes or
// is cancelled (spec §4.4: "cancellation ... decoded buffers released").
func (fm *FrameMap) Get(sid source.ID, pts rational.R) (gocv.Mat, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	m, ok := fm.frames[sid]
	if !ok {
		return gocv.Mat{}, false
	}
	mat, ok := m[pts.String()]
	return mat, ok
}

// Release closes every Mat still held by the map. Safe to call more
// than once.
func (fm *FrameMap) Release() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, m := range fm.frames {
		for _, mat := range m {
			mat.Close()
		}
	}
	fm.frames = make(map[source.ID]map[string]gocv.Mat)
}

// Pool bounds concurrent decode work across distinct sources (spec §5:
// "distinct sources are decoded in parallel up to a bound; within one
// source, decoding is serialized"). The per-source mutex models the
// stateful demuxer; the semaphore bounds cross-source parallelism.
type Pool struct {
	sem        chan struct{}
	sourceLock sync.Map // source.ID -> *sync.Mutex
}

func NewPool(maxConcurrentSources int) *Pool {
	if maxConcurrentSources < 1 {
		maxConcurrentSources = 1
	}
	return &Pool{sem: make(chan struct{}, maxConcurrentSources)}
}

func (p *Pool) lockFor(sid source.ID) *sync.Mutex {
	v, _ := p.sourceLock.LoadOrStore(sid, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// DecodeInto decodes every group of plan into fm, under the pool's
// concurrency bound. It checks ctx between groups (the "next safe
// boundary" from spec §4.4's cancellation policy, generalized from
// "between filter nodes" to "between seek groups" since no filter
// evaluation has started yet at this stage).
func (p *Pool) DecodeInto(ctx context.Context, sid source.ID, handle *source.Handle, plan *Plan, fm *FrameMap) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	lock := p.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	if len(plan.Groups) == 0 {
		return nil
	}

	vc, err := gocv.VideoCaptureFile(handle.Path())
	if err != nil {
		return apperr.Wrap(apperr.SourceOpenError, err, "opening %s for decode", sid)
	}
	defer vc.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	for _, group := range plan.Groups {
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Cancelled, ctx.Err(), "decode cancelled for source %s", sid)
		default:
		}

		if !vc.Set(gocv.VideoCapturePosFrames, float64(group.KeyframeIndex)) {
			return apperr.New(apperr.SourceOpenError, "seek to frame %d failed for source %s", group.KeyframeIndex, sid)
		}

		targetIdx := 0
		frameIdx := group.KeyframeIndex
		for targetIdx < len(group.Targets) {
			if ok := vc.Read(&mat); !ok || mat.Empty() {
				return apperr.New(apperr.SourceOpenError, "unexpected EOF decoding source %s at frame %d", sid, frameIdx)
			}
			if frameIdx >= len(handle.TS) {
				return apperr.New(apperr.SourceOpenError, "decode ran past probed length for source %s", sid)
			}
			framePTS := handle.TS[frameIdx].PTS
			if framePTS.Cmp(group.Targets[targetIdx]) == 0 {
				clone := mat.Clone()
				fm.put(sid, framePTS, clone)
				targetIdx++
			}
			frameIdx++
		}
	}
	return nil
}

// DecodeAll runs DecodeInto for every source in plans concurrently,
// bounded by the pool's semaphore, and waits for all of them. The first
// error cancels the remaining work via ctx's derived cancellation.
func (p *Pool) DecodeAll(ctx context.Context, handles map[source.ID]*source.Handle, plans map[source.ID]*Plan, fm *FrameMap) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(plans))

	for sid, plan := range plans {
		handle, ok := handles[sid]
		if !ok {
			return apperr.New(apperr.SourceOpenError, "no handle for source %s referenced by plan", sid)
		}
		wg.Add(1)
		go func(sid source.ID, handle *source.Handle, plan *Plan) {
			defer wg.Done()
			if err := p.DecodeInto(ctx, sid, handle, plan, fm); err != nil {
				select {
				case errs <- err:
					cancel()
				default:
				}
			}
		}(sid, handle, plan)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

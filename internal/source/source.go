// Package source implements C2: source registration and the
// process-wide probe cache, adapted from the teacher's
// transcoder.Manager.ffprobe and its fnv-hashed temp-dir scheme.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/rational"
)

// ID identifies a registered source video, shared with expr.SourceID.
type ID string

// TSEntry is one row of a source's frozen timestamp table: a rational
// PTS plus whether the frame at that PTS is a keyframe (spec §3).
type TSEntry struct {
	PTS       rational.R
	IsKeyframe bool
}

// Descriptor is the immutable, persisted shape of a registered source.
type Descriptor struct {
	ID             ID
	Width          int
	Height         int
	PixFmt         string
	StorageService string
	StorageConfig  map[string]string
	StreamIndex    int
}

// Handle is an opened, probed source: its descriptor plus the frozen
// timestamp table used by the resolver (C3) and decode planner (C4).
type Handle struct {
	Descriptor Descriptor
	TS         []TSEntry

	backend Backend
	path    string // local file path backing this handle, once materialized
}

func (h *Handle) Path() string { return h.path }

// Backend abstracts the storage the source bytes live in (spec §2
// treats storage as an external collaborator; this interface is the
// seam C2 uses so local files and S3 objects are opened identically).
type Backend interface {
	// Materialize ensures the source is present as a local file and
	// returns its path, downloading/caching as needed.
	Materialize(ctx context.Context, desc Descriptor) (string, error)
}

// Prober extracts a timestamp table from a materialized source file.
// Implemented with gocv.VideoCapture in probe_gocv.go.
type Prober interface {
	Probe(ctx context.Context, path string, streamIndex int) ([]TSEntry, int, int, error)
}

// Registry is the process-wide source registry and probe cache
// described in spec §4.2/§5: "the probe-cache is a process-wide
// read-mostly map guarded by a read-write lock."
type Registry struct {
	mu       sync.RWMutex
	handles  map[ID]*Handle
	backends map[string]Backend
	prober   Prober
}

func NewRegistry(prober Prober, backends map[string]Backend) *Registry {
	return &Registry{
		handles:  make(map[ID]*Handle),
		backends: backends,
		prober:   prober,
	}
}

// Register records a new source descriptor and eagerly probes it, per
// spec §4.2 ("opened once and probed to produce its timestamp table").
func (r *Registry) Register(ctx context.Context, desc Descriptor) (*Handle, error) {
	r.mu.RLock()
	if existing, ok := r.handles[desc.ID]; ok {
		r.mu.RUnlock()
		return existing, nil
	}
	r.mu.RUnlock()

	backend, ok := r.backends[desc.StorageService]
	if !ok {
		return nil, apperr.New(apperr.SourceOpenError, "unknown storage service %q", desc.StorageService)
	}

	path, err := backend.Materialize(ctx, desc)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceOpenError, err, "materializing source %s", desc.ID)
	}

	ts, w, h, err := r.prober.Probe(ctx, path, desc.StreamIndex)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceOpenError, err, "probing source %s", desc.ID)
	}
	if err := validateTS(ts); err != nil {
		return nil, apperr.Wrap(apperr.SourceOpenError, err, "source %s failed probe invariants", desc.ID)
	}
	if desc.Width == 0 {
		desc.Width = w
	}
	if desc.Height == 0 {
		desc.Height = h
	}

	handle := &Handle{Descriptor: desc, TS: ts, backend: backend, path: path}

	r.mu.Lock()
	// Another goroutine may have won the race; the probe is
	// authoritative so a second, differing probe is a hard error
	// (spec §4.2: "once recorded, sources are treated as immutable").
	if existing, ok := r.handles[desc.ID]; ok {
		r.mu.Unlock()
		same := len(existing.TS) == len(ts)
		for i := 0; same && i < len(ts); i++ {
			same = existing.TS[i].PTS.Cmp(ts[i].PTS) == 0 && existing.TS[i].IsKeyframe == ts[i].IsKeyframe
		}
		if !same {
			return nil, apperr.New(apperr.SourceOpenError, "source %s re-probed with a different timestamp table", desc.ID)
		}
		return existing, nil
	}
	r.handles[desc.ID] = handle
	r.mu.Unlock()

	return handle, nil
}

// Open returns a previously registered handle.
func (r *Registry) Open(id ID) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "source %s not registered", id)
	}
	return h, nil
}

// validateTS enforces spec §3's Source invariants: "timestamps strictly
// increasing; index 0 must be a keyframe."
func validateTS(ts []TSEntry) error {
	if len(ts) == 0 {
		return fmt.Errorf("empty timestamp table")
	}
	if !ts[0].IsKeyframe {
		return fmt.Errorf("frame 0 is not a keyframe")
	}
	for i := 1; i < len(ts); i++ {
		if ts[i].PTS.Cmp(ts[i-1].PTS) <= 0 {
			return fmt.Errorf("timestamp table not strictly increasing at index %d", i)
		}
	}
	return nil
}

// ILocToPTS translates an integer frame index into its rational PTS,
// validating range per spec §9's resolved open question ("ILoc(i) out
// of range is a hard DecodeError at push time").
func (h *Handle) ILocToPTS(i int64) (rational.R, error) {
	if i < 0 || int(i) >= len(h.TS) {
		return rational.R{}, apperr.New(apperr.DecodeErr, "ILoc(%d) out of range [0, %d)", i, len(h.TS))
	}
	return h.TS[i].PTS, nil
}

// NearestKeyframeAtOrBefore implements C4 step 1: "find the greatest
// keyframe PTS K_j <= p_j."
func (h *Handle) NearestKeyframeAtOrBefore(pts rational.R) (int, bool) {
	best := -1
	for i, e := range h.TS {
		if e.PTS.Cmp(pts) > 0 {
			break
		}
		if e.IsKeyframe {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

package hls

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/expr"
	"github.com/ixlab-labs/igni/internal/rational"
	"github.com/ixlab-labs/igni/internal/resolve"
	"github.com/ixlab-labs/igni/internal/source"
	"github.com/ixlab-labs/igni/internal/spec"
)

// Server holds everything the HTTP handlers need: the source/spec
// registries, the pipeline config for building segments, and one
// SegmentCache per spec.
type Server struct {
	Sources  *source.Registry
	Pipeline PipelineConfig

	specsMu       sync.RWMutex
	specsByID     map[string]*spec.Spec
	caches        map[string]*spec.SegmentCache
	buildDeadline func(segmentLengthSeconds float64) time.Duration
}

func NewServer(sources *source.Registry, pipeline PipelineConfig, buildDeadline func(float64) time.Duration) *Server {
	return &Server{
		Sources:       sources,
		Pipeline:      pipeline,
		specsByID:     make(map[string]*spec.Spec),
		caches:        make(map[string]*spec.SegmentCache),
		buildDeadline: buildDeadline,
	}
}

// Register wires every route spec §6 names, under the given router
// group (the caller applies auth middleware to the group).
func (s *Server) Register(r gin.IRouter) {
	r.POST("/v2/source", s.postSource)
	r.GET("/v2/source/:id", s.getSource)
	r.POST("/v2/spec", s.postSpec)
	r.GET("/v2/spec/:id", s.getSpec)
	r.POST("/v2/spec/:id/part", s.postPart)
	r.POST("/v2/spec/:id/part_block", s.postPartBlock)
	r.POST("/v2/frame", s.postFrame)

	r.GET("/vod/:id/playlist.m3u8", s.getMasterPlaylist)
	r.GET("/vod/:id/stream.m3u8", s.getMediaPlaylist)
	r.GET("/vod/:id/:segment", s.getSegment)
	r.GET("/vod/:id/status", s.getStatus)
}

// PruneIdle drops every spec untouched for at least idle, releasing its
// segment cache. Run periodically by the top-level server as the
// expiry reaper from spec §5.
func (s *Server) PruneIdle(idle time.Duration) int {
	s.specsMu.Lock()
	defer s.specsMu.Unlock()
	removed := 0
	for id, sp := range s.specsByID {
		if sp.IdleSince(idle) {
			delete(s.specsByID, id)
			delete(s.caches, id)
			removed++
		}
	}
	return removed
}

func (s *Server) lookupSpec(id string) (*spec.Spec, bool) {
	s.specsMu.RLock()
	defer s.specsMu.RUnlock()
	sp, ok := s.specsByID[id]
	return sp, ok
}

type createSourceRequest struct {
	Name           string            `json:"name" binding:"required"`
	StreamIdx      int               `json:"stream_idx"`
	StorageService string            `json:"storage_service" binding:"required"`
	StorageConfig  map[string]string `json:"storage_config"`
}

func (s *Server) postSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "invalid source request body"))
		return
	}
	desc := source.Descriptor{
		ID:             source.ID(uuid.NewString()),
		StorageService: req.StorageService,
		StorageConfig:  req.StorageConfig,
		StreamIndex:    req.StreamIdx,
	}
	handle, err := s.Sources.Register(c.Request.Context(), desc)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": handle.Descriptor.ID})
}

func (s *Server) getSource(c *gin.Context) {
	handle, err := s.Sources.Open(source.ID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	ts := make([][3]any, len(handle.TS))
	for i, e := range handle.TS {
		ts[i] = [3]any{e.PTS.Num(), e.PTS.Den(), e.IsKeyframe}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     handle.Descriptor.ID,
		"width":  handle.Descriptor.Width,
		"height": handle.Descriptor.Height,
		"ts":     ts,
	})
}

type createSpecRequest struct {
	Width            int      `json:"width" binding:"required"`
	Height           int      `json:"height" binding:"required"`
	PixFmt           string   `json:"pix_fmt"`
	VodSegmentLength [2]int64 `json:"vod_segment_length" binding:"required"`
	FrameRate        [2]int64 `json:"frame_rate" binding:"required"`
}

func (s *Server) postSpec(c *gin.Context) {
	var req createSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "invalid spec request body"))
		return
	}
	pixFmt := req.PixFmt
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	id := uuid.NewString()
	sp := spec.New(id, req.Width, req.Height, pixFmt,
		rational.New(req.VodSegmentLength[0], req.VodSegmentLength[1]),
		rational.New(req.FrameRate[0], req.FrameRate[1]))

	s.specsMu.Lock()
	s.specsByID[id] = sp
	s.caches[id] = spec.NewSegmentCache()
	s.specsMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
}

func (s *Server) getSpec(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             sp.ID,
		"frames_applied": sp.Frontier(),
		"terminated":     sp.Terminated(),
		"closed":         sp.Closed(),
		"vod_endpoint":   fmt.Sprintf("/vod/%s/playlist.m3u8", sp.ID),
	})
}

func (s *Server) postPart(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}

	var body struct {
		Pos      int               `json:"pos"`
		Terminal bool              `json:"terminal"`
		Frames   []json.RawMessage `json:"frames"` // each is [[num,den], expr]
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "invalid part request body"))
		return
	}

	entries := make([]spec.FrameEntry, len(body.Frames))
	for i, raw := range body.Frames {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "frame %d: malformed [ts, expr] pair", i))
			return
		}
		var ts [2]int64
		if err := json.Unmarshal(pair[0], &ts); err != nil {
			respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "frame %d: malformed ts", i))
			return
		}
		node, err := expr.DecodeJSON(pair[1])
		if err != nil {
			respondErr(c, err)
			return
		}
		entries[i] = spec.FrameEntry{TS: rational.New(ts[0], ts[1]), Expr: node}
	}

	if err := s.validateILocRefs(entries); err != nil {
		respondErr(c, err)
		return
	}

	if err := sp.PushPart(body.Pos, entries, body.Terminal); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// validateILocRefs enforces spec §3/§9's ingest-time invariant that
// every ILoc(i) leaf satisfies 0 <= i < |S.ts|, by resolving every
// frame's expression tree against the source registry the same way
// C3 does for segment builds — here purely for validation, discarding
// the resolved PTS lists. An out-of-range ILoc therefore fails the
// whole push_part with DecodeError instead of surfacing later as a
// 400 on segment fetch.
func (s *Server) validateILocRefs(entries []spec.FrameEntry) error {
	roots := make([]expr.Node, len(entries))
	for i, e := range entries {
		roots[i] = e.Expr
	}
	_, err := resolve.Resolve(roots, s.Sources)
	return err
}

type partBlockRequest struct {
	Pos      int  `json:"pos"`
	Terminal bool `json:"terminal"`
	Blocks   []struct {
		Frames      int    `json:"frames"`
		Compression string `json:"compression"`
		Body        []byte `json:"body"`
	} `json:"blocks"`
}

func (s *Server) postPartBlock(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}

	var req partBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "invalid part_block request body"))
		return
	}

	frameRateN := sp.FrameRate.Num()
	var allEntries []spec.FrameEntry
	for _, block := range req.Blocks {
		nodes, err := expr.DecodeCompact(block.Body)
		if err != nil {
			respondErr(c, err)
			return
		}
		for _, n := range nodes {
			pos := int64(req.Pos) + int64(len(allEntries))
			allEntries = append(allEntries, spec.FrameEntry{
				TS:   rational.New(pos, frameRateN),
				Expr: n,
			})
		}
	}

	if err := s.validateILocRefs(allEntries); err != nil {
		respondErr(c, err)
		return
	}

	if err := sp.PushPart(req.Pos, allEntries, req.Terminal); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// postFrame implements the ad-hoc single-frame render endpoint from
// spec §6 ("POST /v2/frame"): decode one compact block, push it into a
// throwaway one-frame spec, build that spec's segment 0, and return it
// as an MPEG-TS body (video/mp2t). Raw pixels are not returned.
func (s *Server) postFrame(c *gin.Context) {
	var req struct {
		Block  []byte `json:"block"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		PixFmt string `json:"pix_fmt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.DecodeErr, err, "invalid frame request body"))
		return
	}
	nodes, err := expr.DecodeCompact(req.Block)
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(nodes) != 1 {
		respondErr(c, apperr.New(apperr.DecodeErr, "expected exactly one frame expression"))
		return
	}

	tmp := spec.New("adhoc", req.Width, req.Height, req.PixFmt, rational.New(1, 1), rational.New(1, 1))
	_ = tmp.PushPart(0, []spec.FrameEntry{{TS: rational.New(0, 1), Expr: nodes[0]}}, true)

	data, err := BuildSegment(c.Request.Context(), tmp, 0, s.Pipeline)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "video/mp2t", data)
}

func (s *Server) getMasterPlaylist(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}
	buf := BuildMasterPlaylist(fmt.Sprintf("/vod/%s/stream.m3u8", sp.ID), 2_000_000, sp.Width, sp.Height)
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", buf.Bytes())
}

func (s *Server) getMediaPlaylist(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}
	text := BuildMediaPlaylist(sp, func(k int) string {
		return fmt.Sprintf("/vod/%s/segment-%d.ts", sp.ID, k)
	})
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(text))
}

func (s *Server) getSegment(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}
	var k int
	var suffix string
	if n, err := fmt.Sscanf(c.Param("segment"), "segment-%d%s", &k, &suffix); n != 2 || err != nil || suffix != ".ts" {
		respondErr(c, apperr.New(apperr.DecodeErr, "invalid segment index"))
		return
	}
	if !sp.SegmentReady(k) {
		respondErr(c, apperr.New(apperr.NotFound, "segment %d not yet ready", k))
		return
	}

	s.specsMu.RLock()
	cache := s.caches[sp.ID]
	s.specsMu.RUnlock()

	deadline := s.buildDeadline(sp.SegmentLength.Float64())
	data, err := cache.Get(c.Request.Context(), k, deadline, func(ctx context.Context, kk int) ([]byte, error) {
		return BuildSegment(ctx, sp, kk, s.Pipeline)
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "video/mp2t", data)
}

func (s *Server) getStatus(c *gin.Context) {
	sp, ok := s.lookupSpec(c.Param("id"))
	if !ok {
		respondErr(c, apperr.New(apperr.NotFound, "spec %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"closed":     sp.Closed(),
		"terminated": sp.Terminated(),
		"ready":      sp.ReadySegmentCount() > 0,
	})
}

func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.Status(err), gin.H{"status": "error", "error": err.Error()})
}

// Package server wires the HTTP engine, middleware and background
// reaper together, the role the teacher's transcoder.NewHandler(c)
// plays for go-vod: one constructor that owns every long-lived piece
// and a Start method that blocks serving traffic.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ixlab-labs/igni/internal/auth"
	"github.com/ixlab-labs/igni/internal/config"
	"github.com/ixlab-labs/igni/internal/decode"
	"github.com/ixlab-labs/igni/internal/hls"
	"github.com/ixlab-labs/igni/internal/metrics"
	"github.com/ixlab-labs/igni/internal/mux"
	"github.com/ixlab-labs/igni/internal/source"
	"github.com/ixlab-labs/igni/internal/storage"
)

// version is reported on the unauthenticated root endpoint so a
// client (like the Python igni client's __init__ probe) can confirm
// it's talking to an igni server before doing anything else.
const version = "0.1.0"

// Server owns the gin engine plus every long-lived collaborator.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	engine  *gin.Engine
	httpSrv *http.Server
	metrics *metrics.Registry
	hls     *hls.Server
}

// New builds every collaborator (source registry, decode pool, HLS
// handlers) and registers routes, mirroring the teacher's
// NewHandler's one-shot wiring of Manager + ServeMux.
func New(cfg *config.Config, log *zap.Logger) *Server {
	backends := map[string]source.Backend{
		"local": &storage.Local{BaseDir: cfg.TempDir},
		"s3":    storage.NewS3(cfg.TempDir, cfg.S3Region),
	}
	prober := &source.GoCVProber{KeyframeInterval: 1}
	sources := source.NewRegistry(prober, backends)
	pool := decode.NewPool(cfg.MaxConcurrentSources)

	pipeline := hls.PipelineConfig{
		Sources: sources,
		Pool:    pool,
		Encoder: mux.EncoderConfig{
			FFmpegPath: cfg.FFmpeg,
			Codec:      cfg.Encoder,
			CodecOpts:  cfg.EncoderOpts,
		},
		ClockHz: 90000,
	}

	hlsServer := hls.NewServer(sources, pipeline, cfg.SegmentBuildDeadline)
	reg := metrics.NewRegistry()

	s := &Server{cfg: cfg, log: log, metrics: reg, hls: hlsServer}
	s.engine = s.buildEngine()
	s.httpSrv = &http.Server{Addr: cfg.Bind, Handler: s.engine}
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginZapLogger(s.log))

	r.GET("/metrics", s.metrics.Handler())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "igni-server "+version) })

	secured := r.Group("/")
	if s.cfg.JWTSecret != "" {
		secured.Use(auth.Middleware(auth.NewVerifier(s.cfg.JWTSecret)))
	}
	s.hls.Register(secured)

	return r
}

// ginZapLogger adapts zap as gin's request logger, the logging stack
// the teacher carries regardless of which functional layers a given
// deployment enables.
func ginZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully, matching the teacher's signal-handling main loop
// generalized into a context-driven lifecycle.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Bind))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go s.reapIdleSpecs(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// reapIdleSpecs mirrors the teacher's background idle-stream reaper
// (transcoder.Manager's periodic sweep), generalized from one stream
// timeout to spec_idle_time.
func (s *Server) reapIdleSpecs(ctx context.Context) {
	idle := time.Duration(s.cfg.SpecIdleTime) * time.Second
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.hls.PruneIdle(idle); n > 0 {
				s.log.Info("reaped idle specs", zap.Int("count", n))
			}
		}
	}
}

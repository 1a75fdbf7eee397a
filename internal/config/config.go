// Package config carries the server-wide configuration, adapted from the
// teacher go-vod project's transcoder.Config: the same shape (auto-detected
// binaries, temp dir, concurrency knobs, idle timeouts) but loaded through
// viper instead of a bare encoding/json file read, matching the config
// pattern used by amankumarsingh77/cloud-video-encoder and
// ArthurCRodrigues/transcode-worker.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds every tunable of the igni server.
type Config struct {
	Version string

	// Bind is the HTTP listen address.
	Bind string `mapstructure:"bind"`

	// FFmpeg/FFprobe binary paths, auto-detected like the teacher's
	// Config.AutoDetect if left blank.
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`

	// TempDir is the scratch space for per-source downloads and
	// per-segment intermediate encodes (teacher: Manager.tempDir).
	TempDir string `mapstructure:"tempdir"`

	// Encoder selects the C6 encode-stage codec. Default libx264.
	Encoder     string   `mapstructure:"encoder"`
	EncoderOpts []string `mapstructure:"encoder_opts"`

	// MaxConcurrentSources bounds parallel decode across distinct
	// sources (teacher: MaxConcurrentTranscodes, repurposed per
	// SPEC_FULL C4).
	MaxConcurrentSources int `mapstructure:"max_concurrent_sources"`

	// SegmentBuildSafetyFactor multiplies a spec's segment_length to
	// derive the wall-clock build deadline from spec §5.
	SegmentBuildSafetyFactor float64 `mapstructure:"segment_build_safety_factor"`

	// SpecIdleTime and SourceIdleTime mirror the teacher's
	// ManagerIdleTime/StreamIdleTime settings, in seconds. Only
	// SpecIdleTime drives a reaper (idle specs); SourceIdleTime is loaded
	// but not read by any component.
	SpecIdleTime   int `mapstructure:"spec_idle_time"`
	SourceIdleTime int `mapstructure:"source_idle_time"`

	// JWTSecret verifies bearer tokens at the HTTP layer (internal/auth).
	JWTSecret string `mapstructure:"jwt_secret"`

	// S3 storage backend defaults, used when a source's storage_service
	// is "s3" and storage_config omits a field.
	S3Region string `mapstructure:"s3_region"`
}

// Default returns hardware-aware defaults, following the teacher main.go's
// runtime.NumCPU()-based heuristics.
func Default() *Config {
	cpuCount := maxInt(1, runtime.NumCPU())
	return &Config{
		Bind:                     ":8900",
		TempDir:                  filepath.Join(os.TempDir(), "igni"),
		Encoder:                  "libx264",
		EncoderOpts:              []string{"-preset", "veryfast", "-crf", "21"},
		MaxConcurrentSources:     cpuCount,
		SegmentBuildSafetyFactor: 4.0,
		SpecIdleTime:             3600,
		SourceIdleTime:           600,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Load reads configuration from an optional file path plus IGNI_*
// environment variables, applying Default() as the base layer.
func Load(path string, log *zap.Logger) (*Config, error) {
	c := Default()

	v := viper.New()
	v.SetEnvPrefix("IGNI")
	v.AutomaticEnv()
	for key, val := range map[string]any{
		"bind":                        c.Bind,
		"tempdir":                     c.TempDir,
		"encoder":                     c.Encoder,
		"max_concurrent_sources":      c.MaxConcurrentSources,
		"segment_build_safety_factor": c.SegmentBuildSafetyFactor,
		"spec_idle_time":              c.SpecIdleTime,
		"source_idle_time":            c.SourceIdleTime,
	} {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	c.AutoDetect(log)
	return c, nil
}

// AutoDetect resolves ffmpeg/ffprobe paths on PATH, matching the teacher's
// Config.AutoDetect.
func (c *Config) AutoDetect(log *zap.Logger) {
	if c.FFmpeg == "" {
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			c.FFmpeg = p
		}
	}
	if c.FFprobe == "" {
		if p, err := exec.LookPath("ffprobe"); err == nil {
			c.FFprobe = p
		}
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "igni")
	}
	if log != nil {
		log.Info("configured", zap.String("bind", c.Bind), zap.String("ffmpeg", c.FFmpeg),
			zap.String("ffprobe", c.FFprobe), zap.String("tempdir", c.TempDir))
	}
}

// SegmentBuildDeadline derives the wall-clock budget for one segment build
// from spec §5 ("proportional to segment length times safety factor").
func (c *Config) SegmentBuildDeadline(segmentLengthSeconds float64) time.Duration {
	return time.Duration(segmentLengthSeconds * c.SegmentBuildSafetyFactor * float64(time.Second))
}

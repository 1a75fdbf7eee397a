// Package mux implements C6: the segment encoder/muxer. Encoding is
// split in two stages, grounded directly on the teacher's
// transcoder.Stream.transcode/ServeFullVideo pattern of piping frames
// through an exec.CommandContext-spawned ffmpeg and reading its
// stdout in a goroutine:
//
//  1. encode.go pipes raw yuv420p frames to ffmpeg and reads back a
//     bare Annex-B H.264 elementary stream (no container at all).
//  2. ts.go takes that elementary stream and remuxes it into MPEG-TS
//     with explicit, spec-derived PTS/DTS/IDR flags via go-astits,
//     rather than letting ffmpeg's own "-f hls" segmenter decide
//     segment boundaries — spec §4.6 requires exact frame-index
//     boundaries ("no frame from segment k appears in segment k+1"),
//     which only byte-level muxer control can guarantee.
package mux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/ixlab-labs/igni/internal/apperr"
)

// EncoderConfig carries the knobs from internal/config needed to spawn
// the raw-frame encode stage.
type EncoderConfig struct {
	FFmpegPath  string
	Width       int
	Height      int
	FrameRateN  int64
	FrameRateD  int64
	Codec       string // e.g. "libx264"
	CodecOpts   []string
	GopFrames   int // force an IDR at segment start and no earlier
}

// RawFrameEncoder spawns one ffmpeg process that accepts a strictly
// ordered stream of raw yuv420p frames on stdin and emits a bare
// Annex-B H.264 stream on stdout, mirroring the teacher's
// ServeFullVideo stdout-pipe-plus-goroutine plumbing: stdout is
// drained by a background goroutine the whole time the process runs,
// not after the fact, so ffmpeg's ~64KB pipe buffer filling up never
// blocks it from reading more of stdin.
type RawFrameEncoder struct {
	cfg   EncoderConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   bytes.Buffer
	done  chan error
}

func NewRawFrameEncoder(ctx context.Context, cfg EncoderConfig) (*RawFrameEncoder, error) {
	args := []string{
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprintf("%d/%d", cfg.FrameRateN, cfg.FrameRateD),
		"-i", "pipe:0",
		"-an",
		"-c:v", cfg.Codec,
		"-bf", "0",
	}
	args = append(args, cfg.CodecOpts...)
	if cfg.GopFrames > 0 {
		args = append(args, "-g", fmt.Sprintf("%d", cfg.GopFrames), "-forced-idr", "1",
			"-force_key_frames", "expr:eq(n,0)")
	}
	args = append(args, "-bsf:v", "h264_mp4toannexb", "-f", "h264", "pipe:1")

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "opening ffmpeg stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "opening ffmpeg stdout")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "starting ffmpeg encoder")
	}

	e := &RawFrameEncoder{cfg: cfg, cmd: cmd, stdin: stdin, done: make(chan error, 1)}
	go func() {
		// Copy stdout into e.out concurrently with the caller's
		// WriteFrame loop; cmd.Wait() must not run until stdout is
		// fully drained (os/exec: the child can deadlock otherwise).
		_, copyErr := io.Copy(&e.out, bufio.NewReaderSize(stdout, 1<<20))
		waitErr := cmd.Wait()
		switch {
		case copyErr != nil:
			e.done <- apperr.Wrap(apperr.RenderError, copyErr, "reading encoder stdout")
		case waitErr != nil:
			e.done <- fmt.Errorf("ffmpeg encode exited: %w: %s", waitErr, stderr.String())
		default:
			e.done <- nil
		}
		close(e.done)
	}()
	return e, nil
}

// WriteFrame writes one raw yuv420p frame's bytes to ffmpeg's stdin.
func (e *RawFrameEncoder) WriteFrame(raw []byte) error {
	_, err := e.stdin.Write(raw)
	if err != nil {
		return apperr.Wrap(apperr.RenderError, err, "writing frame to encoder")
	}
	return nil
}

// Finish closes stdin (signalling EOF to ffmpeg) and waits for the
// background stdout-draining goroutine to collect the complete
// Annex-B elementary stream.
func (e *RawFrameEncoder) Finish() ([]byte, error) {
	if err := e.stdin.Close(); err != nil {
		return nil, apperr.Wrap(apperr.RenderError, err, "closing encoder stdin")
	}
	if err := <-e.done; err != nil {
		return nil, err
	}
	return e.out.Bytes(), nil
}

// Abort kills the ffmpeg process without waiting for a clean EOF, used
// on cancellation (spec §5: "the encoder is torn down without emitting
// a TS").
func (e *RawFrameEncoder) Abort() {
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.stdin.Close()
	<-e.done
}

package mux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawFrameEncoder_MissingBinaryErrors(t *testing.T) {
	cfg := EncoderConfig{
		FFmpegPath: "/nonexistent/ffmpeg-binary-does-not-exist",
		Width:      640, Height: 360,
		FrameRateN: 30, FrameRateD: 1,
		Codec: "libx264",
	}
	_, err := NewRawFrameEncoder(context.Background(), cfg)
	require.Error(t, err)
}

func TestRawFrameEncoder_AbortOnProcessThatExitsImmediately(t *testing.T) {
	// "/bin/true" exits immediately without reading stdin; Abort must
	// not block or panic even though the process is already gone.
	cfg := EncoderConfig{
		FFmpegPath: "/bin/true",
		Width:      640, Height: 360,
		FrameRateN: 30, FrameRateD: 1,
	}
	enc, err := NewRawFrameEncoder(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotPanics(t, func() { enc.Abort() })
}

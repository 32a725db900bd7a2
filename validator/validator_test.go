package validator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSampler struct {
	frames []image.Image
	err    error
	asked  []float64
}

func (s *stubSampler) Sample(_ context.Context, _ string, positions []float64) ([]Frame, error) {
	s.asked = positions
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Frame, 0, len(s.frames))
	for i, img := range s.frames {
		out = append(out, Frame{Position: positions[i], Image: img})
	}
	return out, nil
}

func solid(v uint8) image.Image {
	return imaging.New(32, 18, color.NRGBA{R: v, G: v, B: v, A: 255})
}

// striped draws alternating black and white columns: mean ~127, high contrast.
func striped() image.Image {
	img := imaging.New(32, 18, color.NRGBA{A: 255})
	for x := 0; x < 32; x += 2 {
		for y := 0; y < 18; y++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestAllBlankIsCritical(t *testing.T) {
	s := &stubSampler{frames: []image.Image{solid(0), solid(3), solid(9)}}
	res, err := New(s, 0, 0, nil).Validate(context.Background(), "out.mp4")
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], "CRITICAL")
	assert.Equal(t, []float64{0.25, 0.50, 0.75}, s.asked)
	assert.Len(t, res.Samples, 3)
}

func TestOneVisibleFrameIsEnough(t *testing.T) {
	s := &stubSampler{frames: []image.Image{solid(0), striped(), solid(0)}}
	res, err := New(s, 0, 0, nil).Validate(context.Background(), "out.mp4")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestLowContrastIsWarningOnly(t *testing.T) {
	s := &stubSampler{frames: []image.Image{solid(120), solid(130), solid(125)}}
	res, err := New(s, 0, 0, nil).Validate(context.Background(), "out.mp4")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], "WARNING")
}

func TestNoFramesIsCritical(t *testing.T) {
	res, err := New(&stubSampler{}, 0, 0, nil).Validate(context.Background(), "out.mp4")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "Could not read any frames")
}

func TestSamplerErrorIsCritical(t *testing.T) {
	res, err := New(&stubSampler{err: errors.New("no such file")}, 0, 0, nil).Validate(context.Background(), "gone.mp4")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "no such file")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&stubSampler{}, 0, 0, nil).Validate(ctx, "out.mp4")
	require.ErrorIs(t, err, context.Canceled)
}

func TestGrayStats(t *testing.T) {
	mean, std := grayStats(striped())
	assert.InDelta(t, 127.5, mean, 1)
	assert.InDelta(t, 127.5, std, 1)

	mean, std = grayStats(solid(200))
	assert.InDelta(t, 200, mean, 1)
	assert.InDelta(t, 0, std, 0.01)
}

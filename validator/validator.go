// Package validator inspects a rendered video for visually broken output:
// all-black frames and frames with no contrast.
package validator

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"newton/shared"
)

// SamplePositions are the fractions of the duration that get inspected.
// The ends are skipped because fades in and out are legitimately dark.
var SamplePositions = []float64{0.25, 0.50, 0.75}

const (
	DefaultBlankMean   = 10.0
	DefaultLowContrast = 20.0
)

// Frame is one decoded frame and where it came from.
type Frame struct {
	Position float64
	Image    image.Image
}

// FrameSampler extracts frames at fractional positions. Frames that cannot
// be read are left out of the result instead of failing the call.
type FrameSampler interface {
	Sample(ctx context.Context, path string, positions []float64) ([]Frame, error)
}

type Validator struct {
	sampler     FrameSampler
	blankMean   float64
	lowContrast float64
	logger      *slog.Logger
}

func New(sampler FrameSampler, blankMean, lowContrast float64, logger *slog.Logger) *Validator {
	if blankMean <= 0 {
		blankMean = DefaultBlankMean
	}
	if lowContrast <= 0 {
		lowContrast = DefaultLowContrast
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{sampler: sampler, blankMean: blankMean, lowContrast: lowContrast, logger: logger}
}

// Validate samples the video and judges it. Sampling problems become a
// CRITICAL issue; the error is only set when ctx ended.
func (v *Validator) Validate(ctx context.Context, path string) (shared.ValidationResult, error) {
	frames, err := v.sampler.Sample(ctx, path, SamplePositions)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return shared.ValidationResult{}, ctxErr
	}
	if err != nil {
		v.logger.Warn("Frame sampling failed", "path", path, "error", err)
		return shared.ValidationResult{
			Valid:  false,
			Issues: []string{fmt.Sprintf("CRITICAL: Validator error: %v", err)},
		}, nil
	}
	return v.judge(frames), nil
}

func (v *Validator) judge(frames []Frame) shared.ValidationResult {
	if len(frames) == 0 {
		return shared.ValidationResult{
			Valid:  false,
			Issues: []string{"CRITICAL: Could not read any frames from video."},
		}
	}

	samples := make([]shared.FrameMetrics, 0, len(frames))
	blank, flat := 0, 0
	for _, f := range frames {
		m := v.measure(f)
		if m.Blank {
			blank++
		}
		if m.LowContrast {
			flat++
		}
		samples = append(samples, m)
	}

	res := shared.ValidationResult{Valid: true, Samples: samples}
	switch {
	case blank == len(frames):
		res.Valid = false
		res.Issues = append(res.Issues, "CRITICAL: Video appears to be completely blank (black screen).")
	case flat == len(frames):
		res.Issues = append(res.Issues, "WARNING: Low video contrast detected.")
	}
	return res
}

func (v *Validator) measure(f Frame) shared.FrameMetrics {
	mean, std := grayStats(f.Image)
	return shared.FrameMetrics{
		Position:       f.Position,
		MeanBrightness: mean,
		Contrast:       std,
		Blank:          mean < v.blankMean,
		LowContrast:    std < v.lowContrast,
	}
}

// grayStats returns the mean and population standard deviation of the
// luminance channel on a 0..255 scale.
func grayStats(img image.Image) (float64, float64) {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			l := float64(row[x])
			sum += l
			sumSq += l * l
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

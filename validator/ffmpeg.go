package validator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// FFmpegSampler reads frames with the ffmpeg/ffprobe command line tools.
type FFmpegSampler struct {
	FFmpeg  string
	FFprobe string
	Logger  *slog.Logger
}

func NewFFmpegSampler(ffmpeg, ffprobe string, logger *slog.Logger) *FFmpegSampler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSampler{FFmpeg: ffmpeg, FFprobe: ffprobe, Logger: logger}
}

func (s *FFmpegSampler) Sample(ctx context.Context, path string, positions []float64) ([]Frame, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %w", err)
	}
	duration, err := s.duration(ctx, path)
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, len(positions))
	for _, p := range positions {
		at := time.Duration(duration * p * float64(time.Second))
		img, err := s.frameAt(ctx, path, at)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.Logger.Debug("Skipping unreadable frame", "path", path, "position", p, "error", err)
			continue
		}
		frames = append(frames, Frame{Position: p, Image: img})
	}
	return frames, nil
}

func (s *FFmpegSampler) duration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, s.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

func (s *FFmpegSampler) frameAt(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.FFmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg returned no frame at %s", at)
	}
	return imaging.Decode(&stdout)
}

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"mediaconv/internal/services"
)

// ThumbnailQuality is the JPEG quality used for generated thumbnails.
const ThumbnailQuality = 80

// Thumbnailer grabs a single frame with ffmpeg and scales it to fit the
// requested bounds.
type Thumbnailer struct {
	binary string
}

// NewThumbnailer constructs a thumbnailer. An empty binary means "ffmpeg".
func NewThumbnailer(binary string) *Thumbnailer {
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = "ffmpeg"
	}
	return &Thumbnailer{binary: binary}
}

// Generate returns JPEG bytes for the frame at position, scaled to fit within
// width x height while keeping the aspect ratio.
func (t *Thumbnailer) Generate(ctx context.Context, path string, position time.Duration, width, height int) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrValidation, "thumbnail", "generate", "Media path is required", nil)
	}
	if width <= 0 || height <= 0 {
		return nil, services.Wrap(services.ErrValidation, "thumbnail", "generate", fmt.Sprintf("Invalid thumbnail size %dx%d", width, height), nil)
	}
	position = max(position, 0)

	cmd := commandContext(ctx, t.binary, //nolint:gosec
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(position.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExternalTool, "thumbnail", "extract frame", strings.TrimSpace(stderr.String()), err)
	}
	if stdout.Len() == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "thumbnail", "extract frame", "ffmpeg produced no frame; position may be past the end", nil)
	}

	frame, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "thumbnail", "decode frame", "", err)
	}
	scaled := imaging.Fit(frame, width, height, imaging.Lanczos)

	var out bytes.Buffer
	if err := imaging.Encode(&out, scaled, imaging.JPEG, imaging.JPEGQuality(ThumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

package encoding

import (
	"path/filepath"
	"strconv"
	"strings"

	"mediaconv/internal/services"
)

// Request is a single conversion: one input file to one output file.
type Request struct {
	InputPath  string
	OutputPath string
	Profile    Profile
}

// Validate reports malformed requests before any process is started.
func (r Request) Validate() error {
	input := strings.TrimSpace(r.InputPath)
	output := strings.TrimSpace(r.OutputPath)
	switch {
	case input == "":
		return invalidRequest("input path is required")
	case output == "":
		return invalidRequest("output path is required")
	case filepath.Clean(input) == filepath.Clean(output):
		return invalidRequest("output path must differ from input path")
	case strings.TrimSpace(r.Profile.VideoCodec) == "":
		return invalidRequest("profile has no video codec")
	case strings.TrimSpace(r.Profile.AudioCodec) == "":
		return invalidRequest("profile has no audio codec")
	case r.Profile.CRF < 0:
		return invalidRequest("profile crf must not be negative")
	}
	return nil
}

func invalidRequest(message string) error {
	return services.Wrap(services.ErrValidation, "encoding", "validate request", message, nil)
}

// BuildArgs returns the ffmpeg argument list for the request.
func BuildArgs(r Request) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	p := r.Profile
	args := []string{
		"-hide_banner",
		"-y",
		"-i", r.InputPath,
		"-c:v", p.VideoCodec,
		"-crf", strconv.Itoa(p.CRF),
	}
	if preset := strings.TrimSpace(p.Preset); preset != "" {
		args = append(args, "-preset", preset)
	}
	args = append(args, "-c:a", p.AudioCodec)
	if bitrate := strings.TrimSpace(p.AudioBitrate); bitrate != "" {
		args = append(args, "-b:a", bitrate)
	}
	return append(args, r.OutputPath), nil
}

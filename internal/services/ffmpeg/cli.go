package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediaconv/internal/encoding"
	"mediaconv/internal/logging"
	"mediaconv/internal/services"
)

var commandContext = exec.CommandContext

// stderrTailLines bounds how much ffmpeg diagnostic output is kept for error
// messages.
const stderrTailLines = 5

// Option configures the CLI client.
type Option func(*CLI)

// WithFFmpegBinary overrides the ffmpeg binary name.
func WithFFmpegBinary(binary string) Option {
	return func(c *CLI) {
		if binary = strings.TrimSpace(binary); binary != "" {
			c.ffmpeg = binary
		}
	}
}

// WithFFprobeBinary overrides the ffprobe binary name.
func WithFFprobeBinary(binary string) Option {
	return func(c *CLI) {
		if binary = strings.TrimSpace(binary); binary != "" {
			c.ffprobe = binary
		}
	}
}

// WithLogger attaches a logger for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) {
		c.logger = logging.NewComponentLogger(logger, "ffmpeg")
	}
}

// CLI runs ffmpeg encodes and reports progress from its -progress stream.
type CLI struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

var _ encoding.Executor = (*CLI)(nil)

// Execute runs ffmpeg with args. Progress is derived from out_time against
// the probed input duration; when the duration is unknown only completion is
// reported. A non-zero exit returns the code together with an
// *encoding.ExitError carrying the tail of stderr.
func (c *CLI) Execute(ctx context.Context, args []string, progress func(float64)) (int, error) {
	var duration time.Duration
	if input := inputArg(args); input != "" {
		probed, err := c.ProbeDuration(ctx, input)
		if err != nil {
			if services.IsCancellation(err) {
				return -1, err
			}
			c.logger.Debug("duration probe failed; progress limited to completion",
				logging.String("input", input),
				logging.Error(err),
			)
		}
		duration = probed
	}

	fullArgs := append([]string{"-progress", "pipe:1", "-nostats"}, args...)
	cmd := commandContext(ctx, c.ffmpeg, fullArgs...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := newTailBuffer(stderrTailLines)
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return -1, services.Wrap(services.ErrExternalTool, "encoding", "start ffmpeg", "Failed to launch ffmpeg", err)
	}

	readErr := scanProgress(stdout, duration, progress)
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			return code, &encoding.ExitError{Code: code, Stderr: tail.String()}
		}
		return -1, services.Wrap(services.ErrExternalTool, "encoding", "wait ffmpeg", "ffmpeg did not exit cleanly", waitErr)
	}
	if readErr != nil {
		return 0, fmt.Errorf("read ffmpeg progress: %w", readErr)
	}
	return 0, nil
}

// ProbeDuration returns the container duration reported by ffprobe.
func (c *CLI) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := commandContext(ctx, c.ffprobe, //nolint:gosec
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, services.Wrap(services.ErrExternalTool, "probe", "ffprobe", strings.TrimSpace(stderr.String()), err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds <= 0 {
		return 0, services.Wrap(services.ErrExternalTool, "probe", "parse duration", fmt.Sprintf("Unexpected ffprobe duration %q", strings.TrimSpace(string(out))), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func inputArg(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			return args[i+1]
		}
	}
	return ""
}

// scanProgress reads ffmpeg's key=value progress stream. out_time_ms is
// reported in microseconds by ffmpeg despite its name.
func scanProgress(r io.Reader, duration time.Duration, progress func(float64)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || progress == nil {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			if duration <= 0 {
				continue
			}
			micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || micros < 0 {
				continue
			}
			progress(float64(time.Duration(micros)*time.Microsecond) / float64(duration) * 100)
		case "progress":
			if strings.TrimSpace(value) == "end" {
				progress(100)
			}
		}
	}
	return scanner.Err()
}

// tailBuffer keeps the last n non-empty lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial bytes.Buffer
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partial.Write(p)
	for {
		line, err := t.partial.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			t.partial.Reset()
			t.partial.WriteString(line)
			break
		}
		t.push(line)
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := append([]string(nil), t.lines...)
	if rest := strings.TrimSpace(t.partial.String()); rest != "" {
		lines = append(lines, rest)
		if len(lines) > t.limit {
			lines = lines[len(lines)-t.limit:]
		}
	}
	return strings.Join(lines, "; ")
}

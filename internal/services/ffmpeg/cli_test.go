package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"mediaconv/internal/encoding"
	"mediaconv/internal/services"
)

// stubCommands routes commandContext through TestHelperProcess. The mode for
// each binary is chosen by its name.
func stubCommands(t *testing.T, modes map[string]string, captured *[][]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append(*captured, append([]string{name}, args...))
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE="+modes[name])
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "probe":
		fmt.Println("10.000000")
	case "probe-fail":
		fmt.Fprintln(os.Stderr, "movie.mkv: Invalid data found when processing input")
		os.Exit(1)
	case "encode":
		fmt.Println("frame=10")
		fmt.Println("out_time_us=2500000")
		fmt.Println("progress=continue")
		fmt.Println("out_time_ms=5000000")
		fmt.Println("out_time_us=N/A")
		fmt.Println("progress=end")
	case "encode-fail":
		for i := 1; i <= 7; i++ {
			fmt.Fprintf(os.Stderr, "line %d\n", i)
		}
		fmt.Fprint(os.Stderr, "Conversion failed!")
		os.Exit(2)
	case "hang":
		time.Sleep(10 * time.Second)
	case "frame":
		img := image.NewRGBA(image.Rect(0, 0, 64, 32))
		for x := range 64 {
			for y := range 32 {
				img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 100, B: 200, A: 255})
			}
		}
		_ = png.Encode(os.Stdout, img)
	case "no-frame":
	default:
		os.Exit(3)
	}
	os.Exit(0)
}

func TestNewCLIOptions(t *testing.T) {
	cli := NewCLI(WithFFmpegBinary("/opt/ffmpeg"), WithFFprobeBinary(" "), WithLogger(nil))
	if cli.ffmpeg != "/opt/ffmpeg" || cli.ffprobe != "ffprobe" {
		t.Fatalf("unexpected binaries: %q %q", cli.ffmpeg, cli.ffprobe)
	}
}

func TestExecuteReportsProgress(t *testing.T) {
	var captured [][]string
	stubCommands(t, map[string]string{"ffmpeg": "encode", "ffprobe": "probe"}, &captured)

	var got []float64
	code, err := NewCLI().Execute(context.Background(), []string{"-i", "movie.mkv", "out.mp4"}, func(p float64) {
		got = append(got, p)
	})
	if err != nil || code != 0 {
		t.Fatalf("Execute: code=%d err=%v", code, err)
	}
	if want := []float64{25, 50, 100}; !slices.Equal(got, want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	if len(captured) != 2 {
		t.Fatalf("expected probe and encode invocations, got %v", captured)
	}
	encodeArgs := captured[1]
	if encodeArgs[0] != "ffmpeg" || !slices.Equal(encodeArgs[1:4], []string{"-progress", "pipe:1", "-nostats"}) {
		t.Fatalf("unexpected encode args: %v", encodeArgs)
	}
	if encodeArgs[len(encodeArgs)-1] != "out.mp4" {
		t.Fatalf("expected caller args to be preserved: %v", encodeArgs)
	}
}

func TestExecuteWithoutDurationOnlyReportsCompletion(t *testing.T) {
	stubCommands(t, map[string]string{"ffmpeg": "encode", "ffprobe": "probe-fail"}, nil)

	var got []float64
	code, err := NewCLI().Execute(context.Background(), []string{"-i", "movie.mkv", "out.mp4"}, func(p float64) {
		got = append(got, p)
	})
	if err != nil || code != 0 {
		t.Fatalf("Execute: code=%d err=%v", code, err)
	}
	if !slices.Equal(got, []float64{100}) {
		t.Fatalf("progress = %v, want [100]", got)
	}
}

func TestExecuteNonZeroExitCarriesStderrTail(t *testing.T) {
	stubCommands(t, map[string]string{"ffmpeg": "encode-fail", "ffprobe": "probe"}, nil)

	code, err := NewCLI().Execute(context.Background(), []string{"-i", "movie.mkv", "out.mp4"}, nil)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	var exitErr *encoding.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Stderr != "line 4; line 5; line 6; line 7; Conversion failed!" {
		t.Fatalf("unexpected stderr tail %q", exitErr.Stderr)
	}
}

func TestExecuteCancellation(t *testing.T) {
	stubCommands(t, map[string]string{"ffmpeg": "hang", "ffprobe": "probe"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewCLI().Execute(ctx, []string{"-i", "movie.mkv", "out.mp4"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Execute did not return promptly after cancellation")
	}
}

func TestProbeDurationFailure(t *testing.T) {
	stubCommands(t, map[string]string{"ffprobe": "probe-fail"}, nil)
	_, err := NewCLI().ProbeDuration(context.Background(), "movie.mkv")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected ffprobe stderr in error, got %v", err)
	}
}

func TestThumbnailerGenerate(t *testing.T) {
	var captured [][]string
	stubCommands(t, map[string]string{"ffmpeg": "frame"}, &captured)

	data, err := NewThumbnailer("").Generate(context.Background(), "movie.mkv", 90*time.Second, 32, 32)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("expected aspect-preserving 32x16, got %dx%d", b.Dx(), b.Dy())
	}
	if !slices.Contains(captured[0], "90.000") {
		t.Fatalf("expected seek position in args: %v", captured[0])
	}
}

func TestThumbnailerErrors(t *testing.T) {
	stubCommands(t, map[string]string{"ffmpeg": "no-frame"}, nil)
	thumbs := NewThumbnailer("ffmpeg")

	if _, err := thumbs.Generate(context.Background(), "", 0, 10, 10); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty path, got %v", err)
	}
	if _, err := thumbs.Generate(context.Background(), "movie.mkv", 0, 0, 10); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for size, got %v", err)
	}
	if _, err := thumbs.Generate(context.Background(), "movie.mkv", 0, 10, 10); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error for empty frame, got %v", err)
	}
}

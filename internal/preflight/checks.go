package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sys/unix"

	"mediaconv/internal/config"
	"mediaconv/internal/deps"
	"mediaconv/internal/encoding"
)

const endpointTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries for the given config. Both
// the daemon and the CLI status command use it.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Encoding.FFmpegBinary,
			Description: "Required for conversion and thumbnails",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Encoding.FFprobeBinary,
			Description: "Required for progress reporting",
		},
	})
}

// CheckProfileEncoders reports, per built-in profile, whether ffmpeg was
// built with the encoders the profile needs.
func CheckProfileEncoders(ctx context.Context, ffmpegBinary string) []Result {
	names := encoding.ProfileNames()
	encoders, err := deps.Encoders(ctx, ffmpegBinary)
	if err != nil {
		results := make([]Result, 0, len(names))
		for _, name := range names {
			results = append(results, Result{Name: "Profile " + name, Detail: err.Error()})
		}
		return results
	}
	results := make([]Result, 0, len(names))
	for _, name := range names {
		profile, _ := encoding.LookupProfile(name)
		var missing []string
		for _, codec := range []string{profile.VideoCodec, profile.AudioCodec} {
			if codec != "" && codec != "copy" && !encoders[codec] {
				missing = append(missing, codec)
			}
		}
		if len(missing) > 0 {
			results = append(results, Result{Name: "Profile " + name, Detail: "missing encoders: " + strings.Join(missing, ", ")})
			continue
		}
		results = append(results, Result{Name: "Profile " + name, Passed: true, Detail: profile.VideoCodec + " + " + profile.AudioCodec})
	}
	return results
}

// CheckNtfy verifies the ntfy server behind topicURL answers its health endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: "invalid topic url"}
	}
	health := parsed.Scheme + "://" + parsed.Host + "/v1/health"

	checkCtx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := (&http.Client{Timeout: endpointTimeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckAMQP opens and closes a broker connection.
func CheckAMQP(ctx context.Context, brokerURL string) Result {
	const name = "AMQP broker"

	timeout := endpointTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	conn, err := amqp.DialConfig(brokerURL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "Connected"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (endpoint unreachable)"
	}
	return err.Error()
}

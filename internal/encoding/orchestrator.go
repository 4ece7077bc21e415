package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaconv/internal/logging"
	"mediaconv/internal/services"
)

// Executor runs the encoder binary with args and reports fractional progress
// percentages. It returns the process exit code.
type Executor interface {
	Execute(ctx context.Context, args []string, progress func(percent float64)) (int, error)
}

// ExitError accompanies a non-zero exit code when the executor captured
// diagnostic output from the process.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("encoder exited with code %d", e.Code)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Orchestrator drives a single conversion through an Executor.
type Orchestrator struct {
	executor Executor
	logger   *slog.Logger
}

// NewOrchestrator constructs an orchestrator. logger may be nil.
func NewOrchestrator(executor Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		logger:   logging.NewComponentLogger(logger, "encoder"),
	}
}

// Convert runs req and returns its outcome. Invalid requests fail with an
// error before the executor is called. Execution failures become a failed
// Outcome with a nil error. Cancellation returns the context error.
func (o *Orchestrator) Convert(ctx context.Context, req Request, sink ProgressSink) (Outcome, error) {
	if o == nil || o.executor == nil {
		return Outcome{}, services.Wrap(services.ErrConfiguration, "encoding", "convert", "No encoder executor configured", nil)
	}
	args, err := BuildArgs(req)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	logger := logging.WithContext(ctx, o.logger)
	logger.Info("encoder starting",
		logging.String("input", req.InputPath),
		logging.String("output", req.OutputPath),
		logging.String("profile", req.Profile.Name),
	)

	sampler := logging.NewProgressSampler(10)
	forward := func(raw float64) {
		percent := NormalizePercent(raw)
		if sampler.ShouldLog(float64(percent), "encoding") {
			logger.Debug("encoder progress", logging.Int("percent", percent))
		}
		if sink != nil {
			sink(percent)
		}
	}

	started := time.Now()
	code, execErr := o.executor.Execute(ctx, args, forward)
	// A clean exit stands even if ctx ended right after the encoder finished.
	if ctxErr := ctx.Err(); ctxErr != nil && (execErr != nil || code != 0) {
		logger.Info("encoder cancelled", logging.Duration("elapsed", time.Since(started)))
		return Outcome{}, ctxErr
	}
	if execErr != nil && services.IsCancellation(execErr) {
		return Outcome{}, execErr
	}

	var outcome Outcome
	var exitErr *ExitError
	switch {
	case errors.As(execErr, &exitErr):
		outcome = Failed(exitErr.Error())
	case execErr != nil:
		outcome = Failed(execErr.Error())
	case code != 0:
		outcome = Failed(fmt.Sprintf("encoder exited with code %d", code))
	default:
		outcome = Succeeded(0)
	}

	if outcome.Success {
		logger.Info("encoder finished", logging.Duration("elapsed", time.Since(started)))
	} else {
		logging.WarnWithContext(logger, "encoder failed", "encoder_failed",
			logging.String("reason", outcome.ErrorMessage),
			logging.Int("exit_code", code),
			logging.String(logging.FieldErrorHint, services.FailureHint(services.ErrExternalTool)),
			logging.String(logging.FieldImpact, "item will be marked failed"),
		)
	}
	return outcome, nil
}

package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mediaconv/internal/config"
	"mediaconv/internal/logging"
	"mediaconv/internal/queue"
	"mediaconv/internal/services"
)

// Service converts queue items. It resolves the profile and output path for
// an item and delegates the encode to an Orchestrator.
type Service struct {
	outputDir      string
	defaultProfile Profile
	orchestrator   *Orchestrator
	logger         *slog.Logger
}

// NewService builds a Service using cfg for the output directory and default
// profile.
func NewService(cfg *config.Config, executor Executor, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "encoding", "init", "Configuration is required", nil)
	}
	name := cfg.Encoding.DefaultProfile
	if strings.TrimSpace(name) == "" {
		name = DefaultProfile
	}
	profile, err := LookupProfile(name)
	if err != nil {
		return nil, fmt.Errorf("encoding.default_profile: %w", err)
	}
	return &Service{
		outputDir:      cfg.Paths.OutputDir,
		defaultProfile: profile,
		orchestrator:   NewOrchestrator(executor, logger),
		logger:         logging.NewComponentLogger(logger, "conversion"),
	}, nil
}

// Execute converts item, writing the resolved profile and output path back
// onto it. Partial output is removed when the conversion does not succeed.
func (s *Service) Execute(ctx context.Context, item *queue.Item, sink ProgressSink) (Outcome, error) {
	if item == nil {
		return Outcome{}, services.Wrap(services.ErrValidation, "encoding", "execute", "Queue item is required", nil)
	}
	if err := checkSource(item.SourcePath); err != nil {
		return Outcome{}, err
	}

	profile := s.defaultProfile
	if strings.TrimSpace(item.Profile) != "" {
		var err error
		if profile, err = LookupProfile(item.Profile); err != nil {
			return Outcome{}, err
		}
	}

	output := strings.TrimSpace(item.OutputPath)
	if output == "" {
		output = deriveOutputPath(item.SourcePath, s.outputDir, profile)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Outcome{}, services.Wrap(services.ErrConfiguration, "encoding", "prepare output", "Failed to create output directory", err)
	}
	item.Profile = profile.Name
	item.OutputPath = output

	outcome, err := s.orchestrator.Convert(ctx, Request{
		InputPath:  item.SourcePath,
		OutputPath: output,
		Profile:    profile,
	}, sink)
	if err != nil {
		s.removePartial(ctx, output)
		return Outcome{}, err
	}
	if !outcome.Success {
		s.removePartial(ctx, output)
		return outcome, nil
	}

	info, statErr := os.Stat(output)
	if statErr != nil {
		return Failed(fmt.Sprintf("encoder reported success but output is missing: %v", statErr)), nil
	}
	return Succeeded(info.Size()), nil
}

func checkSource(path string) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrValidation, "encoding", "check source", "Source path is empty", nil)
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrNotFound, "encoding", "check source", fmt.Sprintf("Source file %s does not exist", path), err)
	}
	if err != nil {
		return services.Wrap(services.ErrValidation, "encoding", "check source", "Failed to inspect source file", err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, "encoding", "check source", fmt.Sprintf("Source %s is not a regular file", path), nil)
	}
	return nil
}

// deriveOutputPath places the output in dir (or next to the source when dir is
// empty), never on top of the source itself.
func deriveOutputPath(source, dir string, profile Profile) string {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(source)
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "converted"
	}
	candidate := filepath.Join(dir, stem+"."+profile.Container)
	if filepath.Clean(candidate) == filepath.Clean(source) {
		candidate = filepath.Join(dir, stem+"."+profile.Name+"."+profile.Container)
	}
	return candidate
}

func (s *Service) removePartial(ctx context.Context, path string) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "failed to remove partial output", "partial_output_cleanup_failed",
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldImpact, "a truncated file remains in the output directory"),
		logging.String(logging.FieldErrorHint, "delete the file manually"),
	)
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediaconv/internal/api"
	"mediaconv/internal/preflight"
	"mediaconv/internal/queue"
	"mediaconv/internal/queueaccess"
)

type statusReport struct {
	ConfigPath   string                 `json:"configPath"`
	ConfigFile   bool                   `json:"configFile"`
	Daemon       *api.DaemonStatus      `json:"daemon,omitempty"`
	Dependencies []api.DependencyStatus `json:"dependencies"`
	Preflight    []preflight.Result     `json:"preflight"`
	Queue        map[string]int         `json:"queue"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := statusReport{ConfigPath: ctx.configPath, ConfigFile: ctx.configExists}

			if client, err := queueaccess.Dial(cmd.Context(), ctx.apiAddress(cfg), cfg.Paths.APIToken); err == nil {
				if status, err := client.Status(cmd.Context()); err == nil {
					report.Daemon = &status
					report.Dependencies = status.Dependencies
					report.Queue = status.Workflow.QueueStats
				}
			}
			if report.Daemon == nil {
				report.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cmd.Context(), cfg))
				err := ctx.withQueue(cmd, func(session queueaccess.Session) error {
					stats, err := session.Access.Stats(cmd.Context())
					report.Queue = stats
					return err
				})
				if err != nil {
					return err
				}
			}
			report.Preflight = preflight.RunAll(cmd.Context(), cfg)

			return emit(ctx, cmd, report, func() error {
				colorize := shouldColorize(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(statusReportLines(report, ctx.apiAddress(cfg), colorize), "\n"))
				return nil
			})
		},
	}
}

func statusReportLines(report statusReport, addr string, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("System", colorize)...)
	if report.Daemon != nil && report.Daemon.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, %s)", report.Daemon.PID, addr), colorize))
		workers := fmt.Sprintf("%d configured, %d busy", report.Daemon.Workflow.Workers, len(report.Daemon.Workflow.InFlight))
		lines = append(lines, renderStatusLine("Workers", statusInfo, workers, colorize))
		if report.Daemon.Workflow.LastError != "" {
			lines = append(lines, renderStatusLine("Last error", statusWarn, report.Daemon.Workflow.LastError, colorize))
		}
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}
	configDetail := report.ConfigPath
	if !report.ConfigFile {
		configDetail += " (defaults)"
	}
	lines = append(lines, renderStatusLine("Config", statusInfo, configDetail, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	lines = append(lines, dependencyLines(report.Dependencies, colorize)...)

	if len(report.Preflight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		lines = append(lines, preflightLines(report.Preflight, colorize)...)
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	total := 0
	for _, status := range queue.AllStatuses() {
		count := report.Queue[string(status)]
		total += count
		if count == 0 {
			continue
		}
		kind := statusInfo
		switch status {
		case queue.StatusFailed:
			kind = statusWarn
		case queue.StatusCompleted:
			kind = statusOK
		}
		lines = append(lines, renderStatusLine(formatStatusLabel(string(status)), kind, fmt.Sprintf("%d", count), colorize))
	}
	if total == 0 {
		lines = append(lines, renderStatusLine("Items", statusInfo, "Queue is empty", colorize))
	}
	return lines
}

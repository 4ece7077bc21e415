package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaconv/internal/logging"
	"mediaconv/internal/logs"
)

const fileFollowWait = 2 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var itemID string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		Long: "Show recent daemon log events. When the daemon is not reachable the\n" +
			"log file from paths.log_dir is read instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID = strings.TrimSpace(itemID)
			client, err := ctx.dialClient(cmd.Context())
			if err != nil {
				cfg, cfgErr := ctx.ensureConfig()
				if cfgErr != nil {
					return cfgErr
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\nreading %s\n", err, cfg.LogFilePath())
				return followLogFile(cmd, cfg.LogFilePath(), itemID, limit, follow)
			}

			out := cmd.OutOrStdout()
			var since uint64
			wait := false
			for {
				resp, err := client.Logs(cmd.Context(), since, limit, wait, itemID)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, evt := range resp.Events {
					if err := writeLogEvent(ctx, out, evt); err != nil {
						return err
					}
				}
				since = max(since, resp.Next)
				if !follow {
					return nil
				}
				wait = true
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().StringVar(&itemID, "item", "", "Only show events for this queue item")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum events per batch")
	return cmd
}

// followLogFile prints raw lines from the daemon log. Console lines carry
// the short item id, so --item matches on that.
func followLogFile(cmd *cobra.Command, path, itemID string, limit int, follow bool) error {
	opts := logs.Options{Offset: -1, Lines: limit}
	if itemID != "" {
		opts.Match = shortID(itemID)
	}
	out := cmd.OutOrStdout()
	for {
		batch, err := logs.Read(cmd.Context(), path, opts)
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range batch.Lines {
			fmt.Fprintln(out, line)
		}
		if !follow {
			return nil
		}
		opts.Offset = batch.Offset
		opts.Wait = fileFollowWait
	}
}

func writeLogEvent(ctx *commandContext, out io.Writer, evt logging.LogEvent) error {
	if ctx.JSONMode() {
		return emitLine(out, evt)
	}
	_, err := fmt.Fprintln(out, formatLogEvent(evt))
	return err
}

// formatLogEvent mirrors the console log layout.
func formatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(evt.Level))
	b.WriteByte(' ')
	if evt.Component != "" {
		b.WriteString(evt.Component)
	}
	if evt.ItemID != "" {
		b.WriteString("[" + shortID(evt.ItemID) + "]")
	}
	if evt.Component != "" || evt.ItemID != "" {
		b.WriteString(": ")
	}
	b.WriteString(evt.Message)
	for _, key := range slices.Sorted(maps.Keys(evt.Fields)) {
		value := evt.Fields[key]
		if strings.ContainsAny(value, " \t") {
			value = fmt.Sprintf("%q", value)
		}
		fmt.Fprintf(&b, " %s=%s", key, value)
	}
	return b.String()
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediaconv/internal/api"
	"mediaconv/internal/queueaccess"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var output string
	var profile string

	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Queue media files for conversion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" && len(args) > 1 {
				return errors.New("--output can only be used with a single file")
			}
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				added := make([]api.QueueItem, 0, len(args))
				for _, path := range args {
					item, err := session.Access.Add(cmd.Context(), path, output, profile)
					if err != nil {
						return fmt.Errorf("add %s: %w", path, err)
					}
					added = append(added, item)
				}
				return emit(ctx, cmd, added, func() error {
					out := cmd.OutOrStdout()
					for _, item := range added {
						label := item.Profile
						if label == "" {
							label = "default profile"
						}
						fmt.Fprintf(out, "Queued %s [%s] (%s)\n", item.Title, shortID(item.ID), label)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (defaults to paths.output_dir)")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Encoding profile: h264, h265 or av1")
	return cmd
}

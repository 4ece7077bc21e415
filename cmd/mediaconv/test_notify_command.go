package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaconv/internal/logging"
	"mediaconv/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" && cfg.Notifications.AMQPURL == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No notification channels configured")
				return nil
			}
			svc := notifications.NewService(cfg, nil, logging.NewNop())
			if closer, ok := svc.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			if err := svc.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}

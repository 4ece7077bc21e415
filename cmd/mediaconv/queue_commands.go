package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaconv/internal/api"
	"mediaconv/internal/queue"
	"mediaconv/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the conversion queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueItemActionCommand(ctx, "cancel", "Cancel a queued or running item", "Cancelled",
		func(ctx context.Context, a queueaccess.Access, id string) error { return a.Cancel(ctx, id) }))
	queueCmd.AddCommand(newQueueItemActionCommand(ctx, "pause", "Hold a pending item", "Paused",
		func(ctx context.Context, a queueaccess.Access, id string) error { return a.Pause(ctx, id) }))
	queueCmd.AddCommand(newQueueItemActionCommand(ctx, "resume", "Return a paused item to pending", "Resumed",
		func(ctx context.Context, a queueaccess.Access, id string) error { return a.Resume(ctx, id) }))
	queueCmd.AddCommand(newQueueItemActionCommand(ctx, "remove", "Delete an item from the queue", "Removed",
		func(ctx context.Context, a queueaccess.Access, id string) error { return a.Remove(ctx, id) }))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				stats, err := session.Access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return emit(ctx, cmd, stats, func() error {
					rows := buildQueueStatusRows(stats)
					if len(rows) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
						return nil
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
					return nil
				})
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				items, err := session.Access.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				return emit(ctx, cmd, items, func() error {
					if len(items) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No queue items")
						return nil
					}
					headers := []string{"ID", "Title", "Status", "Progress", "Size", "Output", "Added"}
					aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, buildQueueListRows(items, time.Now()), aligns))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show details for a queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				item, err := resolveItem(cmd.Context(), session.Access, args[0])
				if err != nil {
					return err
				}
				return emit(ctx, cmd, item, func() error {
					fmt.Fprint(cmd.OutOrStdout(), describeItem(item))
					return nil
				})
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed or cancelled items (all when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					item, err := resolveItem(cmd.Context(), session.Access, arg)
					if err != nil {
						return err
					}
					ids = append(ids, item.ID)
				}
				retried, err := session.Access.Retry(cmd.Context(), ids)
				if err != nil {
					return err
				}
				if len(ids) > 0 && retried == 0 {
					return fmt.Errorf("no matching failed or cancelled items: %w", queue.ErrInvalidTransition)
				}
				return emit(ctx, cmd, api.RetryResponse{Retried: retried}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Retried %d item(s)\n", retried)
					return nil
				})
			})
		},
	}
}

type itemAction func(ctx context.Context, access queueaccess.Access, id string) error

func newQueueItemActionCommand(ctx *commandContext, use, short, verb string, action itemAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				item, err := resolveItem(cmd.Context(), session.Access, args[0])
				if err != nil {
					return err
				}
				if err := action(cmd.Context(), session.Access, item.ID); err != nil {
					return fmt.Errorf("%s %s: %w", use, shortID(item.ID), err)
				}
				result := map[string]string{"id": item.ID, "action": use}
				return emit(ctx, cmd, result, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, item.Title, shortID(item.ID))
					return nil
				})
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completed bool
	var failed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue items that are not being converted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if completed && failed {
				return errors.New("--completed and --failed are mutually exclusive")
			}
			scope := "all"
			switch {
			case completed:
				scope = "completed"
			case failed:
				scope = "failed"
			}
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				removed, err := session.Access.Clear(cmd.Context(), scope)
				if err != nil {
					return err
				}
				return emit(ctx, cmd, api.ClearResponse{Removed: removed}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "Only remove completed items")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only remove failed and cancelled items")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				health, err := session.Access.Health(cmd.Context())
				if err != nil {
					return err
				}
				return emit(ctx, cmd, health, func() error {
					rows := [][]string{
						{"Total", fmt.Sprintf("%d", health.Total)},
						{"Pending", fmt.Sprintf("%d", health.Pending)},
						{"Processing", fmt.Sprintf("%d", health.Processing)},
						{"Paused", fmt.Sprintf("%d", health.Paused)},
						{"Completed", fmt.Sprintf("%d", health.Completed)},
						{"Failed", fmt.Sprintf("%d", health.Failed)},
						{"Cancelled", fmt.Sprintf("%d", health.Cancelled)},
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
					return nil
				})
			})
		},
	}
}

// resolveItem accepts a full id or an unambiguous prefix.
func resolveItem(ctx context.Context, access queueaccess.Access, ref string) (api.QueueItem, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return api.QueueItem{}, errors.New("item id is required")
	}
	item, err := access.Describe(ctx, ref)
	if err != nil && !errors.Is(err, queue.ErrNotFound) {
		return api.QueueItem{}, err
	}
	if item != nil {
		return *item, nil
	}

	items, err := access.List(ctx, nil)
	if err != nil {
		return api.QueueItem{}, err
	}
	var matches []api.QueueItem
	for _, candidate := range items {
		if strings.HasPrefix(candidate.ID, ref) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return api.QueueItem{}, fmt.Errorf("item %s: %w", ref, queue.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return api.QueueItem{}, fmt.Errorf("id prefix %q matches %d items", ref, len(matches))
	}
}

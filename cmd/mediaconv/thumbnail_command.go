package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediaconv/internal/queueaccess"
	"mediaconv/internal/thumbnail"
)

func newThumbnailCommand(ctx *commandContext) *cobra.Command {
	var width, height int
	var position string
	var outPath string

	cmd := &cobra.Command{
		Use:   "thumbnail <path>",
		Short: "Render a JPEG thumbnail of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve source: %w", err)
			}
			pos, err := parseThumbnailPosition(position)
			if err != nil {
				return err
			}
			if width <= 0 {
				width = cfg.Thumbnails.DefaultWidth
			}
			if height <= 0 {
				height = cfg.Thumbnails.DefaultHeight
			}
			target := strings.TrimSpace(outPath)
			if target == "" {
				base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
				target = base + ".jpg"
			}

			key := thumbnail.Key{Path: source, Width: width, Height: height, Position: pos}
			return ctx.withQueue(cmd, func(session queueaccess.Session) error {
				data, err := session.Access.Thumbnail(cmd.Context(), key)
				if err != nil {
					return fmt.Errorf("render thumbnail: %w", err)
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("write thumbnail: %w", err)
				}
				result := map[string]any{"path": target, "bytes": len(data)}
				return emit(ctx, cmd, result, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", target, humanize.Bytes(uint64(len(data))))
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Thumbnail width (defaults to thumbnails.default_width)")
	cmd.Flags().IntVar(&height, "height", 0, "Thumbnail height (defaults to thumbnails.default_height)")
	cmd.Flags().StringVar(&position, "position", "0s", "Seek position as a duration (1m30s) or seconds")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (defaults to <name>.jpg)")
	return cmd
}

func parseThumbnailPosition(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0, errors.New("--position must be a non-negative duration or number of seconds")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

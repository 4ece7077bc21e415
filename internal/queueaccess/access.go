package queueaccess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mediaconv/internal/api"
	"mediaconv/internal/config"
	"mediaconv/internal/queue"
	"mediaconv/internal/services/ffmpeg"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

// Access provides queue operations regardless of HTTP or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.QueueItem, error)
	Describe(ctx context.Context, id string) (*api.QueueItem, error)
	Add(ctx context.Context, source, output, profile string) (api.QueueItem, error)
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Retry(ctx context.Context, ids []string) (int64, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context, scope string) (int64, error)
	Health(ctx context.Context) (api.QueueHealth, error)
	Thumbnail(ctx context.Context, key thumbnail.Key) ([]byte, error)
}

// NewStoreAccess returns an Access backed by direct DB access. Mutations go
// through an idle workflow manager so validation matches the daemon's.
func NewStoreAccess(cfg *config.Config, store *queue.Store, logger *slog.Logger) Access {
	return &storeAccess{
		cfg:       cfg,
		store:     store,
		manager:   workflow.NewManager(cfg, store, nil, logger),
		generator: ffmpeg.NewThumbnailer(cfg.Encoding.FFmpegBinary),
	}
}

type storeAccess struct {
	cfg       *config.Config
	store     *queue.Store
	manager   *workflow.Manager
	generator thumbnail.Generator
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.QueueItem, error) {
	filters, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	items, err := a.store.List(ctx, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]api.QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, api.FromQueueItem(item))
	}
	return out, nil
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.QueueItem, error) {
	item, err := a.store.GetByID(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	dto := api.FromQueueItem(item)
	return &dto, nil
}

func (a *storeAccess) Add(ctx context.Context, source, output, profile string) (api.QueueItem, error) {
	item, err := a.manager.Enqueue(ctx, source, output, profile)
	if err != nil {
		return api.QueueItem{}, err
	}
	return api.FromQueueItem(item), nil
}

func (a *storeAccess) Cancel(ctx context.Context, id string) error {
	return a.manager.Cancel(ctx, id)
}

func (a *storeAccess) Pause(ctx context.Context, id string) error {
	return a.manager.Pause(ctx, id)
}

func (a *storeAccess) Resume(ctx context.Context, id string) error {
	return a.manager.Resume(ctx, id)
}

func (a *storeAccess) Retry(ctx context.Context, ids []string) (int64, error) {
	return a.manager.Retry(ctx, ids...)
}

func (a *storeAccess) Remove(ctx context.Context, id string) error {
	return a.manager.Remove(ctx, id)
}

func (a *storeAccess) Clear(ctx context.Context, scope string) (int64, error) {
	switch normalizeScope(scope) {
	case "all":
		return a.store.Clear(ctx)
	case "completed":
		return a.store.ClearCompleted(ctx)
	case "failed":
		return a.store.ClearFailed(ctx)
	default:
		return 0, fmt.Errorf("unknown clear scope %q", scope)
	}
}

func (a *storeAccess) Health(ctx context.Context) (api.QueueHealth, error) {
	summary, err := a.store.Health(ctx)
	if err != nil {
		return api.QueueHealth{}, err
	}
	return api.FromHealthSummary(summary), nil
}

func (a *storeAccess) Thumbnail(ctx context.Context, key thumbnail.Key) ([]byte, error) {
	if key.Width <= 0 {
		key.Width = a.cfg.Thumbnails.DefaultWidth
	}
	if key.Height <= 0 {
		key.Height = a.cfg.Thumbnails.DefaultHeight
	}
	return a.generator.Generate(ctx, key.Path, key.Position, key.Width, key.Height)
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var out []queue.Status
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func normalizeScope(scope string) string {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return "all"
	}
	return scope
}

package queueaccess_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"mediaconv/internal/api"
	"mediaconv/internal/config"
	"mediaconv/internal/encoding"
	"mediaconv/internal/queue"
	"mediaconv/internal/queueaccess"
	"mediaconv/internal/services"
	"mediaconv/internal/testsupport"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

type idleConverter struct{}

func (idleConverter) Execute(context.Context, *queue.Item, encoding.ProgressSink) (encoding.Outcome, error) {
	return encoding.Succeeded(1), nil
}

type fixedThumbs struct{}

func (fixedThumbs) Get(_ context.Context, key thumbnail.Key) (*bytes.Reader, error) {
	return bytes.NewReader([]byte(key.Path)), nil
}

func startAPI(t *testing.T, cfg *config.Config, store *queue.Store) *queueaccess.Client {
	t.Helper()
	mgr := workflow.NewManager(cfg, store, idleConverter{}, nil)
	router := api.NewRouter(api.Options{
		Token:      "tok",
		Manager:    mgr,
		Queue:      store,
		Thumbnails: fixedThumbs{},
		Status: func(ctx context.Context) api.DaemonStatus {
			return api.DaemonStatus{Running: true, Workflow: api.FromStatusSummary(mgr.Status(ctx))}
		},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client, err := queueaccess.Dial(context.Background(), srv.URL, "tok")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return client
}

// exerciseAccess runs the same scenario against either backing.
func exerciseAccess(t *testing.T, access queueaccess.Access, dir string) {
	t.Helper()
	ctx := context.Background()

	source := filepath.Join(dir, "clip.mkv")
	testsupport.WriteFile(t, source, 4096)
	item, err := access.Add(ctx, source, "", "av1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if item.Status != string(queue.StatusPending) || item.Profile != "av1" || item.SizeBytes != 4096 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if _, err := access.Add(ctx, filepath.Join(dir, "missing.mkv"), "", ""); !errors.Is(err, queue.ErrNotFound) && !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing source, got %v", err)
	}
	if _, err := access.Add(ctx, source, "", "vp9"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := access.Pause(ctx, item.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := access.Pause(ctx, item.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := access.Resume(ctx, item.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := access.Cancel(ctx, item.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stats, err := access.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[string(queue.StatusCancelled)] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
	health, err := access.Health(ctx)
	if err != nil || health.Total != 1 || health.Cancelled != 1 {
		t.Fatalf("unexpected health %+v err=%v", health, err)
	}

	items, err := access.List(ctx, []string{"cancelled"})
	if err != nil || len(items) != 1 {
		t.Fatalf("List cancelled = %+v err=%v", items, err)
	}
	if items, err := access.List(ctx, []string{"pending,paused"}); err != nil || len(items) != 0 {
		t.Fatalf("List pending = %+v err=%v", items, err)
	}
	if _, err := access.List(ctx, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown status filter")
	}

	retried, err := access.Retry(ctx, nil)
	if err != nil || retried != 1 {
		t.Fatalf("Retry = %d err=%v", retried, err)
	}
	described, err := access.Describe(ctx, item.ID)
	if err != nil || described == nil || described.Status != string(queue.StatusPending) {
		t.Fatalf("Describe = %+v err=%v", described, err)
	}
	if missing, err := access.Describe(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("Describe missing = %+v err=%v", missing, err)
	}

	if err := access.Remove(ctx, item.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := access.Remove(ctx, item.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found removing twice, got %v", err)
	}
	if removed, err := access.Clear(ctx, "completed"); err != nil || removed != 0 {
		t.Fatalf("Clear = %d err=%v", removed, err)
	}
}

func TestStoreAccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	exerciseAccess(t, queueaccess.NewStoreAccess(cfg, store, nil), t.TempDir())
}

func TestHTTPAccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := startAPI(t, cfg, store)
	exerciseAccess(t, queueaccess.NewHTTPAccess(client), t.TempDir())

	data, err := client.Thumbnail(context.Background(), thumbnail.Key{Path: "/media/x.mkv", Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if string(data) != "/media/x.mkv" {
		t.Fatalf("unexpected thumbnail bytes %q", data)
	}
}

func TestDialRejectsBadToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, idleConverter{}, nil)
	srv := httptest.NewServer(api.NewRouter(api.Options{Token: "right", Manager: mgr, Queue: store}))
	t.Cleanup(srv.Close)

	_, err := queueaccess.Dial(context.Background(), srv.URL, "wrong")
	var apiErr *queueaccess.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestOpenWithFallbackUsesStoreWhenDaemonDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session, err := queueaccess.OpenWithFallback(cfg,
		func() (*queueaccess.Client, error) {
			return queueaccess.Dial(context.Background(), "127.0.0.1:1", "")
		},
		func() (*queue.Store, error) { return queue.Open(cfg) },
		nil,
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if session.Client != nil {
		t.Fatal("expected store-backed session")
	}
	if _, err := session.Access.Stats(context.Background()); err != nil {
		t.Fatalf("Stats: %v", err)
	}
}

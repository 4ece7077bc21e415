package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func newNtfyService(endpoint string, timeout time.Duration) *ntfyService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (n *ntfyService) NotifyItemCompleted(ctx context.Context, evt Event) error {
	message := fmt.Sprintf("✅ Converted: %s", evt.Title)
	if evt.OutputSize > 0 {
		message = fmt.Sprintf("%s (%s)", message, humanize.Bytes(uint64(evt.OutputSize)))
	}
	if evt.Duration > 0 {
		message = fmt.Sprintf("%s in %s", message, evt.Duration.Round(time.Second))
	}
	if evt.OutputPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, evt.OutputPath)
	}
	return n.send(ctx, payload{
		title:   "mediaconv - Complete",
		message: message,
		tags:    []string{"mediaconv", "convert", "completed"},
	})
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, evt Event) error {
	reason := strings.TrimSpace(evt.ErrorMessage)
	if reason == "" {
		reason = "unknown error"
	}
	return n.send(ctx, payload{
		title:    "mediaconv - Failed",
		message:  fmt.Sprintf("❌ Conversion failed: %s\n%s", evt.Title, reason),
		tags:     []string{"mediaconv", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyItemCancelled(ctx context.Context, evt Event) error {
	return n.send(ctx, payload{
		title:   "mediaconv - Cancelled",
		message: fmt.Sprintf("Conversion cancelled: %s", evt.Title),
		tags:    []string{"mediaconv", "convert", "cancelled"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "mediaconv - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"mediaconv", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

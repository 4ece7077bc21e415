package queueaccess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediaconv/internal/api"
	"mediaconv/internal/queue"
	"mediaconv/internal/services"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

const defaultClientTimeout = 30 * time.Second

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return e.Message
}

// Unwrap maps the status code back onto the sentinel the daemon classified.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return queue.ErrNotFound
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusConflict:
		if strings.Contains(e.Message, workflow.ErrItemRunning.Error()) {
			return workflow.ErrItemRunning
		}
		return queue.ErrInvalidTransition
	case http.StatusBadGateway:
		return services.ErrExternalTool
	default:
		return nil
	}
}

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for addr, either host:port or a full URL.
func NewClient(addr, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: defaultClientTimeout},
	}
}

// Dial returns a client once the daemon answers a status request.
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	client := NewClient(addr, token)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Status(pingCtx); err != nil {
		return nil, err
	}
	return client, nil
}

// NewHTTPAccess returns an Access backed by the daemon API.
func NewHTTPAccess(client *Client) Access {
	return client
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Logs fetches log events after since. With follow set the daemon holds the
// request until new events arrive.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, follow bool, itemID string) (api.LogStreamResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if follow {
		query.Set("follow", "1")
	}
	if itemID != "" {
		query.Set("item", itemID)
	}
	var out api.LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Workflow.QueueStats, nil
}

func (c *Client) List(ctx context.Context, statuses []string) ([]api.QueueItem, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	var out api.QueueListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) Describe(ctx context.Context, id string) (*api.QueueItem, error) {
	var out api.QueueItemResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, nil, &out); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) Add(ctx context.Context, source, output, profile string) (api.QueueItem, error) {
	req := api.EnqueueRequest{SourcePath: source, OutputPath: output, Profile: profile}
	var out api.QueueItemResponse
	err := c.do(ctx, http.MethodPost, "/api/queue", nil, req, &out)
	return out.Item, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.itemAction(ctx, id, "cancel")
}

func (c *Client) Pause(ctx context.Context, id string) error {
	return c.itemAction(ctx, id, "pause")
}

func (c *Client) Resume(ctx context.Context, id string) error {
	return c.itemAction(ctx, id, "resume")
}

func (c *Client) itemAction(ctx context.Context, id, action string) error {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/"+action, nil, nil, nil)
}

func (c *Client) Retry(ctx context.Context, ids []string) (int64, error) {
	var out api.RetryResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/retry", nil, api.RetryRequest{IDs: ids}, &out)
	return out.Retried, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Clear(ctx context.Context, scope string) (int64, error) {
	var out api.ClearResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/clear", nil, api.ClearRequest{Scope: normalizeScope(scope)}, &out)
	return out.Removed, err
}

func (c *Client) Health(ctx context.Context) (api.QueueHealth, error) {
	var out api.QueueHealth
	err := c.do(ctx, http.MethodGet, "/api/queue/health", nil, nil, &out)
	return out, err
}

func (c *Client) Thumbnail(ctx context.Context, key thumbnail.Key) ([]byte, error) {
	query := url.Values{}
	query.Set("path", key.Path)
	if key.Width > 0 {
		query.Set("width", strconv.Itoa(key.Width))
	}
	if key.Height > 0 {
		query.Set("height", strconv.Itoa(key.Height))
	}
	if key.Position > 0 {
		query.Set("position", key.Position.String())
	}
	resp, err := c.send(ctx, http.MethodGet, "/api/thumbnail", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return resp, nil
}

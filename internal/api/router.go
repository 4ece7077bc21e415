package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/queue"
	"mediaconv/internal/services"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

const (
	requestIDHeader   = "X-Request-ID"
	defaultLogLimit   = 200
	followWaitTimeout = 25 * time.Second
)

// QueueManager mutates the queue. *workflow.Manager satisfies it.
type QueueManager interface {
	Enqueue(ctx context.Context, source, output, profile string) (*queue.Item, error)
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Retry(ctx context.Context, ids ...string) (int64, error)
	Remove(ctx context.Context, id string) error
}

// QueueStore reads and prunes queue items. *queue.Store satisfies it.
type QueueStore interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error)
	GetByID(ctx context.Context, id string) (*queue.Item, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
	Clear(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
}

// ThumbnailSource returns encoded thumbnails. *thumbnail.Cache satisfies it.
type ThumbnailSource interface {
	Get(ctx context.Context, key thumbnail.Key) (*bytes.Reader, error)
}

// Options wires the router to the daemon's components.
type Options struct {
	Token           string
	Manager         QueueManager
	Queue           QueueStore
	Thumbnails      ThumbnailSource
	ThumbnailWidth  int
	ThumbnailHeight int
	Metrics         *metrics.Metrics
	Logs            *logging.StreamHub
	Status          func(ctx context.Context) DaemonStatus
	Logger          *slog.Logger
}

type handlers struct {
	opts   Options
	logger *slog.Logger
}

// NewRouter builds the gin engine serving the HTTP API.
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	h := &handlers{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "api")}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestContext())
	r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := r.Group("/api", h.auth())
	api.GET("/status", h.status)
	api.GET("/logs", h.logs)
	api.GET("/thumbnail", h.thumbnail)

	q := api.Group("/queue")
	q.GET("", h.listQueue)
	q.POST("", h.enqueue)
	q.POST("/retry", h.retryMany)
	q.POST("/clear", h.clear)
	q.GET("/health", h.health)
	q.GET("/:id", h.getItem)
	q.DELETE("/:id", h.removeItem)
	q.POST("/:id/cancel", h.itemAction(func(ctx context.Context, id string) error { return opts.Manager.Cancel(ctx, id) }))
	q.POST("/:id/pause", h.itemAction(func(ctx context.Context, id string) error { return opts.Manager.Pause(ctx, id) }))
	q.POST("/:id/resume", h.itemAction(func(ctx context.Context, id string) error { return opts.Manager.Resume(ctx, id) }))
	q.POST("/:id/retry", h.itemAction(func(ctx context.Context, id string) error {
		n, err := opts.Manager.Retry(ctx, id)
		if err == nil && n == 0 {
			err = queue.ErrInvalidTransition
		}
		return err
	}))
	return r
}

func (h *handlers) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()
		logging.WithContext(c.Request.Context(), h.logger).Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
		)
	}
}

// auth validates bearer tokens. With no token configured every request passes.
func (h *handlers) auth() gin.HandlerFunc {
	token := h.opts.Token
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		provided, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *handlers) status(c *gin.Context) {
	if h.opts.Status == nil {
		c.JSON(http.StatusOK, DaemonStatus{Running: true})
		return
	}
	c.JSON(http.StatusOK, h.opts.Status(c.Request.Context()))
}

func (h *handlers) listQueue(c *gin.Context) {
	var statuses []queue.Status
	for _, raw := range c.QueryArray("status") {
		for _, value := range strings.Split(raw, ",") {
			if strings.TrimSpace(value) == "" {
				continue
			}
			status, ok := queue.ParseStatus(value)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(value)})
				return
			}
			statuses = append(statuses, status)
		}
	}
	items, err := h.opts.Queue.List(c.Request.Context(), statuses...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	c.JSON(http.StatusOK, QueueListResponse{Items: out})
}

func (h *handlers) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	item, err := h.opts.Manager.Enqueue(c.Request.Context(), req.SourcePath, req.OutputPath, req.Profile)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, QueueItemResponse{Item: FromQueueItem(item)})
}

func (h *handlers) retryMany(c *gin.Context) {
	var req RetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	n, err := h.opts.Manager.Retry(c.Request.Context(), req.IDs...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RetryResponse{Retried: n})
}

func (h *handlers) clear(c *gin.Context) {
	var req ClearRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	var clearFn func(context.Context) (int64, error)
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "", "all":
		clearFn = h.opts.Queue.Clear
	case "completed":
		clearFn = h.opts.Queue.ClearCompleted
	case "failed":
		clearFn = h.opts.Queue.ClearFailed
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown clear scope " + strconv.Quote(req.Scope)})
		return
	}
	removed, err := clearFn(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ClearResponse{Removed: removed})
}

func (h *handlers) health(c *gin.Context) {
	summary, err := h.opts.Queue.Health(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FromHealthSummary(summary))
}

func (h *handlers) getItem(c *gin.Context) {
	item, err := h.opts.Queue.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	c.JSON(http.StatusOK, QueueItemResponse{Item: FromQueueItem(item)})
}

func (h *handlers) removeItem(c *gin.Context) {
	if err := h.opts.Manager.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) itemAction(action func(ctx context.Context, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := action(c.Request.Context(), id); err != nil {
			h.writeError(c, err)
			return
		}
		h.getItem(c)
	}
}

func (h *handlers) thumbnail(c *gin.Context) {
	if h.opts.Thumbnails == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "thumbnails unavailable"})
		return
	}
	key, err := h.thumbnailKey(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reader, err := h.opts.Thumbnails.Get(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, int64(reader.Len()), "image/jpeg", reader, nil)
}

func (h *handlers) thumbnailKey(c *gin.Context) (thumbnail.Key, error) {
	key := thumbnail.Key{
		Path:   strings.TrimSpace(c.Query("path")),
		Width:  h.opts.ThumbnailWidth,
		Height: h.opts.ThumbnailHeight,
	}
	if key.Path == "" {
		return key, errors.New("path is required")
	}
	for name, dst := range map[string]*int{"width": &key.Width, "height": &key.Height} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 4096 {
			return key, errors.New(name + " must be between 1 and 4096")
		}
		*dst = value
	}
	if raw := strings.TrimSpace(c.Query("position")); raw != "" {
		position, err := parsePosition(raw)
		if err != nil {
			return key, err
		}
		key.Position = position
	}
	return key, nil
}

// parsePosition accepts a Go duration ("1m30s") or plain seconds ("90.5").
func parsePosition(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0, errors.New("position must be a non-negative duration or number of seconds")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (h *handlers) logs(c *gin.Context) {
	hub := h.opts.Logs
	if hub == nil {
		c.JSON(http.StatusOK, LogStreamResponse{Events: []logging.LogEvent{}})
		return
	}
	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := isTruthy(c.Query("follow"))
	tail := isTruthy(c.Query("tail"))
	itemID := strings.TrimSpace(c.Query("item"))
	component := strings.TrimSpace(c.Query("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		ctx := c.Request.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, followWaitTimeout)
			defer cancel()
		}
		var err error
		events, next, err = hub.Fetch(ctx, since, limit, follow)
		if err != nil && !services.IsCancellation(err) {
			h.writeError(c, err)
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if itemID != "" && evt.ItemID != itemID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	c.JSON(http.StatusOK, LogStreamResponse{Events: filtered, Next: next})
}

func isTruthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (h *handlers) writeError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(c.Request.Context(), h.logger).Warn("api request failed",
			logging.String("path", c.FullPath()),
			logging.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrInvalidTransition), errors.Is(err, workflow.ErrItemRunning):
		return http.StatusConflict
	case errors.Is(err, thumbnail.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrExternalTool):
		return http.StatusBadGateway
	case services.IsCancellation(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

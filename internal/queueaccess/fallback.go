package queueaccess

import (
	"errors"
	"fmt"
	"log/slog"

	"mediaconv/internal/config"
	"mediaconv/internal/queue"
)

// Session is an open Access plus whatever must be released with it.
type Session struct {
	Access Access
	// Client is the daemon client when the API answered; nil when the
	// session reads the store directly.
	Client  *Client
	release func() error
}

// Close releases the store handle, if the session opened one.
func (s Session) Close() error {
	if s.release != nil {
		return s.release()
	}
	return nil
}

// OpenWithFallback prefers the running daemon. When dial fails or is nil,
// the queue database is opened in-process instead.
func OpenWithFallback(
	cfg *config.Config,
	dial func() (*Client, error),
	openStore func() (*queue.Store, error),
	logger *slog.Logger,
) (Session, error) {
	if client := tryDial(dial); client != nil {
		return Session{Access: NewHTTPAccess(client), Client: client}, nil
	}
	if openStore == nil {
		return Session{}, errors.New("daemon unreachable and no queue store available")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{Access: NewStoreAccess(cfg, store, logger), release: store.Close}, nil
}

func tryDial(dial func() (*Client, error)) *Client {
	if dial == nil {
		return nil
	}
	client, err := dial()
	if err != nil {
		return nil
	}
	return client
}

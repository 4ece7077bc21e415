package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mediaconv/internal/logging"
)

const amqpExchangeKind = "topic"

// amqpChannel is the subset of *amqp.Channel the publisher relies on.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// AMQPPublisher publishes item events as JSON messages to a durable topic
// exchange. Routing keys take the form item.<status>. The connection is
// opened on first use and re-established after a publish failure.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger
	dial     dialFunc

	mu      sync.Mutex
	channel amqpChannel
	conn    io.Closer
}

// NewAMQPPublisher creates a publisher; no connection is made until the
// first event is sent.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logging.NewComponentLogger(logger, "amqp"),
		dial:     dialAMQP,
	}
}

type amqpMessage struct {
	Event
	Type string `json:"type"`
}

func (p *AMQPPublisher) NotifyItemCompleted(ctx context.Context, evt Event) error {
	return p.publish(ctx, "item.completed", evt)
}

func (p *AMQPPublisher) NotifyItemFailed(ctx context.Context, evt Event) error {
	return p.publish(ctx, "item.failed", evt)
}

func (p *AMQPPublisher) NotifyItemCancelled(ctx context.Context, evt Event) error {
	return p.publish(ctx, "item.cancelled", evt)
}

func (p *AMQPPublisher) TestNotification(ctx context.Context) error {
	return p.publish(ctx, "system.test", Event{Title: "Notification system test", OccurredAt: time.Now().UTC()})
}

func (p *AMQPPublisher) publish(ctx context.Context, key string, evt Event) error {
	body, err := json.Marshal(amqpMessage{Event: evt, Type: key})
	if err != nil {
		return fmt.Errorf("encode amqp message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    evt.OccurredAt,
		AppId:        "mediaconv",
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.Debug("amqp event published",
		logging.String("routing_key", key),
		logging.Item(evt.ItemID),
		logging.String("message_id", msg.MessageId),
	)
	return nil
}

func (p *AMQPPublisher) channelLocked() (amqpChannel, error) {
	if p.channel != nil {
		return p.channel, nil
	}
	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqpExchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	p.conn = conn
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.channel = nil
	p.conn = nil
	return errors.Join(errs...)
}

// Close drops the broker connection if one is open.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetLocked()
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ExchangeName is the topic exchange all events are published to.
const ExchangeName = "livepoll.events"

// Publisher emits domain events.
type Publisher interface {
	PublishSessionCreated(ctx context.Context, data SessionData) error
	PublishSessionEnded(ctx context.Context, data SessionData) error
	PublishExportCompleted(ctx context.Context, data ExportData) error
	PublishExportFailed(ctx context.Context, data ExportData) error
	Close() error
}

// EventPublisher implements Publisher on RabbitMQ. A publisher built from an empty URI is disabled and
// drops every event.
type EventPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	enabled  bool
	logger   *zap.Logger
}

// NewEventPublisher dials RabbitMQ and declares the events exchange.
func NewEventPublisher(rabbitURI string, logger *zap.Logger) (*EventPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rabbitURI == "" {
		logger.Warn("RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{enabled: false, logger: logger}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	logger.Info("RabbitMQ event publisher connected", zap.String("exchange", ExchangeName))
	return &EventPublisher{
		conn:     conn,
		channel:  channel,
		exchange: ExchangeName,
		enabled:  true,
		logger:   logger,
	}, nil
}

// Enabled reports whether events reach a broker.
func (p *EventPublisher) Enabled() bool { return p.enabled }

func (p *EventPublisher) publish(ctx context.Context, event Event) error {
	if !p.enabled {
		p.logger.Debug("event publishing disabled, skipping", zap.String("type", string(event.Type)))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchange,         // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.logger.Debug("event published", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
	return nil
}

// PublishSessionCreated publishes session.created.
func (p *EventPublisher) PublishSessionCreated(ctx context.Context, data SessionData) error {
	return p.publish(ctx, newEvent(TypeSessionCreated, data))
}

// PublishSessionEnded publishes session.ended.
func (p *EventPublisher) PublishSessionEnded(ctx context.Context, data SessionData) error {
	return p.publish(ctx, newEvent(TypeSessionEnded, data))
}

// PublishExportCompleted publishes export.completed.
func (p *EventPublisher) PublishExportCompleted(ctx context.Context, data ExportData) error {
	return p.publish(ctx, newEvent(TypeExportCompleted, data))
}

// PublishExportFailed publishes export.failed.
func (p *EventPublisher) PublishExportFailed(ctx context.Context, data ExportData) error {
	return p.publish(ctx, newEvent(TypeExportFailed, data))
}

// Close shuts the channel and connection.
func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("close rabbitmq channel", zap.Error(err))
	}
	return p.conn.Close()
}

// Package analytics captures product events on a RabbitMQ queue.
// Capture is fire-and-forget with the same isolation as webhooks: a broker
// failure is logged and counted, never surfaced to the triggering request.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const captureQueue = "ticket_analytics_events"

// Publisher captures named events with properties.
type Publisher interface {
	CaptureEvent(ctx context.Context, name string, properties map[string]any) error
}

type capturedEvent struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
}

// AMQPPublisher publishes capture events as persistent JSON messages.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	published int64
	failed    int64
}

// NewAMQPPublisher connects to the broker and declares the capture queue.
func NewAMQPPublisher(url string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(captureQueue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	logger.Info("connected to rabbitmq", zap.String("queue", captureQueue))
	return &AMQPPublisher{conn: conn, channel: channel, logger: logger}, nil
}

func (p *AMQPPublisher) CaptureEvent(ctx context.Context, name string, properties map[string]any) error {
	body, err := json.Marshal(capturedEvent{
		Name:       name,
		Properties: properties,
		CapturedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal capture event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		"",           // default exchange
		captureQueue, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.failed++
		return fmt.Errorf("publish capture event: %w", err)
	}

	p.published++
	return nil
}

// Counts returns published/failed totals for health reporting.
func (p *AMQPPublisher) Counts() (published, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.failed
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// NopPublisher discards events; used when analytics is not configured.
type NopPublisher struct{}

func (NopPublisher) CaptureEvent(context.Context, string, map[string]any) error {
	return nil
}

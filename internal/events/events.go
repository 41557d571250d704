// Package events publishes notifications about ingested mail.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RoutingKeyIngested is the routing key of EntryIngested events.
const RoutingKeyIngested = "mail.ingested"

// EntryIngested is emitted after a mailbox entry commits.
type EntryIngested struct {
	AccountID  string    `json:"account_id"`
	EntryID    string    `json:"entry_id"`
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Folder     string    `json:"folder"`
	Spam       bool      `json:"spam"`
	ReceivedAt time.Time `json:"received_at"`
}

// Publisher delivers ingestion events. Implementations must not block the
// pipeline for long; a failed publish never rolls back the entry.
type Publisher interface {
	PublishIngested(ctx context.Context, ev EntryIngested) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishIngested(context.Context, EntryIngested) error { return nil }
func (Nop) Close() error                                         { return nil }

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishIngested(ctx context.Context, ev EntryIngested) error {
	msg, err := publishing(ev)
	if err != nil {
		return err
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyIngested, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyIngested, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func publishing(ev EntryIngested) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.EntryID,
		Timestamp:    time.Now().UTC(),
	}, nil
}

package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"workflow_digest/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPSender hands rendered digests to a mailer service through RabbitMQ.
type AMQPSender struct {
	conn       *amqp091.Connection
	channel    publisher
	exchange   string
	routingKey string
	mu         sync.Mutex
}

// digestMessage is the JSON body consumed by the mailer.
type digestMessage struct {
	To      string          `json:"to"`
	Subject string          `json:"subject"`
	Text    string          `json:"text"`
	Digest  json.RawMessage `json:"digest,omitempty"`
}

// NewAMQPSender connects to the broker and declares the durable topic exchange.
func NewAMQPSender(url, exchange, routingKey string) (*AMQPSender, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPSender{conn: conn, channel: channel, exchange: exchange, routingKey: routingKey}, nil
}

func (s *AMQPSender) Send(ctx context.Context, address string, d *notification.RenderedDigest) error {
	msg, err := buildPublishing(address, d, time.Now())
	if err != nil {
		return &notification.SendError{Address: address, Reason: "encode message", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, msg); err != nil {
		return &notification.SendError{Address: address, Reason: "publish failed", Err: err}
	}
	return nil
}

func (s *AMQPSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func buildPublishing(address string, d *notification.RenderedDigest, now time.Time) (amqp091.Publishing, error) {
	body, err := json.Marshal(digestMessage{
		To:      address,
		Subject: d.Subject,
		Text:    d.Body,
		Digest:  d.Payload,
	})
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Body:         body,
	}, nil
}

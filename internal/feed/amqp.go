package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpPrefetch = 32

// AMQPSource consumes the same event envelopes from a RabbitMQ queue.
// Malformed events are nacked without requeue; other handler errors are
// requeued.
type AMQPSource struct {
	url     string
	queue   string
	backoff time.Duration
	logger  *slog.Logger
}

// NewAMQPSource creates a source reading queue on the broker at url.
func NewAMQPSource(url, queue string, logger *slog.Logger) *AMQPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPSource{url: url, queue: queue, backoff: 2 * time.Second, logger: logger}
}

// Run consumes until ctx is done, redialing when the broker goes away.
func (s *AMQPSource) Run(ctx context.Context, h Handler) error {
	for {
		err := s.consume(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.WarnContext(ctx, "kitchen feed consumer stopped", "queue", s.queue, "error", err, "retry_in", s.backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.backoff):
		}
	}
}

func (s *AMQPSource) consume(ctx context.Context, h Handler) error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareFeedQueue(ch, s.queue); err != nil {
		return err
	}
	if err := ch.Qos(amqpPrefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		s.queue,
		"order-core-kitchen", // consumer tag
		false,                // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	s.logger.InfoContext(ctx, "kitchen feed consuming", "queue", s.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			s.settle(ctx, msg, h(ctx, msg.Body))
		}
	}
}

func (s *AMQPSource) settle(ctx context.Context, msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, ErrMalformed):
		s.logger.WarnContext(ctx, "dropping malformed kitchen feed event", "error", err)
		_ = msg.Nack(false, false)
	default:
		s.logger.ErrorContext(ctx, "kitchen feed event failed, requeueing", "error", err)
		_ = msg.Nack(false, true)
	}
}

// AMQPPublisher relays event envelopes to a queue, so displays on other
// hosts can consume them with AMQPSource.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher dials url and declares queue.
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareFeedQueue(ch, queue); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends one payload as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         payload,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	return errors.Join(p.ch.Close(), p.conn.Close())
}

// Publisher forwards raw payloads. Satisfied by *AMQPPublisher.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Relay returns a Handler that runs next and then forwards the payload.
// A failed publish is logged and does not fail the local apply.
func Relay(next Handler, pub Publisher, logger *slog.Logger) Handler {
	return func(ctx context.Context, payload []byte) error {
		err := next(ctx, payload)
		if errors.Is(err, ErrMalformed) {
			return err
		}
		if pubErr := pub.Publish(ctx, payload); pubErr != nil {
			logger.ErrorContext(ctx, "relay kitchen feed event", "error", pubErr)
		}
		return err
	}
}

func declareFeedQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}
	return nil
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"wabridge/internal/domain"
)

const (
	dialAttempts = 5
	dialDelay    = 2 * time.Second
	publishTTL   = 10 * time.Second
)

// AMQPSink publishes relayed events to a topic exchange, for deployments that
// want a broker feed next to the panel webhook. All failures are logged and
// swallowed.
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPSink dials the broker with a bounded retry and declares the topic
// exchange.
func NewAMQPSink(ctx context.Context, url, exchange string, logger *slog.Logger) (*AMQPSink, error) {
	var conn *amqp091.Connection
	var lastErr error
	for i := 1; i <= dialAttempts; i++ {
		var err error
		conn, err = amqp091.Dial(url)
		if err == nil {
			if i > 1 {
				logger.Info("amqp connected", slog.Int("attempt", i))
			}
			break
		}
		lastErr = err
		logger.Warn("amqp dial failed", slog.Int("attempt", i), slog.Any("error", err))
		timer := time.NewTimer(dialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("amqp dial after %d attempts: %w", dialAttempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish sends one event, keyed wabridge.event.<kind>.
func (s *AMQPSink) Publish(ev domain.RelayEvent) {
	ch, err := s.conn.Channel()
	if err != nil {
		s.logger.Warn("amqp channel open failed", "err", err)
		return
	}
	defer ch.Close()

	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("amqp marshal failed", "event", ev.ID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()

	key := "wabridge.event." + string(ev.Kind)
	err = ch.PublishWithContext(
		ctx, s.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     ev.ID,
			CorrelationId: uuid.NewString(),
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		s.logger.Warn("amqp publish failed", "key", key, "err", err)
		return
	}
	s.logger.Info("amqp published", slog.String("key", key), slog.String("exchange", s.exchange))
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}

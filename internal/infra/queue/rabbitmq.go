package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
)

// RabbitEventSink публикует события доставки в очередь RabbitMQ.
// Соединение поднимается лениво и пересоздаётся после ошибки.
type RabbitEventSink struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.EventSink = (*RabbitEventSink)(nil)

// NewRabbitEventSink создаёт публикатор.
func NewRabbitEventSink(amqpURL, queue string) (*RabbitEventSink, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	return &RabbitEventSink{url: amqpURL, queue: queue}, nil
}

// Publish отправляет событие как persistent-сообщение.
func (s *RabbitEventSink) Publish(ctx context.Context, event domain.DeliveryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err = s.publishLocked(ctx, event, body)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", s.queue, start, err)
	if err != nil {
		s.resetLocked()
	}
	return err
}

func (s *RabbitEventSink) publishLocked(ctx context.Context, event domain.DeliveryEvent, body []byte) error {
	if err := s.ensureLocked(); err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.At,
		Body:         body,
	})
}

func (s *RabbitEventSink) ensureLocked() error {
	if s.ch != nil && !s.ch.IsClosed() {
		return nil
	}
	s.resetLocked()
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	s.conn, s.ch = conn, ch
	return nil
}

func (s *RabbitEventSink) resetLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

// Close закрывает соединение.
func (s *RabbitEventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

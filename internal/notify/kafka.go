package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/worker"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the notifier uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer that keeps messages for one key on one partition
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaEvent is the JSON value of every published message
type KafkaEvent struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// KafkaNotifier publishes notifications as JSON events keyed by check or service id
type KafkaNotifier struct {
	writer MessageWriter
	pool   Submitter
	now    func() time.Time
}

// NewKafkaNotifier creates a Kafka notifier. A nil pool publishes inline.
func NewKafkaNotifier(writer MessageWriter, pool Submitter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, pool: pool, now: time.Now}
}

func (n *KafkaNotifier) NotifyCheckFailed(ctx context.Context, check model.Check, result model.Result) error {
	event := KafkaEvent{
		Event:     model.CheckFailed{}.EventName(),
		Timestamp: result.CreatedAt,
		Payload: map[string]any{
			"check_id":   check.CheckID,
			"service_id": check.ServiceID,
			"check_type": check.CheckType,
			"name":       check.Name,
			"result_id":  result.ResultID,
			"status":     result.Status,
			"error_type": result.ErrorType(),
			"error_msg":  result.ErrorMessage(),
		},
	}
	return n.publish(ctx, "check:"+strconv.FormatInt(check.CheckID, 10), event)
}

func (n *KafkaNotifier) NotifyServiceStatusChanged(ctx context.Context, service model.Service, status model.ServiceStatus) error {
	event := KafkaEvent{
		Event:     model.ServiceStatusChanged{}.EventName(),
		Timestamp: n.now().Unix(),
		Payload: map[string]any{
			"service_id": service.ServiceID,
			"name":       service.Name,
			"status":     status,
		},
	}
	return n.publish(ctx, "service:"+strconv.FormatInt(service.ServiceID, 10), event)
}

// Close closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) publish(ctx context.Context, key string, event KafkaEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: value}

	if n.pool == nil {
		return n.write(ctx, msg)
	}
	err = n.pool.Submit(worker.Job{
		Name: "kafka:" + event.Event,
		Key:  key,
		Run: func(ctx context.Context) error {
			return n.write(ctx, msg)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to queue kafka event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) write(ctx context.Context, msg kafka.Message) error {
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", msg.Key, err)
	}
	return nil
}

package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/event"
)

// HeaderEventType carries the event type on every Kafka message.
const HeaderEventType = "event-type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Producer string
}

// KafkaPublisher writes events to one topic keyed by order ID, so events of
// an order keep their order within a partition.
type KafkaPublisher struct {
	w        messageWriter
	producer string
	lg       *zap.Logger
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery errors are
// reported to the log by the writer's completion callback.
func NewKafkaPublisher(cfg KafkaConfig, lg *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				lg.Warn("Deliver event to Kafka failed",
					zap.ByteString("key", m.Key),
					zap.String("topic", cfg.Topic),
					zap.Error(err),
				)
			}
		},
	}
	return newKafkaPublisher(w, cfg.Producer, lg)
}

func newKafkaPublisher(w messageWriter, producer string, lg *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, producer: producer, lg: lg}
}

// Publish enqueues ev.
func (p *KafkaPublisher) Publish(ctx context.Context, ev event.Event) error {
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: EncodeEnvelope(ev, p.producer),
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s", ev.Type)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

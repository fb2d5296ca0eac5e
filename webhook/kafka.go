package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

const DefaultTopic = "leave.events"

// MessageWriter is the part of *kafka.Writer the emitter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaEmitter struct {
	writer MessageWriter
	topic  string
	d      dispatcher
}

// NewKafkaWriter builds a writer for brokers. The topic is set per message.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaEmitter(writer MessageWriter, topic string, timeout time.Duration, logger *zap.Logger) *KafkaEmitter {
	if topic == "" {
		topic = DefaultTopic
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaEmitter{
		writer: writer,
		topic:  topic,
		d:      dispatcher{logger: logger.Named("webhook.kafka"), timeout: timeout},
	}
}

// EmitLeaveCreated publishes ev keyed by request id, so every event for a
// request lands on the same partition.
func (e *KafkaEmitter) EmitLeaveCreated(ctx context.Context, ev leave.WebhookEvent, opts leave.EmitOptions) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode webhook event")
	}
	msg := kafka.Message{
		Topic: e.topic,
		Key:   []byte(ev.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventLeaveCreated)},
			{Key: "workspace_id", Value: []byte(ev.WorkspaceID)},
		},
	}
	return e.d.dispatch(ctx, opts.Async, ev, func(ctx context.Context) error {
		return errors.Wrap(e.writer.WriteMessages(ctx, msg), "publish leave event")
	})
}

// Close waits for in-flight async deliveries, then closes the writer.
func (e *KafkaEmitter) Close() error {
	e.d.wait()
	return e.writer.Close()
}

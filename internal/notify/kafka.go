package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaNotifier publishes lifecycle events to a Kafka topic for downstream
// delivery (mail, push, campus displays). Publishing is asynchronous; the
// Notifier contract forbids blocking a transition on delivery.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// kafkaEvent is the wire shape of one notification record.
type kafkaEvent struct {
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	PermitID  string    `json:"permit_id"`
	Reason    string    `json:"reason,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// NewKafka connects a notifier to the given comma-separated broker list.
func NewKafka(brokers, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka notifier: %w", err)
	}

	return &KafkaNotifier{client: client, topic: topic, logger: logger}, nil
}

// Notify enqueues the event keyed by recipient, so per-recipient ordering is
// preserved across partitions. Delivery errors are logged by the callback;
// the caller already treats notification failure as non-fatal.
func (n *KafkaNotifier) Notify(ctx context.Context, kind EventKind, recipient uuid.UUID, payload Payload) error {
	value, err := json.Marshal(kafkaEvent{
		Kind:      string(kind),
		Recipient: recipient.String(),
		PermitID:  payload.PermitID.String(),
		Reason:    payload.Reason,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(recipient.String()),
		Value: value,
	}
	n.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			n.logger.Error("notification delivery failed",
				"topic", r.Topic,
				"kind", string(kind),
				"error", err,
			)
		}
	})
	return nil
}

// Healthy reports whether the brokers are reachable.
func (n *KafkaNotifier) Healthy(ctx context.Context) error {
	return n.client.Ping(ctx)
}

// Close flushes buffered events and shuts the client down.
func (n *KafkaNotifier) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := n.client.Flush(ctx); err != nil {
		n.logger.Warn("kafka notifier closed with unflushed events", "error", err)
	}
	n.client.Close()
	return nil
}

package notifier

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

// Incident is the record published for every punished attacker.
type Incident struct {
	TenantID    string    `json:"tenant_id"`
	ActorID     string    `json:"actor_id"`
	Verb        string    `json:"verb"`
	ActionCount int       `json:"action_count"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
	Outcome     string    `json:"outcome"`
	At          time.Time `json:"at"`
}

// IncidentStream publishes incidents to a Kafka topic, keyed by tenant so
// one guild's incidents stay ordered.
type IncidentStream struct {
	writer *kafka.Writer
}

func NewIncidentStream(brokers []string, topic string) *IncidentStream {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logging.Warn("[STREAM] Failed to publish %d incidents: %v", len(messages), err)
			}
		},
	}
	return &IncidentStream{writer: writer}
}

func (s *IncidentStream) Publish(ctx context.Context, inc Incident) error {
	if s == nil {
		return nil
	}
	value, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(inc.TenantID),
		Value: value,
		Time:  inc.At,
	})
}

func (s *IncidentStream) Close() error {
	if s == nil {
		return nil
	}
	return s.writer.Close()
}

// Package notify hands events for offline users to the push pipeline.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"chat-engine/internal/models"
)

// Notifier receives summaries of events that found no live connection.
type Notifier interface {
	Notify(ctx context.Context, summary models.NotificationSummary) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes summaries to a topic keyed by recipient, so one user's
// notifications stay on one partition.
type KafkaNotifier struct {
	w messageWriter
}

// NewKafkaNotifier builds an asynchronous producer for the comma separated brokers.
func NewKafkaNotifier(brokers, topic string) *KafkaNotifier {
	addrs := strings.Split(brokers, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}
	return &KafkaNotifier{w: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}}
}

func (n *KafkaNotifier) Notify(ctx context.Context, summary models.NotificationSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	err = n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(summary.UserID, 10)),
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		log.Printf("kafka notify failed user_id=%d event_type=%s err=%v", summary.UserID, summary.EventType, err)
	}
	return err
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// Noop drops summaries. It is used when no broker is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, summary models.NotificationSummary) error { return nil }
func (Noop) Close() error                                                        { return nil }

// New returns a KafkaNotifier, or Noop when brokers is empty.
func New(brokers, topic string) Notifier {
	if strings.TrimSpace(brokers) == "" {
		log.Printf("kafka notifier disabled, using noop: empty brokers")
		return Noop{}
	}
	log.Printf("kafka notifier enabled topic=%s", topic)
	return NewKafkaNotifier(brokers, topic)
}

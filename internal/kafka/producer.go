package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RaikyD/vin-report-service/internal/domain"
)

// Producer writes JSON messages keyed by order key. The topic is set per
// message so one writer serves events and resend commands.
type Producer struct {
	w           *kafka.Writer
	eventsTopic string
	resendTopic string
}

func NewProducer(brokersSTR, eventsTopic, resendTopic string) *Producer {
	brokers := strings.Split(brokersSTR, ",")

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			WriteTimeout: 5 * time.Second,
		},
		eventsTopic: eventsTopic,
		resendTopic: resendTopic,
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// PublishOutcome emits the terminal outcome of one order.
func (p *Producer) PublishOutcome(ctx context.Context, ev domain.DeliveryEvent) error {
	return p.publish(ctx, p.eventsTopic, ev.OrderKey, "delivery-event", ev)
}

// PublishResend queues a resend command for the consumer side.
func (p *Producer) PublishResend(ctx context.Context, cmd domain.ResendCommand) error {
	return p.publish(ctx, p.resendTopic, cmd.OrderKey, "resend-command", cmd)
}

func (p *Producer) publish(ctx context.Context, topic, key, kind string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "type", Value: []byte(kind)},
		},
	})
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RaikyD/vin-report-service/internal/application"
	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/logger"
)

const maxResendAttempts = 5

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

type Resender interface {
	Resend(ctx context.Context, cmd domain.ResendCommand) (domain.Outcome, error)
}

// messageReader is the subset of *kafka.Reader the loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartResendConsumer reads resend commands until ctx is cancelled.
func StartResendConsumer(ctx context.Context, svc Resender, cfg ConsumerConfig) *kafka.Reader {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka resend consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	go consume(ctx, r, svc, 300*time.Millisecond)
	return r
}

func consume(ctx context.Context, r messageReader, svc Resender, backoff time.Duration) {
	defer r.Close()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka fetch error", "err", err)
			sleep(ctx, backoff)
			continue
		}

		handle(ctx, svc, m, backoff)

		if err := r.CommitMessages(ctx, m); err != nil {
			logger.Warn("kafka commit failed", "err", err)
		} else {
			logger.Debug("kafka committed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
		}
	}
}

// handle runs one command. It returns once the command succeeded, can never
// succeed, or ran out of attempts; the message is committed either way.
func handle(ctx context.Context, svc Resender, m kafka.Message, backoff time.Duration) {
	var cmd domain.ResendCommand
	if err := json.Unmarshal(m.Value, &cmd); err != nil {
		logger.Warn("kafka invalid json. skip and commit", "offset", m.Offset, "err", err)
		return
	}

	wait := backoff
	for attempt := 1; attempt <= maxResendAttempts; attempt++ {
		out, err := svc.Resend(ctx, cmd)
		if err == nil {
			logger.Info("resend command done", "order_key", out.OrderKey, "report_id", out.ReportID)
			return
		}
		if errors.Is(err, application.ErrInvalidResend) {
			logger.Warn("resend command rejected", "order_key", cmd.OrderKey, "err", err)
			return
		}
		logger.Warn("resend failed, will retry", "order_key", cmd.OrderKey, "attempt", attempt, "err", err)
		if !sleep(ctx, wait) {
			return
		}
		wait *= 2
	}
	logger.Error("resend gave up", "order_key", cmd.OrderKey, "vin", cmd.VIN, "attempts", maxResendAttempts)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

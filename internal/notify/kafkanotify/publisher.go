// Package kafkanotify publishes ledger mutation events to a Kafka topic so the
// operations dashboard can refresh balances without polling.
package kafkanotify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/remitops/minorista-ledger/pkg/ledger"
)

const publishTimeout = 5 * time.Second

// Publisher sends MutationEvents through a kafka-go writer. Publishing is
// best effort: a broker outage must never fail a committed ledger operation,
// so errors are logged and dropped.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// New returns a Publisher for the given brokers and topic.
func New(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		logger: logger,
	}
}

// NotifyMutation implements ledger.MutationNotifier. Events are keyed by
// account so per-account ordering survives partitioning.
func (publisher *Publisher) NotifyMutation(ctx context.Context, event ledger.MutationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		publisher.logger.Error("marshal mutation event",
			zap.String("account_id", event.AccountID),
			zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = publisher.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: payload,
	})
	if err != nil {
		publisher.logger.Error("publish mutation event",
			zap.String("account_id", event.AccountID),
			zap.String("operation", event.Operation),
			zap.Error(err))
		return
	}
	publisher.logger.Debug("published mutation event",
		zap.String("account_id", event.AccountID),
		zap.String("operation", event.Operation))
}

// Close flushes and closes the underlying writer.
func (publisher *Publisher) Close() error {
	return publisher.writer.Close()
}

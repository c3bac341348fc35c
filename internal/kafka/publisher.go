package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"tab-relay/internal/models"
)

// RecordPublisher mirrors backend records to Kafka.
type RecordPublisher interface {
	PublishRecord(ctx context.Context, rec models.ProfileRecord) error
	PublishFailure(ctx context.Context, failure models.DeliveryFailure) error
}

// Publisher writes processed records to the results topic and undeliverable ones to the DLQ topic.
type Publisher struct {
	results MessageWriter
	dlq     MessageWriter
}

// NewWriter returns a kafka.Writer for topic.
func NewWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
}

// NewPublisher creates a publisher for the given broker and topics.
func NewPublisher(broker, resultsTopic, dlqTopic string) *Publisher {
	return &Publisher{
		results: NewWriter(broker, resultsTopic),
		dlq:     NewWriter(broker, dlqTopic),
	}
}

// NewPublisherWithWriters builds a publisher using custom writers (tests). Either may be nil.
func NewPublisherWithWriters(results, dlq MessageWriter) *Publisher {
	return &Publisher{results: results, dlq: dlq}
}

// Close shuts down the underlying writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.results != nil {
		errs = append(errs, p.results.Close())
	}
	if p.dlq != nil {
		errs = append(errs, p.dlq.Close())
	}
	return errors.Join(errs...)
}

// PublishRecord writes a processed record to the results topic.
func (p *Publisher) PublishRecord(ctx context.Context, rec models.ProfileRecord) error {
	if p.results == nil {
		return nil
	}
	return write(ctx, p.results, recordKey(rec), rec)
}

// PublishFailure writes a record the backend never accepted to the DLQ topic.
func (p *Publisher) PublishFailure(ctx context.Context, failure models.DeliveryFailure) error {
	if p.dlq == nil {
		return nil
	}
	return write(ctx, p.dlq, recordKey(failure.Record), failure)
}

func recordKey(rec models.ProfileRecord) string {
	if rec.SessionID != "" {
		return rec.SessionID
	}
	return rec.ProfileURL
}

func write(ctx context.Context, w MessageWriter, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	return w.WriteMessages(ctx, msg)
}

// Package bus wires the Ingestion Pipeline to Kafka: one reader per
// inbound event-type topic, and a writer for DLQ replay.
package bus

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/saan-system/uprl-core/internal/ingest"
	"github.com/saan-system/uprl-core/internal/infrastructure/config"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// Consumer reads one topic and hands every message to the pipeline.
type Consumer struct {
	reader   *kafka.Reader
	pipeline *ingest.Pipeline
	log      logger.Logger
}

// NewConsumers builds one Consumer per event-type topic configured in
// cfg.Topics, mirroring one-reader-per-topic the way the rest of the
// monorepo's services run one reader per concern.
func NewConsumers(cfg config.KafkaConfig, pipeline *ingest.Pipeline, log logger.Logger) []*Consumer {
	topics := []string{
		cfg.Topics.PricingUpdated,
		cfg.Topics.PaymentLifecycle,
		cfg.Topics.SupplierLifecycle,
		cfg.Topics.RefundIssued,
		cfg.Topics.RefundLifecycle,
		cfg.Topics.PartnerAdjustment,
	}

	consumers := make([]*Consumer, 0, len(topics))
	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   topic,
			GroupID: cfg.ConsumerGroup,
		})
		consumers = append(consumers, &Consumer{reader: reader, pipeline: pipeline, log: log})
	}
	return consumers
}

// Run blocks, reading messages until ctx is cancelled. A pipeline
// error (DLQ write failure) is logged and the message is retried on
// the next read since the offset was never committed for it.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("reading kafka message from %s: %v", c.reader.Config().Topic, err)
			continue
		}

		if err := c.pipeline.Process(ctx, msg.Value); err != nil {
			c.log.WithFields(map[string]interface{}{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Errorf("pipeline processing failed, will retry: %v", err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Errorf("committing kafka offset on %s: %v", c.reader.Config().Topic, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

package bus

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/infrastructure/config"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// maxReplayRetries bounds how many times a DLQ entry is retried before
// it is left parked for manual remediation (§4.6 "at least 3 attempts").
const maxReplayRetries = 3

// ReplayWorker periodically republishes DLQ entries. The original
// topic for an entry isn't tracked, so replays all land on one
// dead-letter topic (cfg.Topics.DeadLetter). None of the consumers
// built by NewConsumers reads that topic.
type ReplayWorker struct {
	writer   *kafka.Writer
	store    domain.DLQStore
	log      logger.Logger
	interval time.Duration
	stopChan chan struct{}
}

func NewReplayWorker(cfg config.KafkaConfig, store domain.DLQStore, log logger.Logger, interval time.Duration) *ReplayWorker {
	return &ReplayWorker{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topics.DeadLetter,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: 1,
		},
		store:    store,
		log:      log,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the replay loop until Stop is called or ctx is done.
func (w *ReplayWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.replayOnce(ctx)
		}
	}
}

func (w *ReplayWorker) Stop() {
	close(w.stopChan)
}

func (w *ReplayWorker) replayOnce(ctx context.Context) {
	entries, err := w.store.PendingForReplay(ctx, maxReplayRetries, 100)
	if err != nil {
		w.log.Errorf("listing DLQ entries for replay: %v", err)
		return
	}

	for _, entry := range entries {
		msg := kafka.Message{Key: []byte(entry.DLQID), Value: entry.RawEvent}
		if err := w.writer.WriteMessages(ctx, msg); err != nil {
			w.log.Errorf("republishing DLQ entry %s: %v", entry.DLQID, err)
			continue
		}
		if err := w.store.IncrementRetry(ctx, entry.DLQID); err != nil {
			w.log.Errorf("incrementing retry count for %s: %v", entry.DLQID, err)
		}
	}
}

// Package broadcaster publishes staged outbox entries to the fills
// topic. Delivery is at-least-once: entries are marked SENT before the
// publish attempt and deleted only after the broker acknowledges, so a
// crash in between republishes on the next tick.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/dvrvsimi/openbook-dex/infra/outbox"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
)

// Broadcaster drains the outbox on a fixed interval.
type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *logger.Logger
}

// New connects a synchronous producer with full acks.
func New(ob *outbox.Outbox, brokers []string, topic string, interval time.Duration, log *logger.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}, nil
}

// Run drains until the context is canceled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("broadcaster started", logger.NewField("topic", b.topic))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(func(e outbox.Entry) error {
		if err := b.outbox.MarkSent(e.Seq); err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(e.Seq, 10)),
			Value: sarama.ByteEncoder(e.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			// Left in SENT; retried next tick.
			b.log.Warn("publish failed",
				logger.NewField("seq", e.Seq),
				logger.NewField("error", err.Error()))
			return nil
		}
		return b.outbox.MarkAcked(e.Seq)
	})
	if err != nil {
		b.log.Error(err, logger.NewField("context", "outbox drain"))
	}
}

// Close closes the producer.
func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

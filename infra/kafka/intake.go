package kafka

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
)

// IntakeHandler processes one submitted instruction: the correlation ID
// from the message key and the encoded instruction bytes.
type IntakeHandler func(ctx context.Context, correlationID string, encoded []byte) error

// Intake consumes encoded instructions from the intake topic and feeds
// them to the handler. Handler errors are reported, not retried: the
// submitter learns the outcome through the fills feed, and a rejected
// instruction must not block the partition.
type Intake struct {
	reader  *kafka.Reader
	handler IntakeHandler
	onError func(error)
	entropy *rand.Rand
}

// IntakeConfig wires an intake consumer.
type IntakeConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler IntakeHandler
	OnError func(error)
}

// NewIntake builds the consumer. Messages without a key get a generated
// ULID correlation ID.
func NewIntake(cfg IntakeConfig) *Intake {
	onError := cfg.OnError
	if onError == nil {
		onError = func(error) {}
	}
	return &Intake{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  250 * time.Millisecond,
		}),
		handler: cfg.Handler,
		onError: onError,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run consumes until the context is canceled.
func (i *Intake) Run(ctx context.Context) error {
	for {
		msg, err := i.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		id := string(msg.Key)
		if id == "" {
			id = ulid.MustNew(ulid.Timestamp(msg.Time), i.entropy).String()
		}
		if err := i.handler(ctx, id, msg.Value); err != nil {
			i.onError(err)
		}
	}
}

// Close closes the underlying reader.
func (i *Intake) Close() error {
	return i.reader.Close()
}

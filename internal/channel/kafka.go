package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const kafkaWriteTimeout = 5 * time.Second

// messageReader is the part of *kafka.Reader the channel consumes from.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaChannel shares events through a kafka topic. Each channel reads with
// its own consumer group, so every instance sees every event published after
// it started. Publish only queues the event; a background writer sends the
// queue to kafka in order.
type KafkaChannel struct {
	writer *kafka.Writer
	reader messageReader
	local  *Bus
	outbox *mailbox
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once
}

func NewKafkaChannel(topic string, logger *zap.Logger, brokers ...string) *KafkaChannel {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same collection key, same partition
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           kafkaWriteTimeout,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "cart-sync-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})

	c := newKafkaChannel(w, reader, logger)
	c.wg.Add(1)
	go c.run(c.ctx)
	return c
}

func newKafkaChannel(w *kafka.Writer, reader messageReader, logger *zap.Logger) *KafkaChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &KafkaChannel{
		writer: w,
		reader: reader,
		local:  NewBus(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	c.outbox = newMailbox(c.write)
	return c
}

func newReadBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *KafkaChannel) run(ctx context.Context) {
	defer c.wg.Done()
	bo := newReadBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.readMessage(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}
		bo.Reset()
	}
}

// readMessage returns an error only for failed reads; a malformed event is skipped.
func (c *KafkaChannel) readMessage(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return err
		}
		c.logger.Warn("error reading message", zap.Error(err))
		return err
	}

	var e Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		c.logger.Warn("dropping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if err := c.local.Publish(ctx, e); err != nil {
		c.logger.Debug("local bus closed", zap.Error(err))
	}
	return nil
}

// Publish queues e for the background writer and returns at once. Delivery
// failures are logged, not reported.
func (c *KafkaChannel) Publish(_ context.Context, e Event) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.outbox.push(e)
	return nil
}

func (c *KafkaChannel) write(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("marshal event failed", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.Key), // collection key for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "origin", Value: []byte(e.Origin)},
		},
	}

	ctx, cancel := context.WithTimeout(c.ctx, kafkaWriteTimeout)
	defer cancel()
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		c.logger.Warn("kafka publish failed", zap.String("key", e.Key), zap.Uint64("seq", e.Seq), zap.Error(err))
	}
}

func (c *KafkaChannel) Subscribe(h Handler) func() {
	return c.local.Subscribe(h)
}

// Close drops events still waiting to be written.
func (c *KafkaChannel) Close() error {
	var errs []error
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.outbox.stop()
		if err := c.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing reader: %w", err))
		}
		c.wg.Wait()
		if err := c.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing writer: %w", err))
		}
		c.local.Close()
	})
	return errors.Join(errs...)
}

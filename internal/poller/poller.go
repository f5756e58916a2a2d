// Package poller clears the session cart once its checkout completes.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_cart/cart-sync/internal/collection"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "checkout-outbox"

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Poller struct {
	cart   *collection.Cart
	userID string
	reader messageReader
	logger *zap.Logger
}

// NewPoller reads checkout events from topic and clears cart for the ones
// that belong to userID.
func NewPoller(cart *collection.Cart, userID, topic string, logger *zap.Logger, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "cart-sync-consumer-" + userID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		cart:   cart,
		userID: userID,
		reader: reader,
		logger: logger.With(zap.String("topic", topic)),
	}
}

// Run consumes until ctx is done, waiting longer after each failed read.
func (p *Poller) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.getMessageAndEmptyCart(ctx); err != nil {
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

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

// getMessageAndEmptyCart returns an error only when the read itself failed.
func (p *Poller) getMessageAndEmptyCart(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("error reading message", zap.Error(err))
		}
		return err
	}
	if _, err := p.handle(ctx, m.Value); err != nil {
		p.logger.Warn("skipping checkout event", zap.Error(err), zap.Int64("offset", m.Offset))
	}
	return nil
}

// handle clears the cart when the event names this session's user. It
// reports whether the cart was cleared.
func (p *Poller) handle(ctx context.Context, value []byte) (bool, error) {
	userID, err := parseUserID(value)
	if err != nil {
		return false, err
	}
	if userID != p.userID {
		return false, nil
	}

	p.cart.Clear(ctx)
	p.logger.Info("cart cleared after checkout", zap.String("user_id", userID))
	return true, nil
}

// parseUserID accepts user_id as a string or a number.
func parseUserID(value []byte) (string, error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}

	switch userID := payload["user_id"].(type) {
	case string:
		if userID != "" {
			return userID, nil
		}
	case json.Number:
		return userID.String(), nil
	}
	return "", errors.New("missing or invalid user_id")
}

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisChannel shares events between processes over a redis pub/sub channel.
// Every process, the publisher included, receives every event.
type RedisChannel struct {
	client *redis.Client
	name   string
	pubsub *redis.PubSub
	local  *Bus
	logger *zap.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func NewRedisChannel(ctx context.Context, client *redis.Client, name string, logger *zap.Logger) (*RedisChannel, error) {
	pubsub := client.Subscribe(ctx, name)
	// Wait for the subscription to be confirmed so no publish after this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	c := &RedisChannel{
		client: client,
		name:   name,
		pubsub: pubsub,
		local:  NewBus(),
		logger: logger,
	}
	c.wg.Add(1)
	go c.receive()
	return c, nil
}

func (c *RedisChannel) receive() {
	defer c.wg.Done()
	for msg := range c.pubsub.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			c.logger.Warn("dropping malformed event", zap.String("channel", c.name), zap.Error(err))
			continue
		}
		if err := c.local.Publish(context.Background(), e); err != nil {
			return
		}
	}
}

func (c *RedisChannel) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(h Handler) func() {
	return c.local.Subscribe(h)
}

func (c *RedisChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.pubsub.Close()
		c.wg.Wait()
		c.local.Close()
	})
	return err
}

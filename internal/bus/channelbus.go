package bus

import (
	"context"
	"sync"
)

// ChannelBus is an in-memory ProducerConsumerCloser, adapted from the
// teacher's single-channel ChannelQueue to carry Messages across the
// topics of §6 instead of bare byte slices. Consumers on the same topic
// compete for deliveries, the same way a Kafka consumer group does.
type ChannelBus struct {
	mu     sync.Mutex
	topics map[string]chan Message
	closed bool
}

// NewChannelBus creates an empty ChannelBus; topics are created lazily on
// first Produce or Consume.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{topics: make(map[string]chan Message)}
}

func (c *ChannelBus) channel(topic string) chan Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.topics[topic]
	if !ok {
		ch = make(chan Message, 256)
		c.topics[topic] = ch
	}
	return ch
}

// Produce sends msg on topic's buffered channel (256 messages), blocking
// only while the buffer is full, until a consumer frees a slot or ctx is
// cancelled. Produce after Close panics.
func (c *ChannelBus) Produce(ctx context.Context, topic string, msg Message) error {
	ch := c.channel(topic)
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume pulls from topic until ctx is cancelled or the bus is closed,
// calling fn for each message. group is accepted for interface
// compatibility with KafkaBus but otherwise unused: an in-memory topic
// has exactly one implicit group, competing consumers included.
func (c *ChannelBus) Consume(ctx context.Context, topic, group string, fn Handler) error {
	ch := c.channel(topic)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(ctx, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes every topic channel, unblocking any pending Consume
// loops. Produce after Close panics, matching the teacher's ChannelQueue.
func (c *ChannelBus) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.topics {
		close(ch)
	}
	return nil
}

package bus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaBus is the production ProducerConsumerCloser of §4.11, partitioning
// by the Message key so that, per §6, all crawl-requests for a
// registrable domain, all new-links for a target domain, and all pages
// for a canonical URL land on the same partition and the same consumer
// instance.
type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
}

// NewKafkaBus dials no connections eagerly; the writer and any readers
// connect lazily on first use, matching kafka-go's usual idiom.
func NewKafkaBus(brokers []string) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		readers: make(map[string]*kafka.Reader),
	}
}

// Produce writes msg to topic, keyed for partition routing.
func (k *KafkaBus) Produce(ctx context.Context, topic string, msg Message) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: toKafkaHeaders(msg.Headers),
	})
}

// PublishDeadLetter forwards msg to the dead-letter topic with
// originalTopic/failureCount/lastError headers per §6's DLQ contract,
// once a message's retry budget is exhausted.
func (k *KafkaBus) PublishDeadLetter(ctx context.Context, originalTopic string, msg Message, failureCount int, lastErr error) error {
	headers := make(map[string]string, len(msg.Headers)+3)
	for hk, hv := range msg.Headers {
		headers[hk] = hv
	}
	headers["originalTopic"] = originalTopic
	headers["failureCount"] = strconv.Itoa(failureCount)
	if lastErr != nil {
		headers["lastError"] = lastErr.Error()
	}
	return k.Produce(ctx, TopicDeadLetter, Message{Key: msg.Key, Value: msg.Value, Headers: headers})
}

func (k *KafkaBus) reader(topic, group string) *kafka.Reader {
	key := group + "/" + topic
	k.mu.Lock()
	defer k.mu.Unlock()
	if r, ok := k.readers[key]; ok {
		return r
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.FirstOffset,
	})
	k.readers[key] = r
	return r
}

// Consume fetches messages from topic under consumer group group and
// calls fn for each, committing the offset only when fn returns nil —
// "manual acknowledgement (commit offset only after terminal outcome)"
// per §4.6. A non-nil fn error leaves the offset uncommitted so the
// broker redelivers it after rebalance.
func (k *KafkaBus) Consume(ctx context.Context, topic, group string, fn Handler) error {
	r := k.reader(topic, group)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("bus: fetch from %s: %w", topic, err)
		}
		msg := Message{Key: string(m.Key), Value: m.Value, Headers: fromKafkaHeaders(m.Headers)}
		if err := fn(ctx, msg); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("bus: commit on %s: %w", topic, err)
		}
	}
}

// Close closes the writer and every reader opened by Consume.
func (k *KafkaBus) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	if err := k.writer.Close(); err != nil {
		firstErr = err
	}
	for _, r := range k.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

// Package bus defines the durable partitioned message bus of §4.11: the
// Producer/Consumer contract shared by every ingestion stage, and two
// implementations, an in-memory ChannelBus for tests and local runs, and
// a KafkaBus backed by github.com/segmentio/kafka-go for production.
package bus

import "context"

const (
	// TopicCrawlRequests carries FetchRequest JSON, keyed by registrable
	// domain, so all fetches for a domain land on one partition/consumer.
	TopicCrawlRequests = "crawl-requests"
	// TopicPages carries ContentEvent JSON, keyed by canonical URL.
	TopicPages = "pages"
	// TopicNewLinks carries LinkDiscoveryEvent JSON, keyed by target
	// registrable domain.
	TopicNewLinks = "new-links"
	// TopicDeadLetter receives the original value plus failure headers
	// once a message's retry budget is exhausted.
	TopicDeadLetter = "dead-letter-queue"
)

// Message is one envelope moving through the bus: a partition key, an
// opaque payload, and a header bag for DLQ metadata such as
// originalTopic/failureCount/lastError.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer publishes a Message to a topic.
type Producer interface {
	Produce(ctx context.Context, topic string, msg Message) error
}

// Handler processes one consumed Message. Returning a non-nil error
// leaves the message uncommitted; the bus redelivers it.
type Handler func(ctx context.Context, msg Message) error

// Consumer subscribes to a topic within a consumer group and invokes fn
// for each message, committing only after fn returns nil — "manual
// acknowledgement (commit offset only after terminal outcome)" per §4.6.
type Consumer interface {
	Consume(ctx context.Context, topic, group string, fn Handler) error
}

// ProducerConsumer is the behavior every bus implementation provides.
type ProducerConsumer interface {
	Producer
	Consumer
}

// Closer is implemented by buses that hold external connections.
type Closer interface {
	Close() error
}

// ProducerConsumerCloser is the full behavior expected of a bus backed by
// an external broker.
type ProducerConsumerCloser interface {
	ProducerConsumer
	Closer
}

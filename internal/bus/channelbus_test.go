package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestChannelBusProduceConsumeRoundTrip(t *testing.T) {
	b := NewChannelBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	go func() {
		b.Consume(ctx, TopicCrawlRequests, "fetchers", func(ctx context.Context, msg Message) error {
			got <- msg
			cancel()
			return nil
		})
	}()

	if err := b.Produce(context.Background(), TopicCrawlRequests, Message{Key: "example.com", Value: []byte("payload")}); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Key != "example.com" || string(msg.Value) != "payload" {
			t.Errorf("Consume got %+v, want key=example.com value=payload", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumed message")
	}
}

func TestChannelBusHandlerErrorStopsConsume(t *testing.T) {
	b := NewChannelBus()
	boom := errors.New("boom")

	go b.Produce(context.Background(), TopicPages, Message{Key: "u", Value: []byte("v")})

	err := b.Consume(context.Background(), TopicPages, "indexers", func(ctx context.Context, msg Message) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Consume error = %v, want %v", err, boom)
	}
}

func TestChannelBusCompetingConsumersEachGetDistinctMessages(t *testing.T) {
	b := NewChannelBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 10
	var mu sync.Mutex
	received := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Consume(ctx, TopicNewLinks, "link-ingestors", func(ctx context.Context, msg Message) error {
				mu.Lock()
				received[msg.Key] = true
				done := len(received) == n
				mu.Unlock()
				if done {
					cancel()
				}
				return nil
			})
		}()
	}

	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		if err := b.Produce(context.Background(), TopicNewLinks, Message{Key: key}); err != nil {
			t.Fatalf("Produce %d: %v", i, err)
		}
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(received) != n {
		t.Errorf("received %d distinct messages, want %d", len(received), n)
	}
}

func TestChannelBusCloseUnblocksConsume(t *testing.T) {
	b := NewChannelBus()
	// Touch the topic so Close has a channel to close.
	b.channel(TopicDeadLetter)

	done := make(chan error, 1)
	go func() {
		done <- b.Consume(context.Background(), TopicDeadLetter, "g", func(ctx context.Context, msg Message) error {
			return nil
		})
	}()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not unblock after Close")
	}
}

package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/robots"
	"github.com/crawlcore/ingestion/internal/store"
)

type stubDoer struct {
	status int
	body   string
}

func (d stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Header:     make(http.Header),
	}, nil
}

func TestSchedulerDispatchesAllowedJobToBus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := frontier.New(st, frontier.BreadthFirst, frontier.StrategyOptions{})
	reg := robots.New(kv.NewMemoryStore(), stubDoer{status: 404}, "testbot")
	rl := ratelimit.New(kv.NewMemoryStore())
	b := bus.NewChannelBus()

	job, err := f.Enqueue(ctx, "https://example.com/", "example.com", 0, 3, frontier.ScoreInput{Depth: 0})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched := New(f, reg, rl, b, "testbot", WithInterval(time.Hour), WithBatchSize(10))

	received := make(chan bus.Message, 1)
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.Consume(consumeCtx, bus.TopicCrawlRequests, "schedulers-test", func(ctx context.Context, msg bus.Message) error {
		received <- msg
		cancel()
		return nil
	})

	sched.tick(ctx)

	select {
	case msg := <-received:
		var req model.FetchRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			t.Fatalf("unmarshal FetchRequest: %v", err)
		}
		if req.URL != job.URL {
			t.Errorf("FetchRequest.URL = %q, want %q", req.URL, job.URL)
		}
		if msg.Key != "example.com" {
			t.Errorf("message key = %q, want registrable domain", msg.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled FetchRequest")
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusInProgress] != 1 {
		t.Errorf("CountByStatus[IN_PROGRESS] = %d, want 1", counts[model.StatusInProgress])
	}
}

func TestSchedulerBlocksRobotsDisallowedJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := frontier.New(st, frontier.BreadthFirst, frontier.StrategyOptions{})
	reg := robots.New(kv.NewMemoryStore(), disallowAllDoer{}, "testbot")
	rl := ratelimit.New(kv.NewMemoryStore())
	b := bus.NewChannelBus()

	_, err := f.Enqueue(ctx, "https://blocked.example.com/", "blocked.example.com", 0, 3, frontier.ScoreInput{Depth: 0})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched := New(f, reg, rl, b, "testbot", WithInterval(time.Hour), WithBatchSize(10))
	sched.tick(ctx)

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusBlocked] != 1 {
		t.Errorf("CountByStatus[BLOCKED] = %d, want 1", counts[model.StatusBlocked])
	}
}

type disallowAllDoer struct{}

func (disallowAllDoer) Do(req *http.Request) (*http.Response, error) {
	body := "User-agent: *\nDisallow: /\n"
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

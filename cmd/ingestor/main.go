// Command ingestor wires every component in internal/ against the real
// Postgres/Redis/Kafka adapters and runs the ingestion core as a long
// lived service, performing the equivalent wiring as internal/pipeline
// does over in-memory adapters for tests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crawlcore/ingestion/internal/admin"
	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/circuitbreaker"
	"github.com/crawlcore/ingestion/internal/config"
	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/fetcher"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/indexer"
	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/linkingestor"
	"github.com/crawlcore/ingestion/internal/ranker"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/robots"
	"github.com/crawlcore/ingestion/internal/scheduler"
	"github.com/crawlcore/ingestion/internal/store"
	"github.com/crawlcore/ingestion/internal/textstore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used if omitted)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestor exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("opening postgres store: %w", err)
	}
	defer st.Close()

	kvStore := kv.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer kvStore.Close()

	msgBus := bus.NewKafkaBus(cfg.Kafka.Brokers)
	defer msgBus.Close()

	f := frontier.New(st, frontier.StrategyName(cfg.Strategy), frontier.StrategyOptions{})
	urlDedup := dedup.NewURLDedup(kvStore, cfg.BloomCapacity, cfg.BloomFPR)
	lsh := dedup.NewLSHIndex(kvStore, cfg.LSHBands, cfg.LSHBandBits)
	contentDedup := dedup.NewContentDedup(lsh, cfg.SimhashHammingThreshold)
	robotsReg := robots.New(kvStore, &http.Client{Timeout: 5 * time.Second}, cfg.UserAgent)
	rate := ratelimit.New(kvStore)
	breaker := circuitbreaker.New()
	ts := textstore.NewHTTPClient(cfg.TextStore.BaseURL, nil)
	rk := ranker.New(st, ranker.Config{
		Damping:            cfg.Damping,
		ConvergenceEpsilon: cfg.ConvergenceEpsilon,
		MaxIterations:      cfg.MaxIterations,
	})

	sched := scheduler.New(f, robotsReg, rate, msgBus, cfg.UserAgent,
		scheduler.WithInterval(cfg.SchedulerInterval), scheduler.WithBatchSize(cfg.SchedulerBatch))

	adminSrv := admin.New(f, st, urlDedup, rate, kvStore, rk)
	httpSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: adminSrv}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })

	for i := 0; i < cfg.FetchConcurrency; i++ {
		workerID := fmt.Sprintf("fetcher-%d", i)
		fe := fetcher.New(cfg.UserAgent, kvStore, rate, robotsReg, breaker, urlDedup, contentDedup, f, msgBus, workerID)
		g.Go(func() error { return fe.Run(gctx, msgBus, "fetchers") })
	}

	for i := 0; i < cfg.LinkIngestWorkers; i++ {
		li := linkingestor.New(f, urlDedup, cfg.MaxDepth)
		g.Go(func() error { return li.Run(gctx, msgBus, "link-ingestors") })
	}

	for i := 0; i < cfg.IndexWorkers; i++ {
		ix := indexer.New(st, ts)
		g.Go(func() error { return ix.Run(gctx, msgBus, "indexers") })
	}

	g.Go(func() error {
		logger.Info("admin server listening", "addr", cfg.Admin.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// PageRank is a periodic batch job, not a bus consumer: it recomputes
	// over the whole link graph on an interval, independent of the
	// admin-triggered on-demand run in internal/admin.
	g.Go(func() error { return runRankerLoop(gctx, rk, logger) })

	logger.Info("ingestor started",
		"strategy", cfg.Strategy, "fetchConcurrency", cfg.FetchConcurrency,
		"linkIngestWorkers", cfg.LinkIngestWorkers, "indexWorkers", cfg.IndexWorkers)

	return g.Wait()
}

const rankerInterval = 15 * time.Minute

func runRankerLoop(ctx context.Context, rk *ranker.Ranker, logger *slog.Logger) error {
	ticker := time.NewTicker(rankerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := rk.Run(ctx); err != nil {
				logger.Error("periodic pagerank run failed", "error", err)
			}
		}
	}
}

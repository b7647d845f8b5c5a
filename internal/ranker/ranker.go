// Package ranker implements §4.10: a batch PageRank job run periodically
// over the state store's page_graph/page_links tables via power
// iteration, with dangling-node redistribution and L1-norm convergence.
package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/store"
)

// Config holds the power-iteration parameters of §6's configuration
// table: damping factor, convergence epsilon and max iterations.
type Config struct {
	Damping            float64
	ConvergenceEpsilon float64
	MaxIterations      int
}

// DefaultConfig returns §6's documented PageRank defaults.
func DefaultConfig() Config {
	return Config{Damping: 0.85, ConvergenceEpsilon: 1e-4, MaxIterations: 100}
}

// Ranker runs the batch PageRank job over a Store's graph.
type Ranker struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
}

// New creates a Ranker over st with cfg (zero-value Config falls back to
// DefaultConfig).
func New(st store.Store, cfg Config) *Ranker {
	if cfg.Damping == 0 && cfg.ConvergenceEpsilon == 0 && cfg.MaxIterations == 0 {
		cfg = DefaultConfig()
	}
	return &Ranker{store: st, cfg: cfg, log: slog.Default()}
}

// Run loads the full graph, computes PageRank by power iteration, and
// persists the resulting scores. It is idempotent: rerunning against an
// unchanged graph reproduces the same scores up to iteration tolerance.
func (r *Ranker) Run(ctx context.Context) error {
	nodes, edges, err := r.store.LoadGraph(ctx)
	if err != nil {
		return fmt.Errorf("ranker: load graph: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	scores := computePageRank(nodes, edges, r.cfg)

	now := time.Now()
	for _, n := range nodes {
		if err := r.store.UpdatePageRank(ctx, n.URLHash, scores[n.ID], now); err != nil {
			return fmt.Errorf("ranker: update page rank for %s: %w", n.URL, err)
		}
	}
	r.log.Info("ranker: run complete", "nodes", len(nodes), "edges", len(edges))
	return nil
}

// computePageRank runs the §4.10 power-iteration algorithm in memory and
// returns a normalized score (max = 1.0) keyed by PageNode ID.
func computePageRank(nodes []*model.PageNode, edges []model.LinkEdge, cfg Config) map[int64]float64 {
	n := len(nodes)
	index := make(map[int64]int, n)
	for i, node := range nodes {
		index[node.ID] = i
	}

	outdeg := make([]int, n)
	inbound := make([][]int, n)
	for _, e := range edges {
		si, sok := index[e.SourcePageID]
		ti, tok := index[e.TargetPageID]
		if !sok || !tok {
			continue
		}
		outdeg[si]++
		inbound[ti] = append(inbound[ti], si)
	}

	pr := make([]float64, n)
	for i := range pr {
		pr[i] = 1.0 / float64(n)
	}

	d := cfg.Damping
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		var danglingSum float64
		for i, deg := range outdeg {
			if deg == 0 {
				danglingSum += pr[i]
			}
		}
		danglingShare := d * danglingSum / float64(n)

		next := make([]float64, n)
		var l1 float64
		for v := 0; v < n; v++ {
			var inSum float64
			for _, u := range inbound[v] {
				inSum += pr[u] / float64(outdeg[u])
			}
			next[v] = (1-d)/float64(n) + d*inSum + danglingShare
			l1 += abs(next[v] - pr[v])
		}
		pr = next
		if l1 < cfg.ConvergenceEpsilon {
			break
		}
	}

	maxScore := 0.0
	for _, s := range pr {
		if s > maxScore {
			maxScore = s
		}
	}
	out := make(map[int64]float64, n)
	for i, node := range nodes {
		if maxScore > 0 {
			out[node.ID] = pr[i] / maxScore
		} else {
			out[node.ID] = 0
		}
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

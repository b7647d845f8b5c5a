// Package admin implements the §6 admin surface: add seeds, crawler
// stats, change strategy, PageRank top-N and async trigger, dedup stats,
// and per-domain rate-limit status/reset, wired to stdlib net/http using
// Go 1.22's method-pattern ServeMux routing.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ranker"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/store"
	"github.com/crawlcore/ingestion/internal/urlnorm"
)

// Server exposes the admin operations of §6 over HTTP.
type Server struct {
	frontier *frontier.Frontier
	store    store.Store
	urlDedup *dedup.URLDedup
	rate     *ratelimit.Controller
	kv       kv.Store
	ranker   *ranker.Ranker
	log      *slog.Logger
	mux      *http.ServeMux

	nextJobID atomic.Uint64
}

// New builds a Server and registers its routes. rk may be nil, in which
// case POST /admin/pagerank/run reports the operation as unavailable
// rather than panicking.
func New(f *frontier.Frontier, st store.Store, urlDedup *dedup.URLDedup, rate *ratelimit.Controller, kvStore kv.Store, rk *ranker.Ranker) *Server {
	s := &Server{frontier: f, store: st, urlDedup: urlDedup, rate: rate, kv: kvStore, ranker: rk, log: slog.Default(), mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP makes Server usable directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /admin/seeds", s.addSeeds)
	s.mux.HandleFunc("GET /admin/stats", s.stats)
	s.mux.HandleFunc("POST /admin/strategy", s.changeStrategy)
	s.mux.HandleFunc("GET /admin/pagerank/top", s.pageRankTop)
	s.mux.HandleFunc("POST /admin/pagerank/run", s.pageRankRun)
	s.mux.HandleFunc("GET /admin/dedup/stats", s.dedupStats)
	s.mux.HandleFunc("GET /admin/ratelimit/{domain}", s.rateLimitStatus)
	s.mux.HandleFunc("POST /admin/ratelimit/{domain}/reset", s.rateLimitReset)
}

type seedRequest struct {
	URLs     []string `json:"urls"`
	Priority float64  `json:"priority"`
}

type seedResult struct {
	URL     string `json:"url"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// addSeeds inserts one CrawlJob per URL, normalizing and dedup-checking
// each independently so a single bad seed doesn't fail the batch.
func (s *Server) addSeeds(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make([]seedResult, 0, len(req.URLs))
	for _, raw := range req.URLs {
		results = append(results, s.addSeed(r.Context(), raw, req.Priority))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) addSeed(ctx context.Context, raw string, priority float64) seedResult {
	canonical, err := urlnorm.Normalize(raw)
	if err != nil {
		return seedResult{URL: raw, Error: err.Error()}
	}
	domain, err := urlnorm.RegistrableDomain(canonical)
	if err != nil {
		return seedResult{URL: canonical, Error: err.Error()}
	}
	seen, err := s.urlDedup.Check(ctx, canonical)
	if err != nil {
		return seedResult{URL: canonical, Error: err.Error()}
	}
	if seen {
		return seedResult{URL: canonical, Skipped: true}
	}
	in := frontier.ScoreInput{URL: canonical, Depth: 0, DomainAuthority: frontier.DomainAuthority(domain), Cash: 1.0, PageRank: priority}
	if _, err := s.frontier.Enqueue(ctx, canonical, domain, 0, 0, in); err != nil {
		return seedResult{URL: canonical, Error: err.Error()}
	}
	if err := s.urlDedup.MarkSeen(ctx, canonical); err != nil {
		return seedResult{URL: canonical, Error: err.Error()}
	}
	return seedResult{URL: canonical, Ok: true}
}

type statsResponse struct {
	CountsByStatus map[model.Status]int64 `json:"countsByStatus"`
	FrontierSize   int64                   `json:"frontierSize"`
	Strategy       string                  `json:"strategy"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		CountsByStatus: counts,
		FrontierSize:   counts[model.StatusPending],
		Strategy:       string(s.frontier.StrategyName()),
	})
}

type strategyRequest struct {
	Strategy string `json:"strategy"`
}

func (s *Server) changeStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.frontier.SetStrategy(frontier.StrategyName(req.Strategy))
	writeJSON(w, http.StatusOK, map[string]string{"strategy": string(s.frontier.StrategyName())})
}

func (s *Server) pageRankTop(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n: %q", raw))
			return
		}
	}
	nodes, err := s.store.TopPagesByRank(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

type pageRankRunResponse struct {
	JobID string `json:"jobId"`
}

// pageRankRun triggers a PageRank recomputation. Unlike every other admin
// operation it is asynchronous: the power iteration over the full link
// graph can take long enough that holding the request open isn't
// reasonable, so this returns a job id immediately and runs the
// recomputation in the background. There is no status-lookup endpoint;
// callers poll /admin/pagerank/top to observe the effect.
func (s *Server) pageRankRun(w http.ResponseWriter, r *http.Request) {
	if s.ranker == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pagerank ranker not configured"))
		return
	}
	jobID := fmt.Sprintf("pagerank-%d", s.nextJobID.Add(1))
	go func() {
		if err := s.ranker.Run(context.Background()); err != nil {
			s.log.Error("pagerank run failed", "jobId", jobID, "error", err)
			return
		}
		s.log.Info("pagerank run completed", "jobId", jobID)
	}()
	writeJSON(w, http.StatusAccepted, pageRankRunResponse{JobID: jobID})
}

type dedupStatsResponse struct {
	ApproximateCount   uint32  `json:"approximateCount"`
	ExpectedFalsePositiveRate float64 `json:"expectedFalsePositiveRate"`
}

func (s *Server) dedupStats(w http.ResponseWriter, r *http.Request) {
	count := s.urlDedup.ApproximateCount()
	writeJSON(w, http.StatusOK, dedupStatsResponse{
		ApproximateCount:          count,
		ExpectedFalsePositiveRate: s.urlDedup.ExpectedFalsePositiveRate(uint(count)),
	})
}

type rateLimitStatusResponse struct {
	Domain string `json:"domain"`
	Locked bool   `json:"locked"`
}

func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	_, ok, err := s.kv.Get(r.Context(), "lock:domain:"+domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitStatusResponse{Domain: domain, Locked: ok})
}

// rateLimitReset clears domain's token-bucket and sliding-window state via
// ratelimit.Controller.Reset, which knows the key layout the token bucket
// and window primitives actually read.
func (s *Server) rateLimitReset(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	if err := s.rate.Reset(r.Context(), domain); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"domain": domain, "reset": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Package frontier implements §4.5: the persistent priority queue of
// PENDING CrawlJobs and its four pluggable prioritization strategies.
package frontier

import (
	"math"
	"net/url"
	"strings"
)

// StrategyName identifies one of the four fixed prioritization contracts.
type StrategyName string

const (
	BreadthFirst StrategyName = "breadth_first"
	BestFirst    StrategyName = "best_first"
	OPIC         StrategyName = "opic"
	Focused      StrategyName = "focused"
)

// ScoreInput carries everything a Strategy needs to score a candidate
// URL. Not every field is used by every strategy.
type ScoreInput struct {
	URL             string
	Depth           int
	PageRank        float64
	DomainAuthority float64
	Cash            float64 // OPIC accumulator
	ChangeFreq      float64 // OPIC: estimated re-crawl frequency, per day
}

// Strategy computes a priority score for a candidate URL; higher sorts
// sooner. All four fixed strategies return a double, ties broken by
// (lower depth, earlier creation) at the Frontier layer, not here.
type Strategy interface {
	Name() StrategyName
	Score(in ScoreInput) float64
}

// NewStrategy returns the named strategy, or BreadthFirst if name is
// unrecognized.
func NewStrategy(name StrategyName, opts StrategyOptions) Strategy {
	switch name {
	case BestFirst:
		return bestFirstStrategy{}
	case OPIC:
		return opicStrategy{}
	case Focused:
		return focusedStrategy{allowlist: opts.HighValueDomains}
	default:
		return breadthFirstStrategy{}
	}
}

// StrategyOptions configures strategies that need external parameters
// (currently only Focused's domain allowlist).
type StrategyOptions struct {
	HighValueDomains map[string]bool
}

type breadthFirstStrategy struct{}

func (breadthFirstStrategy) Name() StrategyName { return BreadthFirst }

// Score is −depth (shallower first); creation-time tie-break happens at
// the SQL ORDER BY layer, not here.
func (breadthFirstStrategy) Score(in ScoreInput) float64 {
	return -float64(in.Depth)
}

type bestFirstStrategy struct{}

func (bestFirstStrategy) Name() StrategyName { return BestFirst }

func (bestFirstStrategy) Score(in ScoreInput) float64 {
	return (0.7*in.PageRank + 0.3*in.DomainAuthority) * 1000 / float64(in.Depth+1)
}

type opicStrategy struct{}

func (opicStrategy) Name() StrategyName { return OPIC }

// Score applies the OPIC formula. Splitting a completed page's cash
// among its outbound links' accumulators is the caller's job (it needs
// atomic KV increments across multiple URLs); Score only turns an
// already-accumulated cash value into a priority.
func (opicStrategy) Score(in ScoreInput) float64 {
	cash := in.Cash
	if cash == 0 {
		cash = 1.0 // newly discovered URLs start at 1.0
	}
	return cash * in.DomainAuthority * (1 + in.ChangeFreq/10) / math.Log(float64(in.Depth)+2)
}

type focusedStrategy struct {
	allowlist map[string]bool
}

func (focusedStrategy) Name() StrategyName { return Focused }

var patternSubstrings = []string{"/article/", "/post/", "/tutorial/", "/doc/"}

func (f focusedStrategy) Score(in ScoreInput) float64 {
	const baseQuality = 1.0

	domainBoost := 1.0
	if f.allowlist[domainOf(in.URL)] {
		domainBoost = 2.0
	}

	const freshnessBoost = 1.0

	patternScore := 1.0
	lower := strings.ToLower(in.URL)
	for _, p := range patternSubstrings {
		if strings.Contains(lower, p) {
			patternScore += 0.5
			break
		}
	}
	if pathDepth(in.URL) > 6 {
		patternScore *= 0.8
	}
	if hasQuery(in.URL) {
		patternScore *= 0.9
	}

	return baseQuality * domainBoost * freshnessBoost * patternScore / math.Sqrt(float64(in.Depth)+1)
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func pathDepth(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

func hasQuery(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.RawQuery != ""
}

// DomainAuthority computes the default 0.5 baseline with the §4.8
// TLD uplifts (+0.35 for .edu, +0.30 for .gov), capped at 1.0.
func DomainAuthority(registrableDomain string) float64 {
	score := 0.5
	switch {
	case strings.HasSuffix(registrableDomain, ".edu"):
		score += 0.35
	case strings.HasSuffix(registrableDomain, ".gov"):
		score += 0.30
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

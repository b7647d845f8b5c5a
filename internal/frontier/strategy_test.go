package frontier

import "testing"

func TestBreadthFirstPrefersShallower(t *testing.T) {
	s := NewStrategy(BreadthFirst, StrategyOptions{})
	shallow := s.Score(ScoreInput{Depth: 1})
	deep := s.Score(ScoreInput{Depth: 5})
	if shallow <= deep {
		t.Errorf("BreadthFirst: shallow score %v should exceed deep score %v", shallow, deep)
	}
}

func TestBestFirstWeightsPageRankAndAuthority(t *testing.T) {
	s := NewStrategy(BestFirst, StrategyOptions{})
	got := s.Score(ScoreInput{PageRank: 1.0, DomainAuthority: 1.0, Depth: 0})
	want := (0.7*1.0 + 0.3*1.0) * 1000 / 1
	if got != want {
		t.Errorf("BestFirst.Score = %v, want %v", got, want)
	}
}

func TestBestFirstDecaysWithDepth(t *testing.T) {
	s := NewStrategy(BestFirst, StrategyOptions{})
	shallow := s.Score(ScoreInput{PageRank: 0.5, DomainAuthority: 0.5, Depth: 0})
	deep := s.Score(ScoreInput{PageRank: 0.5, DomainAuthority: 0.5, Depth: 3})
	if shallow <= deep {
		t.Errorf("BestFirst should decay with depth: shallow=%v deep=%v", shallow, deep)
	}
}

func TestOPICDefaultsNewURLCashToOne(t *testing.T) {
	s := NewStrategy(OPIC, StrategyOptions{})
	got := s.Score(ScoreInput{Cash: 0, DomainAuthority: 1.0, Depth: 0})
	if got <= 0 {
		t.Errorf("OPIC.Score for a freshly discovered URL should be positive, got %v", got)
	}
}

func TestOPICScalesWithAccumulatedCash(t *testing.T) {
	s := NewStrategy(OPIC, StrategyOptions{})
	low := s.Score(ScoreInput{Cash: 0.5, DomainAuthority: 1, Depth: 1})
	high := s.Score(ScoreInput{Cash: 5.0, DomainAuthority: 1, Depth: 1})
	if high <= low {
		t.Errorf("OPIC.Score should increase with cash: low=%v high=%v", low, high)
	}
}

func TestFocusedBoostsAllowlistedDomains(t *testing.T) {
	s := NewStrategy(Focused, StrategyOptions{HighValueDomains: map[string]bool{"trusted.example": true}})
	boosted := s.Score(ScoreInput{URL: "https://trusted.example/page", Depth: 0})
	plain := s.Score(ScoreInput{URL: "https://random.example/page", Depth: 0})
	if boosted <= plain {
		t.Errorf("Focused should boost allowlisted domain: boosted=%v plain=%v", boosted, plain)
	}
}

func TestFocusedRewardsArticlePatternAndPenalizesDeepQueryPaths(t *testing.T) {
	s := NewStrategy(Focused, StrategyOptions{})
	article := s.Score(ScoreInput{URL: "https://example.com/article/123", Depth: 0})
	plain := s.Score(ScoreInput{URL: "https://example.com/123", Depth: 0})
	if article <= plain {
		t.Errorf("Focused should reward /article/ substring: article=%v plain=%v", article, plain)
	}

	deepQuery := s.Score(ScoreInput{URL: "https://example.com/a/b/c/d/e/f/g?x=1", Depth: 0})
	shallow := s.Score(ScoreInput{URL: "https://example.com/a", Depth: 0})
	if deepQuery >= shallow {
		t.Errorf("Focused should penalize deep paths with query strings: deepQuery=%v shallow=%v", deepQuery, shallow)
	}
}

func TestDomainAuthorityUplifts(t *testing.T) {
	cases := map[string]float64{
		"example.com": 0.5,
		"school.edu":  0.85,
		"agency.gov":  0.80,
	}
	for domain, want := range cases {
		if got := DomainAuthority(domain); got != want {
			t.Errorf("DomainAuthority(%s) = %v, want %v", domain, got, want)
		}
	}
}

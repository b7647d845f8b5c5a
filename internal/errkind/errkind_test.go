package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{FetchNetwork, true},
		{FetchHttp5xx, true},
		{RateLimited, true},
		{MutexUnavailable, true},
		{BusUnavailable, true},
		{StoreUnavailable, true},
		{CircuitOpen, true},
		{InvalidUrl, false},
		{RobotsBlocked, false},
		{FetchHttp4xx, false},
		{FetchTooLarge, false},
		{ParseFailure, false},
		{DedupDuplicate, false},
	}
	for _, c := range cases {
		if got := c.kind.Retryable(); got != c.want {
			t.Errorf("%s.Retryable() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(FetchNetwork, "fetch", "http://a.test/", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	k, ok := KindOf(wrapped)
	if !ok || k != FetchNetwork {
		t.Errorf("KindOf(wrapped) = %v, %v, want FetchNetwork, true", k, ok)
	}
}

func TestRetryableDefaultsTrueForUnclassified(t *testing.T) {
	if !Retryable(errors.New("unclassified")) {
		t.Errorf("expected unclassified errors to default to retryable")
	}
	if Retryable(nil) {
		t.Errorf("expected nil error to be non-retryable")
	}
}

// Package errkind defines the closed set of error kinds that flow through
// the ingestion pipeline, replacing ad-hoc exception types with an explicit
// result union each public operation can return.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the ingestion core's error taxonomy.
type Kind int

const (
	// InvalidUrl means a raw URL failed scheme/host validation or could not
	// be parsed.
	InvalidUrl Kind = iota
	// RobotsBlocked means robots.txt disallows the URL for the configured
	// user agent.
	RobotsBlocked
	// RateLimited means the rate controller denied the request for now.
	RateLimited
	// FetchNetwork means the HTTP round trip failed below the application
	// layer (DNS, connect, TLS, timeout).
	FetchNetwork
	// FetchHttp4xx means the server returned a 4xx status.
	FetchHttp4xx
	// FetchHttp5xx means the server returned a 5xx status.
	FetchHttp5xx
	// FetchTooLarge means the response body exceeded the configured cap.
	FetchTooLarge
	// ParseFailure means the fetched body could not be parsed as HTML.
	ParseFailure
	// DedupDuplicate means the URL or its content was already seen.
	DedupDuplicate
	// MutexUnavailable means the domain mutex could not be acquired within
	// its retry budget.
	MutexUnavailable
	// BusUnavailable means the message bus could not accept or deliver a
	// message.
	BusUnavailable
	// StoreUnavailable means the state store could not complete a call.
	StoreUnavailable
	// CircuitOpen means the domain's circuit breaker is open.
	CircuitOpen
)

var names = map[Kind]string{
	InvalidUrl:       "InvalidUrl",
	RobotsBlocked:    "RobotsBlocked",
	RateLimited:      "RateLimited",
	FetchNetwork:     "FetchNetwork",
	FetchHttp4xx:     "FetchHttp4xx",
	FetchHttp5xx:     "FetchHttp5xx",
	FetchTooLarge:    "FetchTooLarge",
	ParseFailure:     "ParseFailure",
	DedupDuplicate:   "DedupDuplicate",
	MutexUnavailable: "MutexUnavailable",
	BusUnavailable:   "BusUnavailable",
	StoreUnavailable: "StoreUnavailable",
	CircuitOpen:      "CircuitOpen",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// Retryable reports whether a consumer should withhold acknowledgement and
// let the bus redeliver the message, per §7's propagation policy.
func (k Kind) Retryable() bool {
	switch k {
	case FetchNetwork, FetchHttp5xx, RateLimited, MutexUnavailable,
		BusUnavailable, StoreUnavailable, CircuitOpen:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with its classified Kind.
type Error struct {
	Kind  Kind
	Op    string
	URL   string
	cause error
}

// New creates an *Error of the given kind, optionally wrapping cause.
func New(kind Kind, op, url string, cause error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.URL != "" {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.URL, e.cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.cause)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match any *Error target of the same Kind, e.g.
// errors.Is(err, &errkind.Error{Kind: errkind.InvalidUrl}). A bare Kind
// is not an error and cannot be used as the target; use KindOf instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether err should be retried rather than acknowledged,
// defaulting to true for unclassified errors since the safe default under
// at-least-once delivery is to retry rather than silently drop work.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if k, ok := KindOf(err); ok {
		return k.Retryable()
	}
	return true
}

package harvest

import (
	"context"
	"iter"
	"net/http"
	"time"
)

// Discoverer turns a search term into a lazy sequence of candidates. A non-nil
// error means discovery failed entirely and should be a *DiscoveryError.
type Discoverer interface {
	Discover(ctx context.Context, term string) (iter.Seq[Candidate], error)
}

// Fetcher performs a single GET. Transport failures are returned as errors;
// HTTP status codes are reported on the response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Sink persists downloaded bytes under a per-term partition.
type Sink interface {
	EnsureDirectory(ctx context.Context, term string) error
	Write(ctx context.Context, term, id string, data []byte) (string, error)
}

// IDGenerator produces unique artifact names.
type IDGenerator interface {
	NewID() (string, error)
}

// Recorder observes outcomes after they are produced, e.g. to persist a ledger
// or publish notifications. Errors never alter the outcome.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

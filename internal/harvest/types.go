package harvest

import (
	"time"
)

// Candidate is a discovered resource awaiting download.
type Candidate struct {
	SourceURL  string `json:"source_url"`
	ProposedID string `json:"proposed_id"`
}

// OutcomeKind classifies the terminal state of one candidate.
type OutcomeKind string

// Outcome kinds produced by the download pool.
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Skip reasons.
const (
	SkipUnsupportedURL = "unsupported-url"
	SkipEmptyBody      = "empty-body"
	SkipCanceled       = "canceled"
)

// Outcome is the result of one download attempt. Only the fields matching Kind are set.
type Outcome struct {
	Kind     OutcomeKind
	Term     string
	ID       string
	URL      string
	Bytes    int
	Location string
	Reason   string
	Err      *DownloadError
	Duration time.Duration
}

// Success builds a success outcome.
func Success(term string, c Candidate, bytes int, location string, dur time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeSuccess,
		Term:     term,
		ID:       c.ProposedID,
		URL:      c.SourceURL,
		Bytes:    bytes,
		Location: location,
		Duration: dur,
	}
}

// Skipped builds a skipped outcome.
func Skipped(term string, c Candidate, reason string) Outcome {
	return Outcome{
		Kind:   OutcomeSkipped,
		Term:   term,
		ID:     c.ProposedID,
		URL:    c.SourceURL,
		Reason: reason,
	}
}

// Failed builds a failed outcome.
func Failed(term string, c Candidate, err *DownloadError, dur time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeFailed,
		Term:     term,
		ID:       c.ProposedID,
		URL:      c.SourceURL,
		Err:      err,
		Duration: dur,
	}
}

// Counts tallies outcomes by kind.
type Counts struct {
	Discovered int `json:"discovered"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Add records one outcome.
func (c *Counts) Add(o Outcome) {
	switch o.Kind {
	case OutcomeSuccess:
		c.Succeeded++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	}
}

// Merge adds other into c.
func (c *Counts) Merge(other Counts) {
	c.Discovered += other.Discovered
	c.Succeeded += other.Succeeded
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// TermSummary is the per-term result reported by the orchestrator.
type TermSummary struct {
	Term string `json:"term"`
	Counts
	// DiscoveryFailed is set when the term never reached the download stage,
	// either because discovery failed or its directory could not be created.
	DiscoveryFailed bool `json:"discovery_failed"`
	// Canceled is set when shutdown interrupted the term.
	Canceled bool  `json:"canceled"`
	Err      error `json:"-"`
}

// RunSummary aggregates every term processed in a run.
type RunSummary struct {
	Terms []TermSummary `json:"terms"`
	Total Counts        `json:"total"`
}

// Add appends a term summary and folds it into the total.
func (r *RunSummary) Add(ts TermSummary) {
	r.Terms = append(r.Terms, ts)
	r.Total.Merge(ts.Counts)
}

// Exit codes reported by the CLI.
const (
	ExitOK               = 0
	ExitDownloadFailures = 1
	ExitTermFailures     = 2
)

// ExitCode maps the run result onto the process exit code. Term-level failures
// take precedence over individual download failures.
func (r RunSummary) ExitCode() int {
	code := ExitOK
	for _, ts := range r.Terms {
		if ts.DiscoveryFailed || ts.Canceled {
			return ExitTermFailures
		}
		if ts.Failed > 0 {
			code = ExitDownloadFailures
		}
	}
	return code
}

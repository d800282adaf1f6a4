package poller

import (
	"time"

	"github.com/JakeFAU/feedpoller/internal/artifact"
)

// FeedRecord is one entry of the feed list. It is read-only to the poller.
type FeedRecord struct {
	ID    uint64
	URL   string
	Title string
	// LastModified is the cached Last-Modified value in unix seconds, 0 if unknown.
	LastModified int64
	// ETag is the cached entity tag, empty if unknown.
	ETag string
}

// Verdict is the classification of one fetch.
type Verdict int

// Verdict values.
const (
	VerdictNotUpdated Verdict = iota
	VerdictUpdated
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictUpdated:
		return "updated"
	case VerdictNotUpdated:
		return "not_updated"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what the Executor reports for one feed.
type Result struct {
	Feed    FeedRecord
	Verdict Verdict
	Outcome artifact.Outcome
	// WriteErr is set when the outcome could not be persisted. It never
	// changes Verdict.
	WriteErr error
}

// RunSummary aggregates the verdicts of one run.
type RunSummary struct {
	RunID         string
	Total         int
	Updated       int
	NotUpdated    int
	Failed        int
	WriteFailures int
	// Skipped counts feeds never dispatched because the run was cancelled.
	Skipped  int
	Duration time.Duration
}

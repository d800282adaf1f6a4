package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/dispatcher"
	"github.com/JakeFAU/feedpoller/internal/metrics"
)

// Orchestrator runs one poll over every feed the source lists.
type Orchestrator struct {
	source      FeedSource
	fetcher     Fetcher
	ids         IDGenerator
	concurrency int
	logger      *zap.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRunIDs attaches a generated run ID to logs and the summary.
func WithRunIDs(ids IDGenerator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ids = ids
	}
}

// NewOrchestrator builds an Orchestrator that keeps at most concurrency
// fetches in flight.
func NewOrchestrator(source FeedSource, fetcher Fetcher, concurrency int, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if source == nil {
		return nil, errors.New("feed source is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0, got %d", concurrency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		source:      source,
		fetcher:     fetcher,
		concurrency: concurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run lists the feeds and fetches each one. A feed-list failure ends the run
// before anything is fetched. Otherwise Run returns after every dispatched
// feed produced a verdict; individual failures never stop the run.
// Cancelling ctx stops dispatch only. Fetches already started run to
// completion under the executor's own timeouts.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: o.newRunID()}
	logger := o.logger
	if summary.RunID != "" {
		logger = logger.With(zap.String("run_id", summary.RunID))
	}

	feeds, err := o.source.ListFeeds(ctx)
	if err != nil {
		metrics.ObserveRun("feed_list_error")
		return summary, fmt.Errorf("%w: %w", ErrFeedList, err)
	}
	summary.Total = len(feeds)
	logger.Info("feeds loaded", zap.Int("count", len(feeds)), zap.Int("concurrency", o.concurrency))

	var mu sync.Mutex
	sent := dispatcher.New[FeedRecord](o.concurrency).Run(ctx, feeds, func(ctx context.Context, feed FeedRecord) {
		res, err := o.fetcher.Fetch(context.WithoutCancel(ctx), feed)
		logResult(logger, feed, res, err)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			summary.Failed++
		case res.Verdict == VerdictUpdated:
			summary.Updated++
		default:
			summary.NotUpdated++
		}
		if res.WriteErr != nil {
			summary.WriteFailures++
		}
	})
	summary.Skipped = len(feeds) - sent
	summary.Duration = time.Since(start)

	result := "completed"
	if summary.Skipped > 0 {
		result = "cancelled"
	}
	metrics.ObserveRun(result)
	return summary, nil
}

func (o *Orchestrator) newRunID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}

func logResult(logger *zap.Logger, feed FeedRecord, res Result, err error) {
	fields := []zap.Field{
		zap.Uint64("feed_id", feed.ID),
		zap.String("title", feed.Title),
		zap.String("url", feed.URL),
		zap.Int("status", res.Outcome.StatusCode),
	}
	switch {
	case err != nil:
		logger.Warn("feed fetch failed", append(fields, zap.Error(err))...)
	case res.Verdict == VerdictUpdated:
		logger.Info("feed is updated", fields...)
	default:
		logger.Info("feed is not updated", fields...)
	}
}

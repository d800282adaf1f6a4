package poller

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/artifact"
	"github.com/JakeFAU/feedpoller/internal/metrics"
)

// redirectPolicy is the CheckRedirect hook for one fetch. Observer calls run
// under the fetch's context.
type redirectPolicy struct {
	ctx      context.Context
	feed     FeedRecord
	maxHops  int
	observer RedirectObserver
}

func (p *redirectPolicy) check(req *http.Request, via []*http.Request) error {
	if len(via) > p.maxHops {
		return fmt.Errorf("%w: %d previous hops", ErrTooManyRedirects, len(via))
	}
	if req.Response == nil {
		return nil
	}
	code := req.Response.StatusCode
	if artifact.IsPermanentRedirect(code) && p.observer != nil {
		p.observer.ObserveRedirect(p.ctx, p.feed, code, req.URL.String())
	}
	return nil
}

// StubWriter records permanent redirects as stub artifacts: the new location
// as effective URL, zeroed validators and no body.
type StubWriter struct {
	writer ArtifactWriter
	clock  Clock
	logger *zap.Logger
}

// NewStubWriter builds the default RedirectObserver.
func NewStubWriter(writer ArtifactWriter, clock Clock, logger *zap.Logger) *StubWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubWriter{writer: writer, clock: clock, logger: logger}
}

// ObserveRedirect writes the stub synchronously. A failed write is logged and
// never aborts the fetch.
func (s *StubWriter) ObserveRedirect(ctx context.Context, feed FeedRecord, code int, location string) {
	metrics.ObserveRedirectStub(code)
	art, err := s.writer.Write(ctx, artifact.Outcome{
		FeedID:       feed.ID,
		EffectiveURL: location,
		StatusCode:   code,
		FetchedAt:    s.clock.Now().Unix(),
	})
	if err != nil {
		s.logger.Error("write redirect stub failed",
			zap.Uint64("feed_id", feed.ID),
			zap.Int("status", code),
			zap.String("location", location),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("permanent redirect recorded",
		zap.Uint64("feed_id", feed.ID),
		zap.Int("status", code),
		zap.String("location", location),
		zap.String("key", art.Key),
	)
}

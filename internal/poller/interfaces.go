package poller

import (
	"context"
	"time"

	"github.com/JakeFAU/feedpoller/internal/artifact"
)

// FeedSource supplies the feeds to poll.
type FeedSource interface {
	ListFeeds(ctx context.Context) ([]FeedRecord, error)
}

// ArtifactWriter persists fetch outcomes. Implementations must tolerate
// concurrent writes to distinct keys.
type ArtifactWriter interface {
	Write(ctx context.Context, o artifact.Outcome) (artifact.Artifact, error)
}

// Fetcher performs one conditional fetch. The error is non-nil only when the
// request or the body download failed locally.
type Fetcher interface {
	Fetch(ctx context.Context, feed FeedRecord) (Result, error)
}

// RedirectObserver is told about every permanent redirect while a fetch is
// still following the chain.
type RedirectObserver interface {
	ObserveRedirect(ctx context.Context, feed FeedRecord, code int, location string)
}

// HostLimiter paces requests per origin host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Clock abstracts time for stamping artifacts.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

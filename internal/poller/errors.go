package poller

import "errors"

var (
	// ErrTooManyRedirects aborts a fetch whose redirect chain is too long.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrDownload marks a response whose body could not be read.
	ErrDownload = errors.New("download failed")
	// ErrArtifactWrite wraps failures to persist an outcome.
	ErrArtifactWrite = errors.New("artifact write failed")
	// ErrFeedList wraps failures of the feed source. It is fatal to a run.
	ErrFeedList = errors.New("list feeds")
)

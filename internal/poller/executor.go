package poller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/artifact"
	"github.com/JakeFAU/feedpoller/internal/metrics"
)

// Executor performs conditional fetches. One Executor is shared by every
// worker; per-fetch state lives on the stack of Fetch.
type Executor struct {
	cfg       Config
	transport http.RoundTripper
	writer    ArtifactWriter
	observer  RedirectObserver
	limiter   HostLimiter
	clock     Clock
	logger    *zap.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithTransport replaces the default transport, mainly for tests.
func WithTransport(rt http.RoundTripper) ExecutorOption {
	return func(e *Executor) {
		e.transport = rt
	}
}

// WithRedirectObserver replaces the default stub-writing observer.
func WithRedirectObserver(o RedirectObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithHostLimiter paces the first request of every fetch by host.
func WithHostLimiter(l HostLimiter) ExecutorOption {
	return func(e *Executor) {
		e.limiter = l
	}
}

// NewExecutor builds an Executor. Unless overridden, permanent redirects are
// recorded through writer as stub artifacts.
func NewExecutor(cfg Config, writer ArtifactWriter, clock Clock, logger *zap.Logger, opts ...ExecutorOption) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poller config: %w", err)
	}
	if writer == nil {
		return nil, errors.New("artifact writer is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		cfg:    cfg,
		writer: writer,
		clock:  clock,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = newTransport(cfg)
	}
	if e.observer == nil {
		e.observer = NewStubWriter(writer, clock, logger)
	}
	return e, nil
}

func newTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		MaxIdleConnsPerHost: 2,
		// Content decoding is done in readBody so deflate is covered too.
		DisableCompression: true,
	}
}

// Fetch runs one conditional GET for feed and persists the outcome. HTTP
// error statuses are classified outcomes; the returned error is reserved for
// transport and download failures.
func (e *Executor) Fetch(ctx context.Context, feed FeedRecord) (Result, error) {
	metrics.IncInFlight()
	defer metrics.DecInFlight()
	start := time.Now()

	logger := e.logger.With(zap.Uint64("feed_id", feed.ID), zap.String("url", feed.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return e.connectionFailure(ctx, feed, logger, start, fmt.Errorf("build request: %w", err))
	}
	for k, v := range BuildRequestHeaders(feed.LastModified, feed.ETag) {
		req.Header[k] = v
		logger.Debug("conditional header", zap.String("header", k), zap.String("value", v[0]))
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, feed.URL); err != nil {
			return e.connectionFailure(ctx, feed, logger, start, err)
		}
	}

	policy := &redirectPolicy{
		ctx:      ctx,
		feed:     feed,
		maxHops:  e.cfg.MaxRedirects,
		observer: e.observer,
	}
	client := &http.Client{
		Transport:     e.transport,
		Timeout:       e.cfg.RequestTimeout,
		CheckRedirect: policy.check,
	}

	resp, err := client.Do(req)
	if err != nil {
		return e.connectionFailure(ctx, feed, logger, start, err)
	}
	defer func() { _ = resp.Body.Close() }()

	lastModified, etag := ParseResponseValidators(resp.Header, feed.LastModified)
	outcome := artifact.Outcome{
		FeedID:       feed.ID,
		EffectiveURL: resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		LastModified: lastModified,
		ETag:         etag,
		Terminal:     true,
	}
	logger.Debug("response received",
		zap.Int("status", resp.StatusCode),
		zap.Int64("last_modified", lastModified),
		zap.String("etag", etag),
	)

	verdict := VerdictNotUpdated
	var fetchErr error
	switch code := resp.StatusCode; {
	case code == http.StatusOK || code == http.StatusNonAuthoritativeInfo || code == 214:
		body, err := readBody(resp, e.cfg.MaxBodyBytes)
		switch {
		case errors.Is(err, errBodyTooLarge):
			outcome.StatusCode = e.cfg.Codes.SizeExceeded
			logger.Warn("body exceeds size limit", zap.Int64("limit", e.cfg.MaxBodyBytes))
		case err != nil:
			outcome.StatusCode = e.cfg.Codes.DownloadFailure
			verdict = VerdictFailed
			fetchErr = fmt.Errorf("%w: %w", ErrDownload, err)
		default:
			outcome.Body = body
			verdict = VerdictUpdated
			logger.Debug("content downloaded", zap.Int("bytes", len(body)))
		}
	case code == http.StatusNoContent:
		verdict = VerdictUpdated
		logger.Debug("no content")
	case code == http.StatusNotModified:
		logger.Debug("content not modified")
	case code >= 400 && code <= 499:
		logger.Debug("request error", zap.Int("status", code))
	case code >= 500 && code <= 999:
		logger.Debug("server error", zap.Int("status", code))
	case artifact.IsPermanentRedirect(code):
		logger.Warn("permanent redirect not followed",
			zap.Int("status", code),
			zap.String("location", resp.Header.Get("Location")),
			zap.Bool("location_missing", resp.Header.Get("Location") == ""),
		)
	default:
		logger.Warn("unhandled status code", zap.Int("status", code))
	}

	outcome.FetchedAt = e.clock.Now().Unix()
	res := e.persist(ctx, feed, outcome, verdict, logger)
	metrics.ObserveFetch(outcome.StatusCode, verdict.String(), time.Since(start))
	return res, fetchErr
}

// connectionFailure records the connection-failure code with the inherited
// Last-Modified, NoETag, and the requested URL.
func (e *Executor) connectionFailure(ctx context.Context, feed FeedRecord, logger *zap.Logger, start time.Time, cause error) (Result, error) {
	lastModified, etag := ParseResponseValidators(nil, feed.LastModified)
	outcome := artifact.Outcome{
		FeedID:       feed.ID,
		EffectiveURL: feed.URL,
		StatusCode:   e.cfg.Codes.ConnectionFailure,
		LastModified: lastModified,
		ETag:         etag,
		FetchedAt:    e.clock.Now().Unix(),
		Terminal:     true,
	}
	res := e.persist(ctx, feed, outcome, VerdictFailed, logger)
	metrics.ObserveFetch(outcome.StatusCode, VerdictFailed.String(), time.Since(start))
	return res, fmt.Errorf("fetch %s: %w", feed.URL, cause)
}

func (e *Executor) persist(ctx context.Context, feed FeedRecord, o artifact.Outcome, v Verdict, logger *zap.Logger) Result {
	res := Result{Feed: feed, Verdict: v, Outcome: o}
	if _, err := e.writer.Write(ctx, o); err != nil {
		res.WriteErr = fmt.Errorf("%w: %w", ErrArtifactWrite, err)
		logger.Error("write artifact failed", zap.Int("status", o.StatusCode), zap.Error(err))
	}
	return res
}

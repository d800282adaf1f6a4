package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/metrics"
)

const defaultContentType = "text/plain; charset=utf-8"

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes artifact notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes body digests attached to notifications.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls how artifacts are keyed and stored.
type Config struct {
	// Prefix is prepended to every key (e.g. "poll" gives poll/feeds/1_200.txt).
	Prefix string
	// ContentType is attached to each object; defaults to text/plain.
	ContentType string
	// SizeExceededCode is the synthetic status whose artifacts never carry a body.
	SizeExceededCode int
	// Topic enables notifications when a Publisher is configured.
	Topic string
}

// Artifact describes a successfully written object.
type Artifact struct {
	Key       string
	URI       string
	Namespace Namespace
	Size      int
}

// Event is published after each successful write.
type Event struct {
	FeedID     uint64 `json:"feed_id"`
	StatusCode int    `json:"status_code"`
	Namespace  string `json:"namespace"`
	Key        string `json:"key"`
	URI        string `json:"uri"`
	BodySHA256 string `json:"body_sha256,omitempty"`
	FetchedAt  int64  `json:"fetched_at"`
}

// Attributes exposes routing fields as message attributes.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"feed_id":     strconv.FormatUint(e.FeedID, 10),
		"status_code": strconv.Itoa(e.StatusCode),
		"namespace":   e.Namespace,
	}
}

// Writer serializes outcomes and stores them. It holds no per-write state,
// so it is safe for concurrent use as long as the BlobStore tolerates
// concurrent writes to distinct keys.
type Writer struct {
	store     BlobStore
	publisher Publisher
	hasher    Hasher
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Writer.
type Option func(*Writer)

// WithPublisher enables notifications for every stored artifact.
func WithPublisher(p Publisher) Option {
	return func(w *Writer) {
		w.publisher = p
	}
}

// WithHasher attaches a body digest to notifications.
func WithHasher(h Hasher) Option {
	return func(w *Writer) {
		w.hasher = h
	}
}

// NewWriter builds a Writer over store.
func NewWriter(store BlobStore, cfg Config, logger *zap.Logger, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write stores one outcome, overwriting any artifact at the same key.
func (w *Writer) Write(ctx context.Context, o Outcome) (Artifact, error) {
	ns := o.Namespace()
	key := OutcomeKey(w.cfg.Prefix, o)
	includeBody := len(o.Body) > 0 && o.StatusCode != w.cfg.SizeExceededCode
	payload := Encode(o, includeBody)

	uri, err := w.store.PutObject(ctx, key, w.cfg.ContentType, bytes.NewReader(payload))
	metrics.ObserveArtifactWrite(string(ns), err)
	if err != nil {
		return Artifact{}, fmt.Errorf("put artifact %s: %w", key, err)
	}

	art := Artifact{
		Key:       key,
		URI:       uri,
		Namespace: ns,
		Size:      len(payload),
	}
	w.notify(ctx, o, art, includeBody)
	return art, nil
}

func (w *Writer) notify(ctx context.Context, o Outcome, art Artifact, hasBody bool) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	evt := Event{
		FeedID:     o.FeedID,
		StatusCode: o.StatusCode,
		Namespace:  string(art.Namespace),
		Key:        art.Key,
		URI:        art.URI,
		FetchedAt:  o.FetchedAt,
	}
	if hasBody && w.hasher != nil {
		sum, err := w.hasher.Hash(o.Body)
		if err != nil {
			w.logger.Warn("hash artifact body failed", zap.Uint64("feed_id", o.FeedID), zap.Error(err))
		} else {
			evt.BodySHA256 = sum
		}
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, evt); err != nil {
		w.logger.Warn("publish artifact event failed",
			zap.Uint64("feed_id", o.FeedID),
			zap.String("key", art.Key),
			zap.Error(err),
		)
	}
}

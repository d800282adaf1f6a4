package poller

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/artifact"
	"github.com/JakeFAU/feedpoller/internal/storage/memory"
)

var testNow = time.Unix(1700000500, 0).UTC()

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingWriter struct{}

func (failingWriter) Write(context.Context, artifact.Outcome) (artifact.Artifact, error) {
	return artifact.Artifact{}, errors.New("store offline")
}

func newTestExecutor(t *testing.T, cfg Config, opts ...ExecutorOption) (*Executor, *memory.BlobStore) {
	t.Helper()
	store := memory.NewBlobStore()
	w, err := artifact.NewWriter(store, artifact.Config{Prefix: "poll", SizeExceededCode: cfg.Codes.SizeExceeded}, zap.NewNop())
	require.NoError(t, err)
	exec, err := NewExecutor(cfg, w, fixedClock{testNow}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return exec, store
}

func readArtifact(t *testing.T, store *memory.BlobStore, key string) artifact.Record {
	t.Helper()
	raw, ok := store.Get(key)
	require.Truef(t, ok, "artifact %s not found, have %v", key, store.Keys())
	rec, err := artifact.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return rec
}

// Package file reads the feed list from a YAML document.
//
// Example:
//
//	feeds:
//	  - id: 1
//	    url: https://example.com/feed.xml
//	    title: Example
//	    last_modified: 1700000000
//	    etag: '"abc"'
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

// Document is the top-level YAML structure.
type Document struct {
	Feeds []Entry `yaml:"feeds"`
}

// Entry is one feed in the document.
type Entry struct {
	ID           uint64 `yaml:"id"`
	URL          string `yaml:"url"`
	Title        string `yaml:"title"`
	LastModified int64  `yaml:"last_modified"`
	ETag         string `yaml:"etag"`
}

// Source lists feeds from a YAML file. The file is re-read on every call so
// edits between runs are picked up.
type Source struct {
	path string
}

// New returns a Source for path.
func New(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("feed file path is required")
	}
	return &Source{path: path}, nil
}

// ListFeeds implements poller.FeedSource.
func (s *Source) ListFeeds(_ context.Context) ([]poller.FeedRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a feed document. Unknown keys, duplicate IDs,
// and URLs without an http(s) scheme are rejected.
func Parse(data []byte) ([]poller.FeedRecord, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode feed file: %w", err)
	}

	seen := make(map[uint64]struct{}, len(doc.Feeds))
	feeds := make([]poller.FeedRecord, 0, len(doc.Feeds))
	for i, e := range doc.Feeds {
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("feeds[%d]: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = struct{}{}
		if err := validateURL(e.URL); err != nil {
			return nil, fmt.Errorf("feeds[%d] (id %d): %w", i, e.ID, err)
		}
		if e.LastModified < 0 {
			return nil, fmt.Errorf("feeds[%d] (id %d): last_modified must be >= 0", i, e.ID)
		}
		feeds = append(feeds, poller.FeedRecord{
			ID:           e.ID,
			URL:          e.URL,
			Title:        e.Title,
			LastModified: e.LastModified,
			ETag:         e.ETag,
		})
	}
	return feeds, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

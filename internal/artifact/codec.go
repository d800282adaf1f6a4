// Package artifact serializes poll outcomes into addressable artifacts and
// writes them to a blob store for the downstream parser.
//
// An artifact is four newline-terminated metadata lines followed by the raw
// body:
//
//	<last-modified unix seconds>
//	<etag>
//	<effective url>
//	<fetched-at unix seconds>
//	<body...>
//
// Artifacts are keyed by feed id and status code, so a re-run for the same
// feed replaces the previous artifact rather than appending to it.
package artifact

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// Namespace partitions artifacts so downstream passes can scan one subset.
type Namespace string

// Artifact namespaces.
const (
	NamespaceFeeds     Namespace = "feeds"
	NamespaceRedirects Namespace = "redirects"
)

// ErrMalformed is returned by Decode when the metadata header is incomplete.
var ErrMalformed = errors.New("malformed artifact")

// Outcome is the result of one fetch attempt. It is built once and never
// mutated afterwards.
type Outcome struct {
	FeedID       uint64
	EffectiveURL string
	StatusCode   int
	LastModified int64
	ETag         string
	Body         []byte
	FetchedAt    int64
	// Terminal marks the final response of a fetch rather than a redirect
	// hop. A terminal 301/308 was not followed, so it belongs under feeds.
	Terminal bool
}

// Record is a decoded artifact.
type Record struct {
	LastModified int64
	ETag         string
	EffectiveURL string
	FetchedAt    int64
	Body         []byte
}

// IsPermanentRedirect reports whether code marks a canonical URL change.
func IsPermanentRedirect(code int) bool {
	return code == http.StatusMovedPermanently || code == http.StatusPermanentRedirect
}

// NamespaceFor returns the namespace an outcome with the given status belongs to.
func NamespaceFor(code int) Namespace {
	if IsPermanentRedirect(code) {
		return NamespaceRedirects
	}
	return NamespaceFeeds
}

// Namespace returns the namespace the outcome is stored under.
func (o Outcome) Namespace() Namespace {
	if o.Terminal {
		return NamespaceFeeds
	}
	return NamespaceFor(o.StatusCode)
}

// Key derives the object key for a (feed id, status code) pair.
func Key(prefix string, feedID uint64, code int) string {
	return keyIn(prefix, NamespaceFor(code), feedID, code)
}

// OutcomeKey derives the object key for o, honouring Terminal.
func OutcomeKey(prefix string, o Outcome) string {
	return keyIn(prefix, o.Namespace(), o.FeedID, o.StatusCode)
}

func keyIn(prefix string, ns Namespace, feedID uint64, code int) string {
	name := fmt.Sprintf("%d_%d.txt", feedID, code)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(string(ns), name)
	}
	return path.Join(prefix, string(ns), name)
}

// Encode renders the artifact bytes. The body is dropped when includeBody is
// false.
func Encode(o Outcome, includeBody bool) []byte {
	var buf bytes.Buffer
	buf.Grow(128 + len(o.EffectiveURL) + len(o.Body))
	fmt.Fprintf(&buf, "%d\n%s\n%s\n%d\n", o.LastModified, oneLine(o.ETag), oneLine(o.EffectiveURL), o.FetchedAt)
	if includeBody {
		buf.Write(o.Body)
	}
	return buf.Bytes()
}

// Decode parses an artifact produced by Encode.
func Decode(r io.Reader) (Record, error) {
	br := bufio.NewReader(r)
	lines := make([]string, 0, 4)
	for len(lines) < 4 {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, fmt.Errorf("%w: expected 4 metadata lines, got %d", ErrMalformed, len(lines))
			}
			return Record{}, fmt.Errorf("read metadata: %w", err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}

	lastModified, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: last-modified %q: %v", ErrMalformed, lines[0], err)
	}
	fetchedAt, err := strconv.ParseInt(lines[3], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: fetched-at %q: %v", ErrMalformed, lines[3], err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return Record{}, fmt.Errorf("read body: %w", err)
	}
	return Record{
		LastModified: lastModified,
		ETag:         lines[1],
		EffectiveURL: lines[2],
		FetchedAt:    fetchedAt,
		Body:         body,
	}, nil
}

// oneLine keeps a metadata value from spilling into the next line.
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

package poller

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// NoETag is recorded whenever a response carries no entity tag. It is
// distinct from the empty string, which means "unknown" on input, and is
// never sent back as If-None-Match.
const NoETag = "[[NO_ETAG]]"

// BuildRequestHeaders returns the conditional headers for the cached
// validators. A header is omitted when its source value is absent or would
// not be a valid header value.
func BuildRequestHeaders(lastModified int64, etag string) http.Header {
	h := make(http.Header, 2)
	if lastModified > 0 {
		h.Set("If-Modified-Since", time.Unix(lastModified, 0).UTC().Format(http.TimeFormat))
	}
	if etag != "" && etag != NoETag && httpguts.ValidHeaderFieldValue(etag) {
		h.Set("If-None-Match", etag)
	}
	return h
}

// ParseResponseValidators extracts Last-Modified and ETag from a response.
// An unparseable or pre-epoch date keeps prevLastModified. A missing or empty
// ETag yields NoETag.
func ParseResponseValidators(h http.Header, prevLastModified int64) (int64, string) {
	lastModified := prevLastModified
	if v := headerValue(h, "Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil && t.Unix() >= 0 {
			lastModified = t.Unix()
		}
	}

	etag := headerValue(h, "ETag")
	if etag == "" {
		etag = NoETag
	}
	return lastModified, etag
}

// headerValue looks a header up case-insensitively, including keys that were
// stored without canonicalization.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vs := range h {
		if len(vs) > 0 && strings.EqualFold(k, name) && vs[0] != "" {
			return vs[0]
		}
	}
	return ""
}

package poller

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var errBodyTooLarge = errors.New("body exceeds size limit")

// readBody decodes the content coding, reads at most limit bytes and converts
// the result to UTF-8. errBodyTooLarge is returned when either the decoded
// bytes or the UTF-8 text exceed limit.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	r, err := decodeContent(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, errBodyTooLarge
	}
	text := toUTF8(raw, resp.Header.Get("Content-Type"))
	if int64(len(text)) > limit {
		return nil, errBodyTooLarge
	}
	return text, nil
}

// decodeContent unwraps gzip and deflate. Unknown codings pass through as-is.
func decodeContent(body io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if errors.Is(err, io.EOF) {
			return bytes.NewReader(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		return deflateReader(body)
	default:
		return body, nil
	}
}

// deflateReader accepts both zlib-wrapped and raw DEFLATE streams.
func deflateReader(body io.Reader) (io.Reader, error) {
	br := bufio.NewReader(body)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek deflate body: %w", err)
	}
	if len(head) < 2 {
		return br, nil
	}
	if head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zlib body: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}

// toUTF8 converts raw to UTF-8 using the charset parameter of contentType.
// Invalid sequences are replaced rather than rejected.
func toUTF8(raw []byte, contentType string) []byte {
	if cs := charsetOf(contentType); cs != "" && cs != "utf-8" && cs != "utf8" {
		if enc, err := htmlindex.Get(cs); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil {
				return decoded
			}
		}
	}
	if utf8.Valid(raw) {
		return raw
	}
	return bytes.ToValidUTF8(raw, []byte("�"))
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

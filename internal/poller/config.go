package poller

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/http/httpguts"
)

// DefaultUserAgent identifies the poller to origin servers.
const DefaultUserAgent = "feedpoller/1.0 (conditional feed poller)"

// SyntheticCodes are the status codes recorded for local failures. They sit
// outside 100-599 so they never collide with a real response.
type SyntheticCodes struct {
	ConnectionFailure int
	DownloadFailure   int
	SizeExceeded      int
}

// Config carries the engine's tunables. Build one with DefaultConfig and
// override fields as needed.
type Config struct {
	UserAgent       string
	Concurrency     int
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	IdleConnTimeout time.Duration
	// MaxRedirects is the number of previous hops allowed before a redirect
	// aborts the fetch. 9 permits a chain of ten requests.
	MaxRedirects int
	MaxBodyBytes int64
	Codes        SyntheticCodes
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:       DefaultUserAgent,
		Concurrency:     100,
		ConnectTimeout:  20 * time.Second,
		RequestTimeout:  30 * time.Second,
		IdleConnTimeout: 20 * time.Second,
		MaxRedirects:    9,
		MaxBodyBytes:    40971520,
		Codes: SyntheticCodes{
			ConnectionFailure: 666,
			DownloadFailure:   667,
			SizeExceeded:      668,
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.UserAgent == "" || !httpguts.ValidHeaderFieldValue(c.UserAgent) {
		errs = append(errs, fmt.Errorf("user agent %q is not a valid header value", c.UserAgent))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be > 0"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be > 0"))
	}
	if c.IdleConnTimeout < 0 {
		errs = append(errs, errors.New("idle connection timeout must be >= 0"))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, errors.New("max redirects must be >= 0"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be > 0"))
	}
	errs = append(errs, c.Codes.validate()...)
	return errors.Join(errs...)
}

func (s SyntheticCodes) validate() []error {
	var errs []error
	seen := make(map[int]string, 3)
	for _, c := range []struct {
		name string
		code int
	}{
		{"connection failure", s.ConnectionFailure},
		{"download failure", s.DownloadFailure},
		{"size exceeded", s.SizeExceeded},
	} {
		if c.code >= 100 && c.code <= 599 {
			errs = append(errs, fmt.Errorf("%s code %d collides with the HTTP status range", c.name, c.code))
		}
		if c.code <= 0 {
			errs = append(errs, fmt.Errorf("%s code must be > 0", c.name))
		}
		if other, dup := seen[c.code]; dup {
			errs = append(errs, fmt.Errorf("%s code %d duplicates %s", c.name, c.code, other))
		}
		seen[c.code] = c.name
	}
	return errs
}

package modhub

import (
	"errors"
	"fmt"
)

// ScrapeReason classifies scraper failures.
type ScrapeReason string

const (
	// TransientFetch covers network errors and non-2xx responses after
	// retries were exhausted. Retryable by a later crawl.
	TransientFetch ScrapeReason = "transient-fetch"
	// UpstreamFormatChanged covers pages that fetched fine but no longer
	// match the expected structure. Never retried.
	UpstreamFormatChanged ScrapeReason = "upstream-format-changed"
)

// ScrapeError is the typed failure of a fetch or page extraction.
type ScrapeError struct {
	Reason ScrapeReason
	URL    string
	Err    error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape failed (%s) at %s: %v", e.Reason, e.URL, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// AsScrapeError unwraps err into a ScrapeError if possible.
func AsScrapeError(err error) (*ScrapeError, bool) {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func transient(url string, err error) error {
	return &ScrapeError{Reason: TransientFetch, URL: url, Err: err}
}

func formatChanged(url, format string, args ...any) error {
	return &ScrapeError{Reason: UpstreamFormatChanged, URL: url, Err: fmt.Errorf(format, args...)}
}

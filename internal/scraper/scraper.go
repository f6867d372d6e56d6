package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidScope      = errors.New("invalid scope")
	ErrMissingParams     = errors.New("missing makes/models/zip in params")
	ErrListingIDRequired = errors.New("listing_id is required")
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Linux; Android 5.0; SM-G900P Build/LRX21T) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/39.0.1047.1013 Mobile Safari/537.36"
)

// FetchRequest is one page fetch. A zero Timeout means DefaultTimeout.
type FetchRequest struct {
	URL     string
	Header  http.Header
	Timeout time.Duration
}

// FetchResponse is a completed HTTP exchange, whatever its status.
type FetchResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL string
}

// Fetcher retrieves pages. A returned error means the exchange itself
// failed (DNS, connect, timeout), never an HTTP error status.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// ArtifactStore persists raw pages per run.
type ArtifactStore interface {
	Put(runID, name string, data []byte) (string, error)
	Get(path string) ([]byte, error)
}

// DefaultHeaders returns the browser-like headers sent with every fetch.
func DefaultHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// describeError renders err as "<Type>: <message>" for error artifacts.
func describeError(err error) string {
	return fmt.Sprintf("%s: %v", strings.TrimPrefix(fmt.Sprintf("%T", err), "*"), err)
}

func errorMarker(err error, url string) []byte {
	return []byte(fmt.Sprintf("%s\nurl=%s\n", describeError(err), url))
}

func statusError(status int) *string {
	if status == http.StatusOK {
		return nil
	}
	msg := fmt.Sprintf("HTTP %d", status)
	return &msg
}

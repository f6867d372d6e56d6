package scraper

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/whitewalls86/new-car-tracker/internal/models"
	"github.com/whitewalls86/new-car-tracker/internal/parser"
	"github.com/whitewalls86/new-car-tracker/internal/storage"
)

const (
	DetailModeFetch = "fetch"
	DetailModeDummy = "dummy"
)

// DetailRequest asks for one detail page. URL defaults to the listing's
// canonical detail URL.
type DetailRequest struct {
	RunID     string
	ListingID string
	URL       string
	VIN       string
	Timeout   time.Duration
	Header    map[string]string
}

// DetailResult mirrors what callers record: the artifact, the fetch error
// (if any) as text, and a few facts about the attempt.
type DetailResult struct {
	Error     *string            `json:"error"`
	Artifacts []*models.Artifact `json:"artifacts"`
	Meta      map[string]any     `json:"meta"`
}

// DetailScraper writes one artifact per detail page attempt, success or not.
type DetailScraper struct {
	fetcher Fetcher
	store   ArtifactStore
	header  http.Header
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewDetailScraper(fetcher Fetcher, store ArtifactStore, userAgent string, timeout time.Duration, logger *slog.Logger) *DetailScraper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DetailScraper{
		fetcher: fetcher,
		store:   store,
		header:  DefaultHeaders(userAgent),
		timeout: timeout,
		logger:  logger.With("component", "detail_scraper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r DetailRequest) detailURL() string {
	if r.URL != "" {
		return r.URL
	}
	return parser.DetailURL(r.ListingID)
}

func (r DetailRequest) searchKey() string {
	if r.VIN != "" {
		return r.VIN
	}
	return r.ListingID
}

func (s *DetailScraper) newArtifact(req DetailRequest, url string) *models.Artifact {
	return &models.Artifact{
		Source:       models.SourceCarsCom,
		ArtifactType: models.ArtifactTypeDetailPage,
		SearchKey:    req.searchKey(),
		SearchScope:  models.ScopeDetail,
		URL:          url,
		FetchedAt:    s.now(),
	}
}

// Fetch retrieves the detail page and stores it under its HTTP status. A
// transport failure leaves an error marker instead.
func (s *DetailScraper) Fetch(ctx context.Context, req DetailRequest) (*DetailResult, error) {
	if req.ListingID == "" {
		return nil, ErrListingIDRequired
	}

	url := req.detailURL()
	meta := map[string]any{
		"mode":       DetailModeFetch,
		"listing_id": req.ListingID,
		"vin":        nilIfEmpty(req.VIN),
	}

	header := s.header.Clone()
	for k, v := range req.Header {
		header.Set(k, v)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	artifact := s.newArtifact(req, url)
	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: url, Header: header, Timeout: timeout})
	if err != nil {
		s.logger.Warn("detail fetch failed",
			"listing_id", req.ListingID,
			"url", url,
			"error", err)

		path, putErr := s.store.Put(req.RunID, fmt.Sprintf("detail_%s__ERROR.txt", req.ListingID), errorMarker(err, url))
		if putErr != nil {
			return nil, fmt.Errorf("failed to write error artifact: %w", putErr)
		}
		msg := describeError(err)
		artifact.Filepath = path
		artifact.Error = &msg
		return &DetailResult{Error: &msg, Artifacts: []*models.Artifact{artifact}, Meta: meta}, nil
	}

	path, err := s.store.Put(req.RunID, fmt.Sprintf("detail_%s__%d.html", req.ListingID, resp.Status), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save detail page: %w", err)
	}

	status := resp.Status
	size := len(resp.Body)
	if resp.FinalURL != "" {
		artifact.URL = resp.FinalURL
	}
	artifact.HTTPStatus = &status
	artifact.ContentBytes = &size
	artifact.Filepath = path
	artifact.Error = statusError(status)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		artifact.ContentType = &ct
	}
	if size > 0 {
		sum := storage.Checksum(resp.Body)
		artifact.SHA256 = &sum
	}
	meta["final_url"] = artifact.URL

	s.logger.Info("detail page fetched",
		"listing_id", req.ListingID,
		"status", status,
		"bytes", size)

	return &DetailResult{Error: artifact.Error, Artifacts: []*models.Artifact{artifact}, Meta: meta}, nil
}

var dummyDetailTemplate = template.Must(template.New("detail").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>Dummy Cars.com Detail - {{.ListingID}}</title>
    <script id="initial-activity-data" type="application/json">{{.Activity}}</script>
  </head>
  <body>
    <h1>Dummy Cars.com Detail Page</h1>
  </body>
</html>
`))

// Dummy writes a synthetic detail page without touching the network.
func (s *DetailScraper) Dummy(req DetailRequest) (*DetailResult, error) {
	if req.ListingID == "" {
		return nil, ErrListingIDRequired
	}

	url := req.detailURL()
	meta := map[string]any{
		"mode":       DetailModeDummy,
		"listing_id": req.ListingID,
		"vin":        nilIfEmpty(req.VIN),
	}

	var buf bytes.Buffer
	activity := map[string]any{"listing_id": req.ListingID, "vin": req.VIN}
	if err := dummyDetailTemplate.Execute(&buf, map[string]any{
		"ListingID": req.ListingID,
		"Activity":  activity,
	}); err != nil {
		return nil, fmt.Errorf("failed to render dummy page: %w", err)
	}
	content := buf.Bytes()

	artifact := s.newArtifact(req, url)
	path, err := s.store.Put(req.RunID, fmt.Sprintf("detail_%s.html", req.ListingID), content)
	if err != nil {
		msg := describeError(err)
		artifact.Error = &msg
		meta["wrote"] = false
		errMsg := "failed to write dummy detail artifact: " + msg
		return &DetailResult{Error: &errMsg, Artifacts: []*models.Artifact{artifact}, Meta: meta}, nil
	}

	status := http.StatusOK
	size := len(content)
	ct := "text/html; charset=utf-8"
	sum := storage.Checksum(content)
	artifact.HTTPStatus = &status
	artifact.ContentType = &ct
	artifact.ContentBytes = &size
	artifact.SHA256 = &sum
	artifact.Filepath = path
	meta["wrote"] = true

	return &DetailResult{Artifacts: []*models.Artifact{artifact}, Meta: meta}, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

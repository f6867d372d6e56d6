package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/whitewalls86/new-car-tracker/internal/models"
	"github.com/whitewalls86/new-car-tracker/internal/storage"
)

// RunState is a state of the results pagination controller.
type RunState string

const (
	StateFetching    RunState = "fetching"
	StateContinue    RunState = "continue"
	StateStopKeep    RunState = "stop_keep"
	StateStopDiscard RunState = "stop_discard"
	StateAbort       RunState = "abort"
	// StateExhausted ends a run that reached its configured page bound.
	StateExhausted RunState = "exhausted"
)

// Terminal reports whether no further page is fetched from s.
func (s RunState) Terminal() bool {
	switch s {
	case StateStopKeep, StateStopDiscard, StateAbort, StateExhausted:
		return true
	default:
		return false
	}
}

const (
	DefaultRadiusMiles = 200
	DefaultPageSize    = 100
	DefaultMaxPages    = 1
)

// ResultsRequest describes one (search key, scope) pass.
type ResultsRequest struct {
	RunID     string
	SearchKey string
	Scope     string
	Query     ResultsQuery
	MaxPages  int
}

// Validate applies defaults and rejects requests that cannot be fetched.
func (r *ResultsRequest) Validate() error {
	if r.Scope != models.ScopeNational && r.Scope != models.ScopeLocal {
		return fmt.Errorf("%w '%s'", ErrInvalidScope, r.Scope)
	}
	if len(r.Query.Makes) == 0 || len(r.Query.Models) == 0 || r.Query.Zip == "" {
		return ErrMissingParams
	}
	if r.Query.RadiusMiles <= 0 {
		r.Query.RadiusMiles = DefaultRadiusMiles
	}
	if r.Query.PageSize <= 0 {
		r.Query.PageSize = DefaultPageSize
	}
	if r.MaxPages <= 0 {
		r.MaxPages = DefaultMaxPages
	}
	return nil
}

// ResultsRun is the outcome of one pass: every artifact written, in page
// order, and the state the controller ended in.
type ResultsRun struct {
	RunID         string             `json:"run_id"`
	SearchKey     string             `json:"search_key"`
	Scope         string             `json:"scope"`
	TerminalState RunState           `json:"terminal_state"`
	Artifacts     []*models.Artifact `json:"artifacts"`
}

// ResultsScraper drives the page-by-page fetch of one results pass.
type ResultsScraper struct {
	fetcher Fetcher
	store   ArtifactStore
	baseURL string
	header  http.Header
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

type ResultsOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func NewResultsScraper(fetcher Fetcher, store ArtifactStore, opts ResultsOptions, logger *slog.Logger) *ResultsScraper {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &ResultsScraper{
		fetcher: fetcher,
		store:   store,
		baseURL: opts.BaseURL,
		header:  DefaultHeaders(opts.UserAgent),
		timeout: opts.Timeout,
		logger:  logger.With("component", "results_scraper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Decide maps one fetched page's paging metadata to the controller's next
// state. Missing metadata never stops the run.
func Decide(requestedPage int, paging *models.PagingState) RunState {
	if paging == nil || paging.ServerReportedPage == nil {
		return StateContinue
	}
	actual := *paging.ServerReportedPage
	if actual != requestedPage {
		return StateStopDiscard
	}
	if paging.ReportedPageCount != nil && actual >= *paging.ReportedPageCount {
		return StateStopKeep
	}
	return StateContinue
}

// Scrape fetches pages 1..MaxPages until the controller reaches a terminal
// state. The returned error is reserved for artifact store failures; fetch
// failures end the run in StateAbort with an error artifact.
func (s *ResultsScraper) Scrape(ctx context.Context, req ResultsRequest) (*ResultsRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := &ResultsRun{
		RunID:     req.RunID,
		SearchKey: req.SearchKey,
		Scope:     req.Scope,
		Artifacts: []*models.Artifact{},
	}
	logger := s.logger.With("run_id", req.RunID, "search_key", req.SearchKey, "scope", req.Scope)

	state := StateContinue
	for page := 1; !state.Terminal(); page++ {
		if page > req.MaxPages {
			state = StateExhausted
			break
		}

		logger.Debug("fetching results page", "page", page, "state", StateFetching)
		next, artifact, err := s.fetchPage(ctx, req, page)
		if err != nil {
			return nil, err
		}
		if artifact != nil {
			run.Artifacts = append(run.Artifacts, artifact)
		}

		logger.Info("results page handled",
			"page", page,
			"state", next)
		state = next
	}

	run.TerminalState = state
	logger.Info("results pass finished",
		"terminal_state", state,
		"artifacts", len(run.Artifacts))
	return run, nil
}

// fetchPage runs the fetching state for one page and returns the state it
// transitions to, plus the artifact to record, if any.
func (s *ResultsScraper) fetchPage(ctx context.Context, req ResultsRequest, page int) (RunState, *models.Artifact, error) {
	pageURL := BuildResultsURL(s.baseURL, req.Query, req.Scope, page)
	artifact := &models.Artifact{
		Source:       models.SourceCarsCom,
		ArtifactType: models.ArtifactTypeResultsPage,
		SearchKey:    req.SearchKey,
		SearchScope:  req.Scope,
		PageNum:      &page,
		URL:          pageURL,
		FetchedAt:    s.now(),
	}
	prefix := fmt.Sprintf("%s__%s__page_%04d", req.SearchKey, req.Scope, page)

	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Header: s.header.Clone(), Timeout: s.timeout})
	if err != nil {
		s.logger.Warn("results page fetch failed",
			"search_key", req.SearchKey,
			"page", page,
			"error", err)

		path, putErr := s.store.Put(req.RunID, prefix+"__ERROR.txt", errorMarker(err, pageURL))
		if putErr != nil {
			return StateAbort, nil, fmt.Errorf("failed to write error artifact: %w", putErr)
		}
		msg := describeError(err)
		artifact.Filepath = path
		artifact.Error = &msg
		return StateAbort, artifact, nil
	}

	var paging *models.PagingState
	if resp.Status == http.StatusOK && len(resp.Body) > 0 {
		paging = ExtractPagingMeta(string(resp.Body), page)
	}

	next := Decide(page, paging)
	if next == StateStopDiscard {
		s.logger.Info("server served a different page, discarding",
			"search_key", req.SearchKey,
			"requested_page", page,
			"server_page", *paging.ServerReportedPage)
		return next, nil, nil
	}

	path, err := s.store.Put(req.RunID, fmt.Sprintf("%s__%d.html", prefix, resp.Status), resp.Body)
	if err != nil {
		return StateAbort, nil, fmt.Errorf("failed to save results page: %w", err)
	}

	status := resp.Status
	size := len(resp.Body)
	artifact.HTTPStatus = &status
	artifact.ContentBytes = &size
	artifact.Filepath = path
	artifact.Error = statusError(status)
	artifact.PagingMeta = paging
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		artifact.ContentType = &ct
	}
	if size > 0 {
		sum := storage.Checksum(resp.Body)
		artifact.SHA256 = &sum
	}
	return next, artifact, nil
}

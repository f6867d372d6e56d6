package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/whitewalls86/new-car-tracker/internal/database"
	"github.com/whitewalls86/new-car-tracker/internal/dbt"
	"github.com/whitewalls86/new-car-tracker/internal/models"
	"github.com/whitewalls86/new-car-tracker/internal/parser"
	"github.com/whitewalls86/new-car-tracker/internal/scraper"
)

// Processing outcomes reported by the /process endpoints.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusRetry   = "retry"
	StatusSkipped = "skipped"
)

type ResultsRunner interface {
	Scrape(ctx context.Context, req scraper.ResultsRequest) (*scraper.ResultsRun, error)
}

type DetailRunner interface {
	Fetch(ctx context.Context, req scraper.DetailRequest) (*scraper.DetailResult, error)
	Dummy(req scraper.DetailRequest) (*scraper.DetailResult, error)
}

// ArtifactStore is the read side of the raw artifact store plus the run
// manifest.
type ArtifactStore interface {
	Get(path string) ([]byte, error)
	Exists(path string) bool
	AppendManifest(runID string, artifacts ...*models.Artifact) error
}

// Recorder persists fetched artifacts and announces them. Optional.
type Recorder interface {
	PublishResultsRun(ctx context.Context, run *scraper.ResultsRun) error
	PublishDetailFetched(ctx context.Context, runID, listingID string, result *scraper.DetailResult) error
}

// ObservationWriter appends parsed records. Optional.
type ObservationWriter interface {
	InsertSRP(ctx context.Context, artifactID int64, processor string, rows []database.SRPObservation) error
	InsertDetail(ctx context.Context, artifactID int64, primary models.PrimaryListing, carousel []models.CarouselItem) error
}

// OutboxStats reports outbox backlog for the health check. Optional.
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type DbtRunner interface {
	Build(ctx context.Context, req dbt.BuildRequest) (*dbt.BuildResult, error)
}

type Options struct {
	Recorder     Recorder
	Observations ObservationWriter
	Outbox       OutboxStats
	Dbt          DbtRunner
}

type Handlers struct {
	results ResultsRunner
	details DetailRunner
	store   ArtifactStore
	opts    Options
	logger  *slog.Logger
}

func NewHandlers(results ResultsRunner, details DetailRunner, store ArtifactStore, opts Options, logger *slog.Logger) *Handlers {
	return &Handlers{
		results: results,
		details: details,
		store:   store,
		opts:    opts,
		logger:  logger.With("component", "api"),
	}
}

type ScrapeResultsRequest struct {
	Params struct {
		Makes       []string       `json:"makes"`
		Models      []string       `json:"models"`
		Zip         string         `json:"zip"`
		RadiusMiles int            `json:"radius_miles"`
		PageSize    int            `json:"page_size"`
		MaxPages    map[string]int `json:"max_pages"`
	} `json:"params"`
}

// ScrapeResults fetches the results pages of one (search key, scope) pass.
func (h *Handlers) ScrapeResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runID := runIDOrNew(q.Get("run_id"))
	searchKey := q.Get("search_key")
	scope := q.Get("scope")

	var body ScrapeResultsRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondJSON(w, http.StatusBadRequest, scrapeError("invalid request body"))
		return
	}
	if searchKey == "" {
		h.respondJSON(w, http.StatusBadRequest, scrapeError("search_key is required"))
		return
	}

	req := scraper.ResultsRequest{
		RunID:     runID,
		SearchKey: searchKey,
		Scope:     scope,
		Query: scraper.ResultsQuery{
			Makes:       body.Params.Makes,
			Models:      body.Params.Models,
			Zip:         body.Params.Zip,
			RadiusMiles: body.Params.RadiusMiles,
			PageSize:    body.Params.PageSize,
		},
		MaxPages: body.Params.MaxPages[scope],
	}
	if err := req.Validate(); err != nil {
		h.respondJSON(w, http.StatusBadRequest, scrapeError(err.Error()))
		return
	}

	run, err := h.results.Scrape(r.Context(), req)
	if err != nil {
		h.logger.Error("results run failed", "run_id", runID, "search_key", searchKey, "error", err)
		h.respondJSON(w, http.StatusInternalServerError, scrapeError(err.Error()))
		return
	}

	if h.opts.Recorder != nil {
		if err := h.opts.Recorder.PublishResultsRun(r.Context(), run); err != nil {
			h.logger.Error("failed to record results run", "run_id", runID, "error", err)
			h.respondJSON(w, http.StatusInternalServerError, map[string]any{
				"error":     "failed to record results run",
				"artifacts": run.Artifacts,
			})
			return
		}
	}
	h.appendManifest(runID, run.Artifacts)

	h.respondJSON(w, http.StatusOK, run)
}

type ScrapeDetailRequest struct {
	Mode      string         `json:"mode"`
	ListingID string         `json:"listing_id"`
	URL       string         `json:"url"`
	VIN       string         `json:"vin"`
	TimeoutS  float64        `json:"timeout_s"`
	Headers   map[string]any `json:"headers"`
}

// ScrapeDetail fetches one detail page, or writes a synthetic one in dummy
// mode.
func (h *Handlers) ScrapeDetail(w http.ResponseWriter, r *http.Request) {
	runID := runIDOrNew(r.URL.Query().Get("run_id"))

	var body ScrapeDetailRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondJSON(w, http.StatusBadRequest, detailError("invalid request body", map[string]any{}))
		return
	}
	if body.Mode == "" {
		body.Mode = scraper.DetailModeFetch
	}

	req := scraper.DetailRequest{
		RunID:     runID,
		ListingID: body.ListingID,
		URL:       body.URL,
		VIN:       body.VIN,
		Timeout:   time.Duration(body.TimeoutS * float64(time.Second)),
		Header:    make(map[string]string, len(body.Headers)),
	}
	for k, v := range body.Headers {
		req.Header[k] = fmt.Sprint(v)
	}

	var (
		result *scraper.DetailResult
		err    error
	)
	switch body.Mode {
	case scraper.DetailModeFetch:
		result, err = h.details.Fetch(r.Context(), req)
	case scraper.DetailModeDummy:
		result, err = h.details.Dummy(req)
	default:
		h.respondJSON(w, http.StatusBadRequest,
			detailError("unsupported mode: "+body.Mode, map[string]any{"mode": body.Mode}))
		return
	}

	if errors.Is(err, scraper.ErrListingIDRequired) {
		h.respondJSON(w, http.StatusBadRequest,
			detailError("payload."+err.Error(), map[string]any{"mode": body.Mode}))
		return
	}
	if err != nil {
		h.logger.Error("detail scrape failed", "run_id", runID, "listing_id", body.ListingID, "error", err)
		h.respondJSON(w, http.StatusInternalServerError,
			detailError(err.Error(), map[string]any{"mode": body.Mode, "listing_id": body.ListingID}))
		return
	}

	if h.opts.Recorder != nil {
		if err := h.opts.Recorder.PublishDetailFetched(r.Context(), runID, body.ListingID, result); err != nil {
			h.logger.Error("failed to record detail fetch", "run_id", runID, "listing_id", body.ListingID, "error", err)
			h.respondJSON(w, http.StatusInternalServerError, map[string]any{
				"error":     "failed to record detail fetch",
				"artifacts": result.Artifacts,
				"meta":      result.Meta,
			})
			return
		}
	}
	h.appendManifest(runID, result.Artifacts)

	h.respondJSON(w, http.StatusOK, result)
}

type ArtifactRef struct {
	ArtifactID any    `json:"artifact_id"`
	Filepath   string `json:"filepath"`
	URL        string `json:"url"`
	SearchKey  string `json:"search_key"`
}

type ProcessRequest struct {
	Processor string      `json:"processor"`
	Artifact  ArtifactRef `json:"artifact"`
	Options   struct {
		ForceStatus string `json:"force_status"`
	} `json:"options"`
	SearchKey string `json:"search_key"`
	URL       string `json:"url"`
}

type ResultsPageResponse struct {
	Processor  string `json:"processor"`
	ArtifactID any    `json:"artifact_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Meta       any    `json:"meta"`
	Listings   any    `json:"listings"`
}

type DetailPageResponse struct {
	Processor  string  `json:"processor"`
	ArtifactID any     `json:"artifact_id"`
	SearchKey  *string `json:"search_key"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Meta       any     `json:"meta"`
	Primary    any     `json:"primary"`
	Carousel   any     `json:"carousel"`
}

// outcome is the processor-independent part of a /process response.
type outcome struct {
	artifactID any
	status     string
	message    string
	meta       any
}

func failed(id any, message string, meta map[string]any) *outcome {
	return &outcome{artifactID: id, status: StatusFailed, message: message, meta: meta}
}

// loadArtifact runs the checks shared by both /process endpoints and
// returns the artifact's HTML. A non-nil outcome ends the request.
func (h *Handlers) loadArtifact(req *ProcessRequest) (int64, string, *outcome) {
	raw := req.Artifact.ArtifactID
	id, ok := coerceArtifactID(raw)
	if !ok {
		return 0, "", failed(raw,
			"artifact_id must be an int or int-like string, got "+repr(raw),
			map[string]any{"raw_artifact_id": raw})
	}

	switch req.Options.ForceStatus {
	case StatusSkipped, StatusRetry, StatusFailed:
		return id, "", &outcome{
			artifactID: id,
			status:     req.Options.ForceStatus,
			message:    "forced status: " + req.Options.ForceStatus,
			meta:       map[string]any{"forced": true, "force_status": req.Options.ForceStatus},
		}
	}

	path := req.Artifact.Filepath
	if path == "" {
		return id, "", failed(id, "artifact.filepath is required", map[string]any{})
	}
	if !h.store.Exists(path) {
		return id, "", failed(id, "artifact file not found: "+path, map[string]any{"filepath": path})
	}

	data, err := h.store.Get(path)
	if err != nil {
		return id, "", failed(id, "failed to read artifact file", map[string]any{
			"filepath":      path,
			"error":         errorType(err),
			"error_message": err.Error(),
		})
	}
	return id, strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// ProcessResultsPages parses one stored results page.
func (h *Handlers) ProcessResultsPages(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Processor == "" {
		req.Processor = parser.ProcessorResultsV1
	}

	respond := func(o *outcome, listings any) {
		h.respondJSON(w, http.StatusOK, ResultsPageResponse{
			Processor:  req.Processor,
			ArtifactID: o.artifactID,
			Status:     o.status,
			Message:    o.message,
			Meta:       o.meta,
			Listings:   listings,
		})
	}

	id, html, o := h.loadArtifact(&req)
	if o != nil {
		respond(o, []any{})
		return
	}

	process, err := parser.LookupResultsProcessor(req.Processor)
	if err != nil {
		respond(failed(id, "results page parsing failed", invalidProcessorMeta(req.Artifact.Filepath, html)), []any{})
		return
	}

	listings, diag, err := process(html)
	if err != nil {
		respond(failed(id, "results page parsing failed", parseFailureMeta(req.Artifact.Filepath, html, err)), []any{})
		return
	}

	rows := srpRows(listings)
	count := len(rows)
	result := &outcome{artifactID: id, status: StatusOK, message: fmt.Sprintf("parsed %d listings", count), meta: diag}

	if h.opts.Observations != nil {
		if err := h.opts.Observations.InsertSRP(r.Context(), id, req.Processor, rows); err != nil {
			h.logger.Error("failed to record observations", "artifact_id", id, "error", err)
			meta := diag.Map()
			meta["error"] = errorType(err)
			meta["error_message"] = err.Error()
			result = &outcome{artifactID: id, status: StatusRetry, message: "failed to record observations", meta: meta}
		}
	}

	h.logger.Info("results page processed",
		"artifact_id", id,
		"processor", req.Processor,
		"status", result.status,
		"listings", count)
	respond(result, listings)
}

// ProcessDetailPages parses one stored detail page.
func (h *Handlers) ProcessDetailPages(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Processor == "" {
		req.Processor = parser.ProcessorDetailV1
	}

	searchKey := firstNonEmpty(req.Artifact.SearchKey, req.SearchKey)
	artifactURL := firstNonEmpty(req.Artifact.URL, req.URL)

	respond := func(o *outcome, primary, carousel any) {
		h.respondJSON(w, http.StatusOK, DetailPageResponse{
			Processor:  req.Processor,
			ArtifactID: o.artifactID,
			SearchKey:  searchKey,
			Status:     o.status,
			Message:    o.message,
			Meta:       o.meta,
			Primary:    primary,
			Carousel:   carousel,
		})
	}

	id, html, o := h.loadArtifact(&req)
	if o != nil {
		respond(o, map[string]any{}, []any{})
		return
	}

	if !parser.ValidDetailProcessor(req.Processor) {
		respond(failed(id, "detail page parsing failed", map[string]any{
			"error":         "Invalid Processor",
			"error_message": "Please use a valid processor.",
		}), map[string]any{}, []any{})
		return
	}

	var pageURL string
	if artifactURL != nil {
		pageURL = *artifactURL
	}
	page, diag, err := parser.ParseDetailPage(html, pageURL)
	if err != nil {
		respond(failed(id, "detail page parsing failed", parseFailureMeta(req.Artifact.Filepath, html, err)), map[string]any{}, []any{})
		return
	}

	meta := diag.Map()
	meta["artifact_url"] = artifactURL
	result := &outcome{
		artifactID: id,
		status:     StatusOK,
		message:    fmt.Sprintf("parsed primary + %d carousel items", len(page.Carousel)),
		meta:       meta,
	}

	if h.opts.Observations != nil {
		if err := h.opts.Observations.InsertDetail(r.Context(), id, page.Primary, page.Carousel); err != nil {
			h.logger.Error("failed to record observations", "artifact_id", id, "error", err)
			meta["error"] = errorType(err)
			meta["error_message"] = err.Error()
			result.status = StatusRetry
			result.message = "failed to record observations"
		}
	}

	h.logger.Info("detail page processed",
		"artifact_id", id,
		"listing_state", page.Primary.ListingState,
		"status", result.status,
		"carousel", len(page.Carousel))
	respond(result, page.Primary, page.Carousel)
}

// DbtBuild runs dbt build for an intent or an explicit selection.
func (h *Handlers) DbtBuild(w http.ResponseWriter, r *http.Request) {
	var req dbt.BuildRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.opts.Dbt.Build(r.Context(), req)
	switch {
	case dbt.IsValidation(err):
		h.respondJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
	case err != nil:
		h.logger.Error("dbt build could not run", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
	case !result.OK:
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{"detail": result})
	default:
		h.respondJSON(w, http.StatusOK, result)
	}
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Health reports liveness and, when events are enabled, the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"ok": true}
	status := http.StatusOK

	if h.opts.Outbox != nil {
		counts, err := h.opts.Outbox.CountByStatus(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox counts", "error", err)
			health["outbox"] = map[string]any{"error": err.Error()}
		} else {
			pending := counts[database.OutboxStatusPending] + counts[database.OutboxStatusFailed]
			deadLetter := counts[database.OutboxStatusDeadLetter]
			health["outbox"] = map[string]any{"pending": pending, "dead_letter": deadLetter}
			if pending > pendingWarnThreshold {
				health["message"] = "high number of pending outbox events"
			}
			if deadLetter > deadLetterFailThreshold {
				health["ok"] = false
				health["message"] = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) appendManifest(runID string, artifacts []*models.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	if err := h.store.AppendManifest(runID, artifacts...); err != nil {
		h.logger.Warn("failed to update run manifest", "run_id", runID, "error", err)
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func scrapeError(message string) map[string]any {
	return map[string]any{"error": message, "artifacts": []any{}}
}

func detailError(message string, meta map[string]any) map[string]any {
	return map[string]any{"error": message, "artifacts": []any{}, "meta": meta}
}

func invalidProcessorMeta(path, html string) map[string]any {
	return map[string]any{
		"filepath":      path,
		"html_len":      utf8.RuneCountInString(html),
		"error":         "Invalid Processor",
		"error_message": "Please use a valid processor.",
	}
}

func parseFailureMeta(path, html string, err error) map[string]any {
	return map[string]any{
		"filepath":      path,
		"html_len":      utf8.RuneCountInString(html),
		"error":         errorType(err),
		"error_message": err.Error(),
	}
}

func srpRows(listings any) []database.SRPObservation {
	var rows []database.SRPObservation
	switch l := listings.(type) {
	case []models.ResultListing:
		for _, item := range l {
			rows = append(rows, database.SRPObservation{ListingID: item.ListingID, Record: item})
		}
	case []models.ResultListingV2:
		for _, item := range l {
			rows = append(rows, database.SRPObservation{ListingID: item.ListingID, Record: item})
		}
	}
	return rows
}

// decodeBody decodes a JSON body, keeping numbers as json.Number. An empty
// body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// coerceArtifactID accepts integers, integral strings and truncates
// fractional numbers.
func coerceArtifactID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func repr(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func errorType(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func runIDOrNew(runID string) string {
	if runID != "" {
		return runID
	}
	return uuid.New().String()
}

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if v != "" {
			return &v
		}
	}
	return nil
}

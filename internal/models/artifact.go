package models

import "time"

const (
	SourceCarsCom = "cars.com"

	ArtifactTypeResultsPage = "results_page"
	ArtifactTypeDetailPage  = "detail_page"

	ScopeNational = "national"
	ScopeLocal    = "local"
	ScopeDetail   = "detail"
)

// PagingState is the paging metadata embedded in one fetched results page.
// It is built right after the fetch, consulted once and then discarded.
type PagingState struct {
	RequestedPage      int  `json:"requested_page"`
	ServerReportedPage *int `json:"result_page_number"`
	ReportedPageCount  *int `json:"result_page_count"`
	TotalResults       *int `json:"total_results"`
	PerPage            *int `json:"result_per_page"`
}

// Artifact describes one persisted raw page, or the marker left behind by a
// failed fetch.
type Artifact struct {
	ID           *int64       `json:"artifact_id,omitempty"`
	Source       string       `json:"source"`
	ArtifactType string       `json:"artifact_type"`
	SearchKey    string       `json:"search_key"`
	SearchScope  string       `json:"search_scope"`
	PageNum      *int         `json:"page_num"`
	URL          string       `json:"url"`
	HTTPStatus   *int         `json:"http_status"`
	ContentType  *string      `json:"content_type"`
	ContentBytes *int         `json:"content_bytes"`
	SHA256       *string      `json:"sha256"`
	Filepath     string       `json:"filepath"`
	FetchedAt    time.Time    `json:"fetched_at"`
	Error        *string      `json:"error"`
	PagingMeta   *PagingState `json:"paging_meta,omitempty"`
}

// Failed reports whether the artifact records a transport failure rather
// than a stored response.
func (a *Artifact) Failed() bool {
	return a.HTTPStatus == nil && a.Error != nil
}

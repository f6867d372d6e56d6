package scraper

import (
	"net/url"
	"strconv"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const DefaultResultsBaseURL = "https://www.cars.com/shopping/results/"

// ResultsQuery holds the search parameters of one results pass.
type ResultsQuery struct {
	Makes       []string `json:"makes"`
	Models      []string `json:"models"`
	Zip         string   `json:"zip"`
	RadiusMiles int      `json:"radius_miles"`
	PageSize    int      `json:"page_size"`
}

// BuildResultsURL returns the results URL for one page. Local searches are
// bounded by the radius; national ones are not.
func BuildResultsURL(base string, q ResultsQuery, scope string, page int) string {
	if base == "" {
		base = DefaultResultsBaseURL
	}
	v := url.Values{}
	for _, m := range q.Makes {
		v.Add("makes[]", m)
	}
	for _, m := range q.Models {
		v.Add("models[]", m)
	}
	v.Set("stock_type", "new")
	v.Set("zip", q.Zip)
	v.Set("page", strconv.Itoa(page))
	v.Set("page_size", strconv.Itoa(q.PageSize))
	if scope == models.ScopeLocal {
		v.Set("maximum_distance", strconv.Itoa(q.RadiusMiles))
	} else {
		v.Set("maximum_distance", "all")
	}
	return base + "?" + v.Encode()
}

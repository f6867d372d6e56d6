package scraper

import (
	"encoding/json"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

var siteActivityAttrRe = regexp.MustCompile(`data-site-activity="([^"]+)"`)

// ExtractPagingMeta reads the paging fields from the first site-activity
// attribute in body. It returns nil when the attribute is missing or its
// value is not a JSON object.
func ExtractPagingMeta(body string, requestedPage int) *models.PagingState {
	m := siteActivityAttrRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(html.UnescapeString(m[1])))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil
	}

	p := &models.PagingState{
		RequestedPage:      requestedPage,
		TotalResults:       pagingInt(obj, "total_results"),
		PerPage:            pagingInt(obj, "result_per_page", "results_per_page"),
		ServerReportedPage: pagingInt(obj, "result_page_number", "results_page_number"),
		ReportedPageCount:  pagingInt(obj, "result_page_count", "results_page_count"),
	}
	if p.ReportedPageCount == nil && nonZero(p.TotalResults) && nonZero(p.PerPage) {
		n := int(math.Ceil(float64(*p.TotalResults) / float64(*p.PerPage)))
		p.ReportedPageCount = &n
	}
	return p
}

// pagingInt reads the first key holding a truthy value, falling back to the
// last key's value when none does.
func pagingInt(obj map[string]any, keys ...string) *int {
	var raw any
	for _, k := range keys {
		raw = obj[k]
		if truthy(raw) {
			break
		}
	}
	return toInt(raw)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func nonZero(n *int) bool {
	return n != nil && *n != 0
}

// toInt accepts integers, truncates floats and parses integer strings.
// Unlike the extractors' digit stripping, "3 pages" is not a number here.
func toInt(v any) *int {
	var n int
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = int(i)
			break
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil
		}
		n = int(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = i
	case bool:
		if t {
			n = 1
		}
	default:
		return nil
	}
	return &n
}

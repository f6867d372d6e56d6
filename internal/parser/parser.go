// Package parser turns raw cars.com pages into typed records plus the
// diagnostics needed to judge how complete each extraction was.
//
// Every extractor is a pure function of its input text. Missing optional
// fields become nil and are counted; only a missing listing id drops a record.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SiteOrigin prefixes relative detail links.
const SiteOrigin = "https://www.cars.com"

// Processor names accepted at the processing boundary.
const (
	ProcessorResultsV1 = "cars_results_page__listings_v1"
	ProcessorResultsV2 = "cars_results_page__listings_v2"
	ProcessorDetailV1  = "cars_detail_page__v1"
)

var ErrUnknownProcessor = errors.New("unknown processor")

// ResultsProcessor is the common shape of the results-page extractors.
type ResultsProcessor func(html string) (any, *Diagnostics, error)

// LookupResultsProcessor resolves a results-page processor name. An empty
// name selects v1.
func LookupResultsProcessor(name string) (ResultsProcessor, error) {
	switch name {
	case "", ProcessorResultsV1:
		return func(html string) (any, *Diagnostics, error) {
			return ParseResultsPageV1(html)
		}, nil
	case ProcessorResultsV2:
		return func(html string) (any, *Diagnostics, error) {
			return ParseResultsPageV2(html)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
}

// ValidDetailProcessor reports whether name selects the detail extractor.
func ValidDetailProcessor(name string) bool {
	return name == "" || name == ProcessorDetailV1
}

// DetailURL builds the canonical detail page URL for a listing id.
func DetailURL(listingID string) string {
	return SiteOrigin + "/vehicledetail/" + listingID + "/"
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// collapsedText joins the trimmed, non-empty text nodes under s with a
// single space.
func collapsedText(s *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
			case "#comment", "script", "style":
			default:
				walk(c)
			}
		})
	}
	walk(s)
	return strings.Join(parts, " ")
}

func absoluteURL(href string) *string {
	if href == "" {
		return nil
	}
	u := SiteOrigin + href
	return &u
}

// decodeObject decodes raw as a single JSON object. Numbers are kept as
// json.Number so integers survive without float rounding.
func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

// fallback is one step of an ordered resolution chain.
type fallback struct {
	source  string
	resolve func() string
}

// firstOf returns the first non-empty value in chain and the name of the
// step that produced it.
func firstOf(chain ...fallback) (value, source string) {
	for _, step := range chain {
		if v := strings.TrimSpace(step.resolve()); v != "" {
			return v, step.source
		}
	}
	return "", ""
}

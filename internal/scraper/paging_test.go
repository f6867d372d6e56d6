package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPagingMeta(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serverPage *int
		pageCount  *int
		total      *int
		perPage    *int
	}{
		{
			name:       "all fields present",
			body:       `<div data-site-activity="{&quot;total_results&quot;:250,&quot;result_per_page&quot;:100,&quot;result_page_number&quot;:2,&quot;result_page_count&quot;:3}">`,
			serverPage: intPtr(2),
			pageCount:  intPtr(3),
			total:      intPtr(250),
			perPage:    intPtr(100),
		},
		{
			name:       "page count derived with ceiling",
			body:       `<div data-site-activity="{&quot;total_results&quot;:201,&quot;result_per_page&quot;:100,&quot;result_page_number&quot;:1}">`,
			serverPage: intPtr(1),
			pageCount:  intPtr(3),
			total:      intPtr(201),
			perPage:    intPtr(100),
		},
		{
			name:       "plural key variants and string numbers",
			body:       `<div data-site-activity="{&quot;results_per_page&quot;:&quot;20&quot;,&quot;results_page_number&quot;:&quot;4&quot;,&quot;results_page_count&quot;:4.0}">`,
			serverPage: intPtr(4),
			pageCount:  intPtr(4),
			perPage:    intPtr(20),
		},
		{
			name: "unparseable string yields nil",
			body: `<div data-site-activity="{&quot;result_page_number&quot;:&quot;page 4&quot;}">`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ExtractPagingMeta(tt.body, 7)
			require.NotNil(t, p)
			assert.Equal(t, 7, p.RequestedPage)
			assert.Equal(t, tt.serverPage, p.ServerReportedPage)
			assert.Equal(t, tt.pageCount, p.ReportedPageCount)
			assert.Equal(t, tt.total, p.TotalResults)
			assert.Equal(t, tt.perPage, p.PerPage)
		})
	}
}

func TestExtractPagingMeta_Missing(t *testing.T) {
	assert.Nil(t, ExtractPagingMeta(`<html><body>no attribute</body></html>`, 1))
	assert.Nil(t, ExtractPagingMeta(`<div data-site-activity="{broken">`, 1))
	assert.Nil(t, ExtractPagingMeta(`<div data-site-activity="[1,2]">`, 1))
	assert.Nil(t, ExtractPagingMeta(`<div data-site-activity="null">`, 1))
}

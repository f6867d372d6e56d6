package parser

import (
	"encoding/json"
	"fmt"
	"html"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const resultsPageV1 = `<html><body>
<div class="vehicle-card" data-listing-id="abc-1">
  <a href="/vehicledetail/abc-1/">2025 Toyota RAV4</a>
  <span data-qa="primary-price">
    $40,658
  </span>
  <div class="vehicle-dealer"><div class="dealer-name"><strong>  Toyota of Wallingford </strong></div>
  <div data-qa="miles-from-user">Wallingford, CT (1,498 mi.)</div></div>
</div>
<div class="vehicle-card" data-listing-id="abc-2">
  <a href="/vehicledetail/abc-2/">2025 Toyota RAV4</a>
  <div class="vehicle-dealer"><div class="dealer-name"><strong>Other Dealer</strong></div></div>
</div>
<div class="vehicle-card" data-listing-id="   "><a href="/vehicledetail/blank/">x</a></div>
<div class="vehicle-card"><a href="/vehicledetail/no-id/">no id attribute</a></div>
</body></html>`

func TestParseResultsPageV1(t *testing.T) {
	listings, diag, err := ParseResultsPageV1(resultsPageV1)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "abc-1", first.ListingID)
	assert.Equal(t, strPtr("https://www.cars.com/vehicledetail/abc-1/"), first.CanonicalDetailURL)
	assert.Equal(t, intPtr(40658), first.LastSeenPrice)
	assert.Equal(t, strPtr("Toyota of Wallingford"), first.LastSeenDealer)
	assert.Equal(t, floatPtr(1498), first.LastSeenDistanceMiles)

	second := listings[1]
	assert.Equal(t, "abc-2", second.ListingID)
	assert.Nil(t, second.LastSeenPrice)
	assert.Nil(t, second.LastSeenDistanceMiles)

	// the card without the attribute is never selected; the blank one is
	// selected but dropped
	assert.Equal(t, 3, diag.Count("cards_found"))
	assert.Equal(t, 2, diag.Count("listing_ids_extracted"))
	assert.Equal(t, 1, diag.Count("missing_price"))
	assert.Equal(t, 1, diag.Count("missing_distance"))
	assert.Equal(t, 0, diag.Count("missing_dealer"))
	assert.Equal(t, 0, diag.Count("missing_url"))
	assert.Equal(t, resultsV1ParserName, diag.Map()["parser"])
}

func TestParseResultsPageV1_NoCards(t *testing.T) {
	listings, diag, err := ParseResultsPageV1("<html><body><p>nothing here</p></body></html>")
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Equal(t, 0, diag.Count("cards_found"))
	assert.Equal(t, 0, diag.Count("listing_ids_extracted"))
}

func siteActivityPage(t *testing.T, payload any, cards string) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return fmt.Sprintf(`<html><body>%s<div id="srp" data-site-activity="%s"></div></body></html>`,
		cards, html.EscapeString(string(raw)))
}

func TestParseResultsPageV2(t *testing.T) {
	cards := `
<div class="vehicle-card" data-listing-id="lid-1" trid="tr-1"></div>
<div class="vehicle-card" data-listing-id="lid-2" trid="tr-2"></div>`
	payload := map[string]any{
		"result_page_number": 2,
		"vehicleArray": []any{
			map[string]any{
				"listing_id":        "lid-2",
				"year":              "2025",
				"make":              "Toyota",
				"model":             "RAV4",
				"trim":              "XLE",
				"stock_type":        "New",
				"price":             41999.0,
				"msrp":              "$43,120",
				"mileage":           5,
				"vin":               "2T3P1RFV0SW000001",
				"fuel_type":         "Gasoline",
				"bodystyle":         "SUV",
				"dealer_zip":        "06492",
				"customer_id":       "12345",
				"vertical_position": 1,
				"sponsored_type":    "inventory_ad",
			},
			"not an object",
			map[string]any{"listing_id": ""},
			map[string]any{"listing_id": "lid-9"},
		},
	}

	listings, diag, err := ParseResultsPageV2(siteActivityPage(t, payload, cards))
	require.NoError(t, err)
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "lid-2", first.ListingID)
	assert.Equal(t, "https://www.cars.com/vehicledetail/lid-2/", first.CanonicalDetailURL)
	assert.Equal(t, intPtr(2025), first.Year)
	assert.Equal(t, intPtr(41999), first.Price)
	assert.Equal(t, intPtr(41999), first.LastSeenPrice)
	assert.Equal(t, intPtr(43120), first.MSRP)
	assert.Equal(t, intPtr(5), first.Mileage)
	assert.Equal(t, strPtr("SUV"), first.BodyStyle)
	assert.Equal(t, models.FinancingUnavailable, first.FinancingType)
	assert.Equal(t, strPtr("06492"), first.SellerZip)
	assert.Equal(t, intPtr(2), first.PageNumber)
	assert.Equal(t, intPtr(1), first.PositionOnPage)
	assert.Equal(t, intPtr(2), first.PositionOnPageDOM)
	assert.Equal(t, strPtr("tr-2"), first.TRID)
	assert.Equal(t, strPtr("INVENTORY_AD"), first.ISAContext)

	second := listings[1]
	assert.Equal(t, "lid-9", second.ListingID)
	assert.Equal(t, "https://www.cars.com/vehicledetail/lid-9/", second.CanonicalDetailURL)
	assert.Nil(t, second.TRID)
	assert.Nil(t, second.PositionOnPageDOM)
	assert.Nil(t, second.ISAContext)

	assert.Equal(t, 2, diag.Count("cards_found"))
	assert.Equal(t, 1, diag.Count("site_activity_found"))
	assert.Equal(t, 4, diag.Count("vehicle_array_len"))
	assert.Equal(t, 2, diag.Count("listing_ids_extracted"))
	assert.Equal(t, 0, diag.Count("json_failures"))
	assert.Equal(t, 1, diag.Count("listing_id_mismatches"))
}

func TestParseResultsPageV2_NoDOMCardsIsNotAMismatch(t *testing.T) {
	payload := map[string]any{
		"vehicleArray": []any{map[string]any{"listing_id": "lid-1"}},
	}

	listings, diag, err := ParseResultsPageV2(siteActivityPage(t, payload, ""))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, 0, diag.Count("listing_id_mismatches"))
	assert.Nil(t, listings[0].PageNumber)
}

func TestParseResultsPageV2_PayloadFailures(t *testing.T) {
	tests := []struct {
		name         string
		html         string
		siteActivity int
		jsonFailures int
	}{
		{
			name:         "container absent",
			html:         `<div class="vehicle-card" data-listing-id="x"></div>`,
			siteActivity: 0,
			jsonFailures: 0,
		},
		{
			name:         "invalid json",
			html:         `<div data-site-activity="{not json"></div>`,
			siteActivity: 1,
			jsonFailures: 1,
		},
		{
			name:         "top level is not an object",
			html:         `<div data-site-activity="[1,2,3]"></div>`,
			siteActivity: 1,
			jsonFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listings, diag, err := ParseResultsPageV2(tt.html)
			require.NoError(t, err)
			assert.NotNil(t, listings)
			assert.Empty(t, listings)
			assert.Equal(t, tt.siteActivity, diag.Count("site_activity_found"))
			assert.Equal(t, tt.jsonFailures, diag.Count("json_failures"))
			assert.Equal(t, 0, diag.Count("listing_ids_extracted"))
		})
	}
}

func TestResultsExtractorsAreDeterministic(t *testing.T) {
	payload := map[string]any{"vehicleArray": []any{map[string]any{"listing_id": "lid-1", "price": "1"}}}
	page := siteActivityPage(t, payload, `<div class="vehicle-card" data-listing-id="lid-1" trid="t"></div>`)

	for _, name := range []string{ProcessorResultsV1, ProcessorResultsV2} {
		t.Run(name, func(t *testing.T) {
			process, err := LookupResultsProcessor(name)
			require.NoError(t, err)

			records1, diag1, err := process(page)
			require.NoError(t, err)
			records2, diag2, err := process(page)
			require.NoError(t, err)

			out1, err := json.Marshal(map[string]any{"records": records1, "meta": diag1})
			require.NoError(t, err)
			out2, err := json.Marshal(map[string]any{"records": records2, "meta": diag2})
			require.NoError(t, err)
			assert.Equal(t, string(out1), string(out2))
		})
	}
}

func TestLookupResultsProcessor_Unknown(t *testing.T) {
	_, err := LookupResultsProcessor("cars_results_page__listings_v9")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

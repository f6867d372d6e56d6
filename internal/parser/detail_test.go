package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const detailPage = `<html><head>
<script id="initial-activity-data" type="application/json">
  {"listing_id": "0b8f9a3e-1111-4c2d-9e7f-000000000001", "vin": "2T3P1RFV0SW000001",
   "price": 41999, "mileage": 3, "msrp": "43,120", "stock_type": "New",
   "dealer_name": "Toyota of Wallingford", "dealer_zip": "06492", "customer_id": 98765}
</script></head><body>
<div class="listings-carousel"><spark-card-carousel>
  <spark-card>
    <spark-save data-listing-id="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"></spark-save>
    <a href="/vehicledetail/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/">view</a>
    <span class="price"> $39,500 </span>
    <span class="body">New 2025   <b>Toyota</b> RAV4 XLE</span>
    <span slot="footer">10 mi</span>
  </spark-card>
  <spark-card>
    <a href="/vehicledetail/11111111-2222-3333-4444-555555555555/">view</a>
    <span class="body">Toyota RAV4</span>
  </spark-card>
  <spark-card>
    <span class="price">$1</span>
  </spark-card>
</spark-card-carousel></div>
</body></html>`

func TestParseDetailPage(t *testing.T) {
	page, diag, err := ParseDetailPage(detailPage, "")
	require.NoError(t, err)

	p := page.Primary
	assert.Equal(t, models.ListingStateActive, p.ListingState)
	assert.Nil(t, p.UnlistedTitle)
	assert.Nil(t, p.UnlistedMessage)
	assert.Equal(t, strPtr("0b8f9a3e-1111-4c2d-9e7f-000000000001"), p.ListingID)
	require.NotNil(t, p.ListingIDSource)
	assert.Equal(t, models.ListingIDFromEmbeddedJSON, *p.ListingIDSource)
	assert.Equal(t, intPtr(41999), p.Price)
	assert.Equal(t, intPtr(43120), p.MSRP)
	assert.Equal(t, strPtr("98765"), p.CustomerID)
	assert.Nil(t, p.SellerID)

	require.Len(t, page.Carousel, 2)

	first := page.Carousel[0]
	assert.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", first.ListingID)
	assert.Equal(t, strPtr("https://www.cars.com/vehicledetail/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/"), first.CanonicalDetailURL)
	assert.Equal(t, intPtr(39500), first.Price)
	assert.Equal(t, intPtr(10), first.Mileage)
	assert.Equal(t, strPtr("New 2025 Toyota RAV4 XLE"), first.Body)
	assert.Equal(t, strPtr("New"), first.Condition)
	assert.Equal(t, intPtr(2025), first.Year)

	second := page.Carousel[1]
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", second.ListingID)
	assert.Nil(t, second.Price)
	assert.Nil(t, second.Mileage)
	assert.Nil(t, second.Condition)
	assert.Nil(t, second.Year)

	assert.Equal(t, 3, diag.Count("cards_found"))
	assert.Equal(t, 2, diag.Count("cards_parsed"))
	assert.Equal(t, 1, diag.Count("missing_listing_id"))
	assert.Equal(t, 1, diag.Count("missing_price"))
	assert.Equal(t, 1, diag.Count("missing_mileage"))
	assert.Equal(t, 0, diag.Count("missing_body"))
	assert.Equal(t, 0, diag.Count("primary_json_failures"))
	assert.Equal(t, len([]rune(detailPage)), diag.Count("html_len"))

	meta := diag.Map()
	assert.Equal(t, true, meta["carousel_found"])
	assert.Equal(t, true, meta["primary_json_present"])
	assert.Equal(t, "embedded_json", meta["listing_id_source"])
	assert.Equal(t, []string{
		"customer_id", "dealer_name", "dealer_zip", "listing_id", "listing_id_source",
		"listing_state", "mileage", "msrp", "price", "stock_type", "vin",
	}, meta["primary_keys_present"])
	assert.Equal(t, detailParserName, meta["parser"])
}

func TestParseDetailPage_ListingIDFromURL(t *testing.T) {
	url := "https://www.cars.com/vehicledetail/9f1c2d3e-4a5b-6c7d-8e9f-0a1b2c3d4e5f/"
	page, diag, err := ParseDetailPage(`<html><body>nothing embedded</body></html>`, url)
	require.NoError(t, err)

	assert.Equal(t, strPtr("9f1c2d3e-4a5b-6c7d-8e9f-0a1b2c3d4e5f"), page.Primary.ListingID)
	require.NotNil(t, page.Primary.ListingIDSource)
	assert.Equal(t, models.ListingIDFromURL, *page.Primary.ListingIDSource)

	meta := diag.Map()
	assert.Equal(t, false, meta["primary_json_present"])
	assert.Equal(t, false, meta["carousel_found"])
	assert.Equal(t, "url_pattern", meta["listing_id_source"])
	assert.Empty(t, page.Carousel)
}

func TestParseDetailPage_NumericEmbeddedListingID(t *testing.T) {
	html := `<html><head><script id="initial-activity-data">{"listing_id": 5, "price": 100}</script></head></html>`
	url := "https://www.cars.com/vehicledetail/9f1c2d3e-4a5b-6c7d-8e9f-0a1b2c3d4e5f/"

	page, diag, err := ParseDetailPage(html, url)
	require.NoError(t, err)

	assert.Equal(t, strPtr("5"), page.Primary.ListingID)
	require.NotNil(t, page.Primary.ListingIDSource)
	assert.Equal(t, models.ListingIDFromEmbeddedJSON, *page.Primary.ListingIDSource)
	assert.Equal(t, "embedded_json", diag.Map()["listing_id_source"])
}

func TestParseDetailPage_NoListingID(t *testing.T) {
	page, diag, err := ParseDetailPage(`<html><body></body></html>`, "https://www.cars.com/vehicledetail/not-a-uuid/")
	require.NoError(t, err)

	assert.Nil(t, page.Primary.ListingID)
	assert.Nil(t, page.Primary.ListingIDSource)
	assert.Equal(t, []string{"listing_state"}, diag.Map()["primary_keys_present"])
	assert.Nil(t, diag.Map()["listing_id_source"])
}

func TestParseDetailPage_InvalidPrimaryJSON(t *testing.T) {
	html := `<html><head><script id="initial-activity-data">{"listing_id": </script></head></html>`

	page, diag, err := ParseDetailPage(html, "")
	require.NoError(t, err)
	assert.Nil(t, page.Primary.ListingID)
	assert.Nil(t, page.Primary.Price)
	assert.Equal(t, 1, diag.Count("primary_json_failures"))
	assert.Equal(t, false, diag.Map()["primary_json_present"])
}

func TestParseDetailPage_Unlisted(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		title   *string
		message *string
	}{
		{
			name: "notification element",
			html: `<spark-notification class="unlisted-notification" title=" No longer listed ">
  <p>This vehicle</p>  <p>has been sold.</p></spark-notification>`,
			title:   strPtr("No longer listed"),
			message: strPtr("This vehicle has been sold."),
		},
		{
			name:    "marker text fallback",
			html:    `<div>Sorry, this car is No Longer Available.</div>`,
			title:   nil,
			message: strPtr(unlistedMarkerMessage),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, _, err := ParseDetailPage(tt.html, "")
			require.NoError(t, err)
			assert.Equal(t, models.ListingStateUnlisted, page.Primary.ListingState)
			assert.Equal(t, tt.title, page.Primary.UnlistedTitle)
			assert.Equal(t, tt.message, page.Primary.UnlistedMessage)
		})
	}
}

func TestParseDetailPage_Deterministic(t *testing.T) {
	p1, d1, err := ParseDetailPage(detailPage, "")
	require.NoError(t, err)
	p2, d2, err := ParseDetailPage(detailPage, "")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	j1, err := d1.MarshalJSON()
	require.NoError(t, err)
	j2, err := d2.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(j1), string(j2))
	assert.Equal(t, string(j1), string(j2))
}

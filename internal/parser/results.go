package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const (
	resultsV1ParserName = "cars_results_page_v1_minimal_strict"
	resultsV2ParserName = "cars_results_page__listings_v2_site_activity_vehicle_array"
)

// ParseResultsPageV1 extracts listings from the result cards of a results
// page using DOM selectors only.
func ParseResultsPageV1(html string) ([]models.ResultListing, *Diagnostics, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, nil, err
	}

	diag := NewDiagnostics(resultsV1ParserName,
		"cards_found", "listing_ids_extracted",
		"missing_url", "missing_price", "missing_dealer", "missing_distance")

	cards := doc.FindMatcher(resultCardSel)
	diag.Set("cards_found", cards.Length())

	listings := make([]models.ResultListing, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		listingID := strings.TrimSpace(card.AttrOr("data-listing-id", ""))
		if listingID == "" {
			return
		}

		href, _ := card.FindMatcher(detailLinkSel).First().Attr("href")
		listing := models.ResultListing{
			ListingID:          listingID,
			CanonicalDetailURL: absoluteURL(href),
		}
		diag.Track("url", listing.CanonicalDetailURL != nil)

		if el := card.FindMatcher(primaryPriceSel).First(); el.Length() > 0 {
			listing.LastSeenPrice = DigitsToInt(el.Text())
		}
		diag.Track("price", listing.LastSeenPrice != nil)

		if el := card.FindMatcher(dealerNameSel).First(); el.Length() > 0 {
			listing.LastSeenDealer = nonEmpty(strings.TrimSpace(el.Text()))
		}
		diag.Track("dealer", listing.LastSeenDealer != nil)

		if el := card.FindMatcher(distanceSel).First(); el.Length() > 0 {
			listing.LastSeenDistanceMiles = MilesToFloat(el.Text())
		}
		diag.Track("distance", listing.LastSeenDistanceMiles != nil)

		listings = append(listings, listing)
	})

	diag.Set("listing_ids_extracted", len(listings))
	return listings, diag, nil
}

// domCard is what the v2 DOM scan keeps for each result card.
type domCard struct {
	trid     *string
	position int
}

func attrPtr(s *goquery.Selection, name string) *string {
	v, ok := s.Attr(name)
	if !ok {
		return nil
	}
	return &v
}

// ParseResultsPageV2 extracts listings from the site-activity JSON embedded in
// a results page, enriching each vehicle with tracking data from its DOM card.
func ParseResultsPageV2(html string) ([]models.ResultListingV2, *Diagnostics, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, nil, err
	}

	diag := NewDiagnostics(resultsV2ParserName,
		"cards_found", "site_activity_found", "vehicle_array_len",
		"listing_ids_extracted", "json_failures", "listing_id_mismatches")

	cards := doc.FindMatcher(resultCardSel)
	diag.Set("cards_found", cards.Length())

	byID := make(map[string]domCard, cards.Length())
	cards.Each(func(i int, card *goquery.Selection) {
		id := strings.TrimSpace(card.AttrOr("data-listing-id", ""))
		if id == "" {
			return
		}
		byID[id] = domCard{
			trid:     attrPtr(card, "trid"),
			position: i + 1,
		}
	})

	container := doc.FindMatcher(siteActivitySel).First()
	if container.Length() == 0 {
		return []models.ResultListingV2{}, diag, nil
	}
	diag.Set("site_activity_found", 1)

	activity, jsonErr := decodeObject(container.AttrOr("data-site-activity", ""))
	if jsonErr != nil {
		diag.Set("json_failures", 1)
		return []models.ResultListingV2{}, diag, nil
	}

	vehicles, _ := activity["vehicleArray"].([]any)
	diag.Set("vehicle_array_len", len(vehicles))
	pageNumber := CoerceInt(activity["result_page_number"])

	listings := make([]models.ResultListingV2, 0, len(vehicles))
	for _, raw := range vehicles {
		v, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := v["listing_id"].(string)
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		card, onPage := byID[id]
		if len(byID) > 0 && !onPage {
			diag.Inc("listing_id_mismatches")
		}

		listing := models.ResultListingV2{
			ListingID:          id,
			CanonicalDetailURL: DetailURL(id),
			Year:               CoerceInt(v["year"]),
			Make:               CoerceString(v["make"]),
			Model:              CoerceString(v["model"]),
			Trim:               CoerceString(v["trim"]),
			StockType:          CoerceString(v["stock_type"]),
			Price:              CoerceInt(v["price"]),
			MSRP:               CoerceInt(v["msrp"]),
			Mileage:            CoerceInt(v["mileage"]),
			VIN:                CoerceString(v["vin"]),
			FuelType:           CoerceString(v["fuel_type"]),
			BodyStyle:          CoerceString(v["bodystyle"]),
			FinancingType:      models.FinancingUnavailable,
			SellerZip:          CoerceString(v["dealer_zip"]),
			SellerCustomerID:   CoerceString(v["customer_id"]),
			PageNumber:         pageNumber,
			PositionOnPage:     CoerceInt(v["vertical_position"]),
			LastSeenPrice:      CoerceInt(v["price"]),
		}
		if onPage {
			listing.TRID = card.trid
			pos := card.position
			listing.PositionOnPageDOM = &pos
		}
		if sponsored, ok := v["sponsored_type"].(string); ok && sponsored != "" {
			upper := strings.ToUpper(sponsored)
			listing.ISAContext = &upper
		}

		listings = append(listings, listing)
	}

	diag.Set("listing_ids_extracted", len(listings))
	return listings, diag, nil
}

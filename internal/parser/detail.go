package parser

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const (
	detailParserName = "cars_detail_page__v1"

	unlistedMarkerMessage = "page contains 'no longer available/listed' marker text"
)

var unlistedTextRe = regexp.MustCompile(`(?i)\bno longer available\b|\bno longer listed\b`)

// DetailPage is everything extracted from one detail page.
type DetailPage struct {
	Primary  models.PrimaryListing `json:"primary"`
	Carousel []models.CarouselItem `json:"carousel"`
}

// ParseDetailPage extracts the primary listing and the similar-vehicles
// carousel from a detail page. pageURL is optional; when the embedded JSON
// carries no listing id, a UUID found in pageURL is used instead.
func ParseDetailPage(html, pageURL string) (*DetailPage, *Diagnostics, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, nil, err
	}

	diag := NewDiagnostics(detailParserName, "html_len", "primary_json_failures")
	diag.Set("html_len", utf8.RuneCountInString(html))

	primary := models.PrimaryListing{ListingState: models.ListingStateActive}
	detectUnlisted(doc, html, &primary)

	activity := primaryActivity(doc, diag)
	diag.Note("primary_json_present", len(activity) > 0)

	id, source := firstOf(
		fallback{string(models.ListingIDFromEmbeddedJSON), func() string {
			if s := CoerceString(activity["listing_id"]); s != nil {
				return *s
			}
			return ""
		}},
		fallback{string(models.ListingIDFromURL), func() string {
			return ExtractUUID(pageURL)
		}},
	)
	if id != "" {
		src := models.ListingIDSource(source)
		primary.ListingID = &id
		primary.ListingIDSource = &src
		diag.Note("listing_id_source", source)
	} else {
		diag.Note("listing_id_source", nil)
	}

	primary.VIN = CoerceString(activity["vin"])
	primary.Price = CoerceInt(activity["price"])
	primary.Mileage = CoerceInt(activity["mileage"])
	primary.MSRP = CoerceInt(activity["msrp"])
	primary.StockType = CoerceString(activity["stock_type"])
	primary.DealerName = CoerceString(activity["dealer_name"])
	primary.DealerZip = CoerceString(activity["dealer_zip"])
	primary.SellerID = CoerceString(activity["seller_id"])
	primary.CustomerID = CoerceString(activity["customer_id"])

	present := primary.PresentFields()
	slices.Sort(present)
	diag.Note("primary_keys_present", present)

	carousel, carouselDiag := parseCarousel(doc)
	diag.Merge(carouselDiag)

	return &DetailPage{Primary: primary, Carousel: carousel}, diag, nil
}

func detectUnlisted(doc *goquery.Document, html string, primary *models.PrimaryListing) {
	if note := doc.FindMatcher(unlistedNoticeSel).First(); note.Length() > 0 {
		primary.ListingState = models.ListingStateUnlisted
		primary.UnlistedTitle = nonEmpty(strings.TrimSpace(note.AttrOr("title", "")))
		primary.UnlistedMessage = nonEmpty(collapsedText(note))
		return
	}
	if unlistedTextRe.MatchString(html) {
		msg := unlistedMarkerMessage
		primary.ListingState = models.ListingStateUnlisted
		primary.UnlistedMessage = &msg
	}
}

// primaryActivity decodes the page's initial activity JSON. A missing or
// invalid payload yields an empty object.
func primaryActivity(doc *goquery.Document, diag *Diagnostics) map[string]any {
	el := doc.FindMatcher(primaryJSONSel).First()
	if el.Length() == 0 {
		return map[string]any{}
	}
	raw := strings.TrimSpace(el.Text())
	if raw == "" {
		return map[string]any{}
	}
	obj, err := decodeObject(raw)
	if err != nil {
		diag.Inc("primary_json_failures")
		return map[string]any{}
	}
	return obj
}

func parseCarousel(doc *goquery.Document) ([]models.CarouselItem, *Diagnostics) {
	diag := NewDiagnostics("",
		"cards_found", "cards_parsed", "missing_listing_id",
		"missing_url", "missing_price", "missing_body", "missing_mileage")
	diag.Note("carousel_found", false)

	items := []models.CarouselItem{}
	container := doc.FindMatcher(carouselSel).First()
	if container.Length() == 0 {
		return items, diag
	}
	diag.Note("carousel_found", true)

	cards := container.FindMatcher(carouselCardSel)
	diag.Set("cards_found", cards.Length())

	cards.Each(func(_ int, card *goquery.Selection) {
		href, _ := card.FindMatcher(detailLinkSel).First().Attr("href")

		id, _ := firstOf(
			fallback{"save_control", func() string {
				return card.FindMatcher(saveControlSel).First().AttrOr("data-listing-id", "")
			}},
			fallback{"detail_href", func() string {
				return ExtractUUID(href)
			}},
		)
		if id == "" {
			diag.Inc("missing_listing_id")
			return
		}

		item := models.CarouselItem{
			ListingID:          id,
			CanonicalDetailURL: absoluteURL(href),
		}
		diag.Track("url", item.CanonicalDetailURL != nil)

		if el := card.FindMatcher(carouselPriceSel).First(); el.Length() > 0 {
			item.Price = DigitsToInt(collapsedText(el))
		}
		diag.Track("price", item.Price != nil)

		if el := card.FindMatcher(carouselBodySel).First(); el.Length() > 0 {
			item.Body = nonEmpty(collapsedText(el))
		}
		diag.Track("body", item.Body != nil)

		if el := card.FindMatcher(carouselFooterSel).First(); el.Length() > 0 {
			item.Mileage = DigitsToInt(collapsedText(el))
		}
		diag.Track("mileage", item.Mileage != nil)

		if item.Body != nil {
			item.Condition, item.Year = DeriveConditionYear(*item.Body)
		}

		items = append(items, item)
	})

	diag.Set("cards_parsed", len(items))
	return items, diag
}

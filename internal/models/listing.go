package models

// ListingState describes whether a detail page still shows a live listing.
type ListingState string

const (
	ListingStateActive   ListingState = "active"
	ListingStateUnlisted ListingState = "unlisted"
)

// ListingIDSource records which input produced a detail page's listing id.
// The absent case is encoded as a nil source (JSON null), both on the
// primary listing and in the diagnostics note.
type ListingIDSource string

const (
	ListingIDFromEmbeddedJSON ListingIDSource = "embedded_json"
	ListingIDFromURL          ListingIDSource = "url_pattern"
)

// FinancingUnavailable is emitted for results pages that carry no financing data.
const FinancingUnavailable = "unavailable"

// ResultListing is one card from a results page, DOM-only variant.
type ResultListing struct {
	ListingID             string   `json:"listing_id"`
	CanonicalDetailURL    *string  `json:"canonical_detail_url"`
	LastSeenPrice         *int     `json:"last_seen_price"`
	LastSeenDealer        *string  `json:"last_seen_dealer"`
	LastSeenDistanceMiles *float64 `json:"last_seen_distance_miles"`
}

// ResultListingV2 is one vehicle from a results page's embedded site-activity
// payload, enriched with tracking attributes from the matching DOM card.
type ResultListingV2 struct {
	ListingID          string  `json:"listing_id"`
	CanonicalDetailURL string  `json:"canonical_detail_url"`
	Year               *int    `json:"year"`
	Make               *string `json:"make"`
	Model              *string `json:"model"`
	Trim               *string `json:"trim"`
	StockType          *string `json:"stockType"`
	Price              *int    `json:"price"`
	MSRP               *int    `json:"msrp"`
	Mileage            *int    `json:"mileage"`
	VIN                *string `json:"vin"`
	FuelType           *string `json:"fuelType"`
	BodyStyle          *string `json:"bodyStyle"`
	FinancingType      string  `json:"financingType"`
	SellerZip          *string `json:"seller_zip"`
	SellerCustomerID   *string `json:"seller_customerId"`
	PageNumber         *int    `json:"page_number"`
	PositionOnPage     *int    `json:"position_on_page"`
	PositionOnPageDOM  *int    `json:"position_on_page_dom"`
	TRID               *string `json:"trid"`
	ISAContext         *string `json:"isaContext"`

	// LastSeenPrice mirrors Price for consumers mapped against the v1 shape.
	LastSeenPrice *int `json:"last_seen_price"`
}

// PrimaryListing is the main vehicle described by a detail page.
type PrimaryListing struct {
	ListingState    ListingState     `json:"listing_state"`
	UnlistedTitle   *string          `json:"unlisted_title"`
	UnlistedMessage *string          `json:"unlisted_message"`
	ListingID       *string          `json:"listing_id"`
	ListingIDSource *ListingIDSource `json:"listing_id_source"`
	VIN             *string          `json:"vin"`
	Price           *int             `json:"price"`
	Mileage         *int             `json:"mileage"`
	MSRP            *int             `json:"msrp"`
	StockType       *string          `json:"stock_type"`
	DealerName      *string          `json:"dealer_name"`
	DealerZip       *string          `json:"dealer_zip"`
	SellerID        *string          `json:"seller_id"`
	CustomerID      *string          `json:"customer_id"`
}

// PresentFields returns the JSON names of the fields that carry a value.
// The result is in declaration order; callers sort it when they need to.
func (p *PrimaryListing) PresentFields() []string {
	fields := []string{"listing_state"}
	if p.UnlistedTitle != nil {
		fields = append(fields, "unlisted_title")
	}
	if p.UnlistedMessage != nil {
		fields = append(fields, "unlisted_message")
	}
	if p.ListingID != nil {
		fields = append(fields, "listing_id")
	}
	if p.ListingIDSource != nil {
		fields = append(fields, "listing_id_source")
	}

	optional := []struct {
		name    string
		present bool
	}{
		{"vin", p.VIN != nil},
		{"price", p.Price != nil},
		{"mileage", p.Mileage != nil},
		{"msrp", p.MSRP != nil},
		{"stock_type", p.StockType != nil},
		{"dealer_name", p.DealerName != nil},
		{"dealer_zip", p.DealerZip != nil},
		{"seller_id", p.SellerID != nil},
		{"customer_id", p.CustomerID != nil},
	}
	for _, f := range optional {
		if f.present {
			fields = append(fields, f.name)
		}
	}
	return fields
}

// CarouselItem is one "similar vehicles" card on a detail page.
type CarouselItem struct {
	ListingID          string  `json:"listing_id"`
	CanonicalDetailURL *string `json:"canonical_detail_url"`
	Price              *int    `json:"price"`
	Mileage            *int    `json:"mileage"`
	Body               *string `json:"body"`
	Condition          *string `json:"condition"`
	Year               *int    `json:"year"`
}

package parser

import "github.com/andybalholm/cascadia"

// Selectors are compiled once and shared; cascadia matchers are safe for
// concurrent use.
var (
	resultCardSel   = cascadia.MustCompile(`div.vehicle-card[data-listing-id]`)
	detailLinkSel   = cascadia.MustCompile(`a[href^="/vehicledetail/"]`)
	primaryPriceSel = cascadia.MustCompile(`[data-qa="primary-price"]`)
	dealerNameSel   = cascadia.MustCompile(`.vehicle-dealer .dealer-name strong`)
	distanceSel     = cascadia.MustCompile(`[data-qa="miles-from-user"]`)
	siteActivitySel = cascadia.MustCompile(`[data-site-activity]`)

	unlistedNoticeSel = cascadia.MustCompile(`spark-notification.unlisted-notification`)
	primaryJSONSel    = cascadia.MustCompile(`script#initial-activity-data`)
	carouselSel       = cascadia.MustCompile(`div.listings-carousel`)
	carouselCardSel   = cascadia.MustCompile(`spark-card`)
	saveControlSel    = cascadia.MustCompile(`spark-save[data-listing-id]`)
	carouselPriceSel  = cascadia.MustCompile(`span.price`)
	carouselBodySel   = cascadia.MustCompile(`span.body`)
	carouselFooterSel = cascadia.MustCompile(`span[slot="footer"]`)
)

package domain

import "strings"

var countryRegions = map[string]ShippingRegion{
	"US": RegionUSA,
	"CA": RegionCanada,
	"GB": RegionUK,

	"DE": RegionEurope,
	"FR": RegionEurope,
	"IT": RegionEurope,
	"ES": RegionEurope,
	"NL": RegionEurope,
	"BE": RegionEurope,
	"PT": RegionEurope,
	"IE": RegionEurope,
	"DK": RegionEurope,
	"SE": RegionEurope,
	"FI": RegionEurope,
	"AT": RegionEurope,
	"GR": RegionEurope,
	"PL": RegionEurope,
	"CZ": RegionEurope,
	"RO": RegionEurope,
	"HU": RegionEurope,
	"BG": RegionEurope,
	"SK": RegionEurope,
	"HR": RegionEurope,

	"CH": RegionEFTA,
	"NO": RegionEFTA,
	"IS": RegionEFTA,
	"LI": RegionEFTA,

	"JP": RegionJapan,
	"AU": RegionAustraliaNZ,
	"NZ": RegionAustraliaNZ,
	"BR": RegionBrazil,

	"MX": RegionWorldwide,
	"SG": RegionWorldwide,
	"KR": RegionWorldwide,
	"IN": RegionWorldwide,
	"AE": RegionWorldwide,
	"SA": RegionWorldwide,
	"ZA": RegionWorldwide,
}

// RegionForCountry looks up the region for an ISO 3166-1 alpha-2 code.
// The second result is false for codes missing from the table; callers decide the fallback.
func RegionForCountry(code string) (ShippingRegion, bool) {
	region, ok := countryRegions[strings.ToUpper(strings.TrimSpace(code))]
	return region, ok
}

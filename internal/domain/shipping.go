package domain

import (
	"strings"
	"time"
)

// ShippingRegion is the destination bucket used to price shipping.
type ShippingRegion string

const (
	RegionUSA         ShippingRegion = "USA"
	RegionEurope      ShippingRegion = "Europe"
	RegionUK          ShippingRegion = "United Kingdom"
	RegionEFTA        ShippingRegion = "EFTA States"
	RegionCanada      ShippingRegion = "Canada"
	RegionAustraliaNZ ShippingRegion = "Australia/New Zealand"
	RegionJapan       ShippingRegion = "Japan"
	RegionBrazil      ShippingRegion = "Brazil"
	RegionWorldwide   ShippingRegion = "Worldwide"
)

// DefaultShippingRegion is used when detection yields nothing.
const DefaultShippingRegion = RegionUSA

var shippingRegions = []ShippingRegion{
	RegionUSA,
	RegionEurope,
	RegionUK,
	RegionEFTA,
	RegionCanada,
	RegionAustraliaNZ,
	RegionJapan,
	RegionBrazil,
	RegionWorldwide,
}

var regionSlugs = map[ShippingRegion]string{
	RegionUSA:         "usa",
	RegionEurope:      "europe",
	RegionUK:          "united_kingdom",
	RegionEFTA:        "efta_states",
	RegionCanada:      "canada",
	RegionAustraliaNZ: "australia_new_zealand",
	RegionJapan:       "japan",
	RegionBrazil:      "brazil",
	RegionWorldwide:   "worldwide",
}

// Legacy storefront identifiers still sent by older clients.
var regionAliases = map[string]ShippingRegion{
	"us":            RegionUSA,
	"uk":            RegionUK,
	"gb":            RegionUK,
	"efta":          RegionEFTA,
	"australia_nz":  RegionAustraliaNZ,
	"australia-nz":  RegionAustraliaNZ,
	"rest of world": RegionWorldwide,
}

// ShippingRegions returns every region in display order.
func ShippingRegions() []ShippingRegion {
	out := make([]ShippingRegion, len(shippingRegions))
	copy(out, shippingRegions)
	return out
}

// Valid reports whether the region belongs to the closed enumeration.
func (r ShippingRegion) Valid() bool {
	_, ok := regionSlugs[r]
	return ok
}

// Slug returns a path-safe identifier for the region.
func (r ShippingRegion) Slug() string {
	return regionSlugs[r]
}

func (r ShippingRegion) String() string {
	return string(r)
}

// ParseShippingRegion resolves canonical names, slugs and legacy aliases case-insensitively.
func ParseShippingRegion(value string) (ShippingRegion, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	for _, region := range shippingRegions {
		if strings.ToLower(string(region)) == lower || regionSlugs[region] == lower {
			return region, true
		}
	}
	if region, ok := regionAliases[lower]; ok {
		return region, true
	}
	return "", false
}

// ProductCategory groups products that share shipping rates.
type ProductCategory string

const (
	CategoryBasicShirt     ProductCategory = "BASIC_SHIRT"
	CategoryHeavyOuterwear ProductCategory = "HEAVY_OUTERWEAR"
	CategoryAOPLight       ProductCategory = "AOP_LIGHT"
	CategoryAOPHeavy       ProductCategory = "AOP_HEAVY"
	CategoryAOPPremium     ProductCategory = "AOP_PREMIUM"
	CategoryHeadwear       ProductCategory = "HEADWEAR"
	CategoryDefault        ProductCategory = "DEFAULT"
)

var productCategories = []ProductCategory{
	CategoryBasicShirt,
	CategoryHeavyOuterwear,
	CategoryAOPLight,
	CategoryAOPHeavy,
	CategoryAOPPremium,
	CategoryHeadwear,
	CategoryDefault,
}

// ProductCategories returns every category in declaration order.
func ProductCategories() []ProductCategory {
	out := make([]ProductCategory, len(productCategories))
	copy(out, productCategories)
	return out
}

// Valid reports whether the category belongs to the closed enumeration.
func (c ProductCategory) Valid() bool {
	for _, candidate := range productCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

func (c ProductCategory) String() string {
	return string(c)
}

// ParseProductCategory normalises case and separators ("aop light" -> AOP_LIGHT).
func ParseProductCategory(value string) (ProductCategory, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	category := ProductCategory(normalized)
	if !category.Valid() {
		return "", false
	}
	return category, true
}

// ShippingRateKey identifies a rate table cell.
type ShippingRateKey struct {
	Category ProductCategory
	Region   ShippingRegion
}

// ID returns the storage identifier for the key, e.g. "BASIC_SHIRT__united_kingdom".
func (k ShippingRateKey) ID() string {
	return string(k.Category) + "__" + k.Region.Slug()
}

// Valid reports whether both halves of the key are enumerated values.
func (k ShippingRateKey) Valid() bool {
	return k.Category.Valid() && k.Region.Valid()
}

// ShippingRate is a persisted administrator override for one rate table cell.
type ShippingRate struct {
	Category           ProductCategory
	Region             ShippingRegion
	BaseRate           float64
	AdditionalItemRate float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Key returns the rate table cell the override applies to.
func (r ShippingRate) Key() ShippingRateKey {
	return ShippingRateKey{Category: r.Category, Region: r.Region}
}

// RateSource tells whether an effective rate came from the defaults or an override.
type RateSource string

const (
	RateSourceDefault  RateSource = "default"
	RateSourceOverride RateSource = "override"
)

// EffectiveRate is the rate applied for a key after merging overrides onto defaults.
type EffectiveRate struct {
	Category           ProductCategory
	Region             ShippingRegion
	BaseRate           float64
	AdditionalItemRate float64
	Source             RateSource
}

// ShippingType declares whether a product ships free when it meets the price floor.
type ShippingType string

const (
	ShippingTypeFree     ShippingType = "free"
	ShippingTypeFlatRate ShippingType = "flat_rate"
)

// Dimensions are parcel measurements in centimetres.
type Dimensions struct {
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

// CartLineItem is a client-held cart entry submitted for a shipping quote.
type CartLineItem struct {
	ProductID    string
	Quantity     int
	Category     ProductCategory
	WeightKg     *float64
	Dimensions   *Dimensions
	ShippingType ShippingType
	RetailPrice  float64
}

// DetectionSource identifies where a region detection came from.
type DetectionSource string

const (
	DetectionSourceIP         DetectionSource = "ip"
	DetectionSourceEdgeHeader DetectionSource = "edge-header"
	DetectionSourceManual     DetectionSource = "manual"
	DetectionSourceDefault    DetectionSource = "default"
)

// RegionCacheEntry is the cached outcome of a region detection for one client.
type RegionCacheEntry struct {
	Region     ShippingRegion  `json:"region"`
	DetectedAt time.Time       `json:"detectedAt"`
	Source     DetectionSource `json:"source"`
	Confidence float64         `json:"confidence"`
}

// Product is a catalog row synchronised from the fulfillment provider.
type Product struct {
	ID           string
	ExternalID   string
	Name         string
	Description  string
	Category     ProductCategory
	WeightKg     *float64
	Dimensions   *Dimensions
	ShippingType ShippingType
	RetailPrice  float64
	Currency     string
	SyncedAt     time.Time
}

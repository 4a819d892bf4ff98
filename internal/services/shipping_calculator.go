package services

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/threadcraft/api/internal/domain"
)

// ErrShippingUnableToCalculate is the soft failure surfaced when a cart cannot be priced.
var ErrShippingUnableToCalculate = errors.New("unable to calculate shipping, try again")

const (
	freeShippingPriceFloor = 75
	defaultItemWeightKg    = 0.5

	// MaxLineItemQuantity bounds a single line item.
	MaxLineItemQuantity = 10_000
	// MaxCartUnits bounds the units across a cart.
	MaxCartUnits = 100_000
)

var (
	weightSurchargePerKg = decimal.RequireFromString("0.5")
	volumeSurchargePerCm = decimal.RequireFromString("0.0001")
	defaultDimensions    = domain.Dimensions{LengthCm: 20, WidthCm: 20, HeightCm: 5}
)

// RateLookup supplies effective rates to the calculator. RateMatrix satisfies it.
type RateLookup interface {
	Rate(category domain.ProductCategory, region domain.ShippingRegion) (domain.EffectiveRate, bool)
}

var deliveryWindows = map[domain.ShippingRegion]domain.DeliveryWindow{
	domain.RegionUSA:         {MinDays: 3, MaxDays: 5},
	domain.RegionEurope:      {MinDays: 7, MaxDays: 14},
	domain.RegionUK:          {MinDays: 7, MaxDays: 14},
	domain.RegionEFTA:        {MinDays: 7, MaxDays: 14},
	domain.RegionCanada:      {MinDays: 5, MaxDays: 10},
	domain.RegionAustraliaNZ: {MinDays: 10, MaxDays: 21},
	domain.RegionJapan:       {MinDays: 7, MaxDays: 14},
	domain.RegionBrazil:      {MinDays: 10, MaxDays: 21},
	domain.RegionWorldwide:   {MinDays: 14, MaxDays: 28},
}

// DeliveryWindowFor returns the business-day range for region.
func DeliveryWindowFor(region domain.ShippingRegion) (domain.DeliveryWindow, bool) {
	w, ok := deliveryWindows[region]
	return w, ok
}

// EstimatedDelivery renders the delivery window, e.g. "3-5 business days".
// Unknown regions render as an empty string.
func EstimatedDelivery(region domain.ShippingRegion) string {
	w, ok := deliveryWindows[region]
	if !ok {
		return ""
	}
	return formatDeliveryWindow(w)
}

func formatDeliveryWindow(w domain.DeliveryWindow) string {
	if w.MinDays == w.MaxDays {
		return fmt.Sprintf("%d business days", w.MinDays)
	}
	return fmt.Sprintf("%d-%d business days", w.MinDays, w.MaxDays)
}

// FreeShippingThreshold returns the order subtotal at which shipping becomes free.
func FreeShippingThreshold(region domain.ShippingRegion) float64 {
	switch region {
	case domain.RegionUSA:
		return 150
	case domain.RegionCanada:
		return 200
	case domain.RegionEurope, domain.RegionUK, domain.RegionEFTA:
		return 250
	case domain.RegionAustraliaNZ, domain.RegionJapan, domain.RegionBrazil:
		return 300
	default:
		return 500
	}
}

// ShippingProgress reports how far subtotal is from the region's free-shipping threshold.
func ShippingProgress(subtotal float64, region domain.ShippingRegion) domain.FreeShippingProgress {
	threshold := FreeShippingThreshold(region)
	if math.IsNaN(subtotal) || subtotal < 0 {
		subtotal = 0
	}
	progress := math.Min(subtotal/threshold*100, 100)
	remaining := math.Max(threshold-subtotal, 0)
	return domain.FreeShippingProgress{
		Region:    region,
		Threshold: threshold,
		Subtotal:  subtotal,
		Progress:  progress,
		Remaining: remaining,
		Eligible:  subtotal >= threshold,
	}
}

// QualifiesForFreeShipping reports whether an item ships free on its own.
func QualifiesForFreeShipping(item domain.CartLineItem) bool {
	return item.ShippingType == domain.ShippingTypeFree && item.RetailPrice >= freeShippingPriceFloor
}

type categoryTally struct {
	units int
}

// CalculateShipping prices items for region. The calculation is pure: rates come
// from the supplied lookup and no I/O happens here.
//
// Each category present pays its base rate once plus the additional rate for every
// further unit. Every paid unit also carries weight and volume surcharges. Items
// that qualify for free shipping contribute nothing and are not counted as units.
func CalculateShipping(items []domain.CartLineItem, region domain.ShippingRegion, rates RateLookup) (domain.ShippingQuote, error) {
	if !region.Valid() {
		return domain.ShippingQuote{}, fmt.Errorf("%w: unknown region %q", ErrShippingUnableToCalculate, region)
	}
	if len(items) == 0 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: cart is empty", ErrShippingUnableToCalculate)
	}
	if rates == nil {
		return domain.ShippingQuote{}, fmt.Errorf("%w: no rate source", ErrShippingUnableToCalculate)
	}

	tallies := make(map[domain.ProductCategory]*categoryTally)
	surcharge := decimal.Zero
	quote := domain.ShippingQuote{Region: region}

	for i, item := range items {
		category, err := normalizeLineItem(item)
		if err != nil {
			return domain.ShippingQuote{}, fmt.Errorf("%w: item %d: %v", ErrShippingUnableToCalculate, i, err)
		}
		tally, ok := tallies[category]
		if !ok {
			tally = &categoryTally{}
			tallies[category] = tally
		}
		if quote.ItemCount+item.Quantity > MaxCartUnits {
			return domain.ShippingQuote{}, fmt.Errorf("%w: cart exceeds %d units", ErrShippingUnableToCalculate, MaxCartUnits)
		}
		quote.ItemCount += item.Quantity
		if QualifiesForFreeShipping(item) {
			quote.FreeItemCount += item.Quantity
			continue
		}
		tally.units += item.Quantity
		surcharge = surcharge.Add(unitSurcharge(item).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	window := deliveryWindows[region]
	total := surcharge
	for _, category := range domain.ProductCategories() {
		tally, ok := tallies[category]
		if !ok {
			continue
		}
		rate, ok := rates.Rate(category, region)
		if !ok {
			return domain.ShippingQuote{}, fmt.Errorf("%w: no rate for %s/%s", ErrShippingUnableToCalculate, category, region)
		}
		subtotal := decimal.Zero
		if tally.units > 0 {
			subtotal = decimal.NewFromFloat(rate.BaseRate).
				Add(decimal.NewFromFloat(rate.AdditionalItemRate).Mul(decimal.NewFromInt(int64(tally.units - 1))))
		}
		total = total.Add(subtotal)
		quote.Breakdown = append(quote.Breakdown, domain.CategoryBreakdown{
			Category:           category,
			Region:             region,
			BaseRate:           rate.BaseRate,
			AdditionalItemRate: rate.AdditionalItemRate,
			EstimatedDays:      window.MaxDays,
			Quantity:           tally.units,
			Subtotal:           subtotal.Round(2).InexactFloat64(),
			RateSource:         rate.Source,
		})
	}

	quote.Surcharge = surcharge.Round(2).InexactFloat64()
	quote.Total = total.Round(2).InexactFloat64()
	quote.DeliveryEstimate = formatDeliveryWindow(window)
	return quote, nil
}

func normalizeLineItem(item domain.CartLineItem) (domain.ProductCategory, error) {
	if item.Quantity <= 0 || item.Quantity > MaxLineItemQuantity {
		return "", fmt.Errorf("quantity must be between 1 and %d, got %d", MaxLineItemQuantity, item.Quantity)
	}
	category := item.Category
	if category == "" {
		category = domain.CategoryDefault
	}
	if !category.Valid() {
		return "", fmt.Errorf("unknown product category %q", item.Category)
	}
	switch item.ShippingType {
	case "", domain.ShippingTypeFree, domain.ShippingTypeFlatRate:
	default:
		return "", fmt.Errorf("unknown shipping type %q", item.ShippingType)
	}
	if item.WeightKg != nil && !nonNegative(*item.WeightKg) {
		return "", fmt.Errorf("invalid weight %v", *item.WeightKg)
	}
	if d := item.Dimensions; d != nil && !(nonNegative(d.LengthCm) && nonNegative(d.WidthCm) && nonNegative(d.HeightCm)) {
		return "", fmt.Errorf("invalid dimensions %+v", *d)
	}
	if !nonNegative(item.RetailPrice) {
		return "", fmt.Errorf("invalid retail price %v", item.RetailPrice)
	}
	return category, nil
}

// unitSurcharge is weight x 0.5 + (l x w x h) x 0.0001 for one unit, with defaults
// for missing measurements.
func unitSurcharge(item domain.CartLineItem) decimal.Decimal {
	weight := defaultItemWeightKg
	if item.WeightKg != nil && *item.WeightKg > 0 {
		weight = *item.WeightKg
	}
	dims := defaultDimensions
	if item.Dimensions != nil && item.Dimensions.LengthCm > 0 && item.Dimensions.WidthCm > 0 && item.Dimensions.HeightCm > 0 {
		dims = *item.Dimensions
	}
	volume := decimal.NewFromFloat(dims.LengthCm).
		Mul(decimal.NewFromFloat(dims.WidthCm)).
		Mul(decimal.NewFromFloat(dims.HeightCm))
	return decimal.NewFromFloat(weight).Mul(weightSurchargePerKg).Add(volume.Mul(volumeSurchargePerCm))
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

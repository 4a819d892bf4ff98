package services

import domain "github.com/threadcraft/api/internal/domain"

type ratePair struct {
	base       float64
	additional float64
}

// Built-in rates used whenever no override exists. Every category covers every region.
var defaultShippingRates = map[domain.ProductCategory]map[domain.ShippingRegion]ratePair{
	domain.CategoryBasicShirt: {
		domain.RegionUSA:         {4.69, 2.20},
		domain.RegionEurope:      {4.79, 1.50},
		domain.RegionUK:          {4.59, 1.30},
		domain.RegionEFTA:        {9.99, 1.50},
		domain.RegionCanada:      {8.29, 2.00},
		domain.RegionAustraliaNZ: {7.19, 1.50},
		domain.RegionJapan:       {4.39, 1.20},
		domain.RegionBrazil:      {4.49, 1.50},
		domain.RegionWorldwide:   {11.99, 3.00},
	},
	domain.CategoryHeavyOuterwear: {
		domain.RegionUSA:         {8.49, 2.50},
		domain.RegionEurope:      {6.99, 2.50},
		domain.RegionUK:          {6.99, 2.20},
		domain.RegionEFTA:        {10.99, 2.50},
		domain.RegionCanada:      {10.19, 2.50},
		domain.RegionAustraliaNZ: {11.29, 2.50},
		domain.RegionJapan:       {6.99, 2.00},
		domain.RegionBrazil:      {5.99, 2.00},
		domain.RegionWorldwide:   {16.99, 4.00},
	},
	domain.CategoryAOPLight: {
		domain.RegionUSA:         {3.99, 1.50},
		domain.RegionEurope:      {4.59, 1.50},
		domain.RegionUK:          {4.39, 1.30},
		domain.RegionEFTA:        {9.99, 1.50},
		domain.RegionCanada:      {6.99, 1.50},
		domain.RegionAustraliaNZ: {7.19, 1.50},
		domain.RegionJapan:       {4.39, 1.20},
		domain.RegionBrazil:      {4.49, 1.50},
		domain.RegionWorldwide:   {11.99, 3.00},
	},
	domain.CategoryAOPHeavy: {
		domain.RegionUSA:         {7.99, 2.50},
		domain.RegionEurope:      {6.99, 2.50},
		domain.RegionUK:          {6.99, 2.20},
		domain.RegionEFTA:        {10.99, 2.50},
		domain.RegionCanada:      {9.39, 2.50},
		domain.RegionAustraliaNZ: {11.29, 2.50},
		domain.RegionJapan:       {6.99, 2.00},
		domain.RegionBrazil:      {5.99, 2.00},
		domain.RegionWorldwide:   {16.99, 4.00},
	},
	domain.CategoryAOPPremium: {
		domain.RegionUSA:         {7.99, 3.00},
		domain.RegionEurope:      {8.99, 3.00},
		domain.RegionUK:          {8.99, 3.00},
		domain.RegionEFTA:        {8.99, 3.00},
		domain.RegionCanada:      {7.99, 3.00},
		domain.RegionAustraliaNZ: {7.99, 3.00},
		domain.RegionJapan:       {7.99, 3.00},
		domain.RegionBrazil:      {7.99, 3.00},
		domain.RegionWorldwide:   {8.99, 3.50},
	},
	domain.CategoryHeadwear: {
		domain.RegionUSA:         {3.99, 0.75},
		domain.RegionEurope:      {4.59, 0.75},
		domain.RegionUK:          {4.39, 0.75},
		domain.RegionEFTA:        {9.99, 1.00},
		domain.RegionCanada:      {6.99, 1.00},
		domain.RegionAustraliaNZ: {7.19, 1.00},
		domain.RegionJapan:       {4.39, 0.75},
		domain.RegionBrazil:      {4.49, 1.00},
		domain.RegionWorldwide:   {11.99, 2.00},
	},
	domain.CategoryDefault: {
		domain.RegionUSA:         {4.69, 2.20},
		domain.RegionEurope:      {4.79, 1.50},
		domain.RegionUK:          {4.59, 1.30},
		domain.RegionEFTA:        {9.99, 1.50},
		domain.RegionCanada:      {8.29, 2.00},
		domain.RegionAustraliaNZ: {7.19, 1.50},
		domain.RegionJapan:       {4.39, 1.20},
		domain.RegionBrazil:      {4.49, 1.50},
		domain.RegionWorldwide:   {11.99, 3.00},
	},
}

// DefaultShippingRate returns the built-in rate for a key.
func DefaultShippingRate(category domain.ProductCategory, region domain.ShippingRegion) (domain.EffectiveRate, bool) {
	row, ok := defaultShippingRates[category]
	if !ok {
		return domain.EffectiveRate{}, false
	}
	pair, ok := row[region]
	if !ok {
		return domain.EffectiveRate{}, false
	}
	return domain.EffectiveRate{
		Category:           category,
		Region:             region,
		BaseRate:           pair.base,
		AdditionalItemRate: pair.additional,
		Source:             domain.RateSourceDefault,
	}, true
}

// DefaultRateMatrix returns the built-in table with no overrides applied.
func DefaultRateMatrix() RateMatrix {
	m := RateMatrix{rates: make(map[domain.ShippingRateKey]domain.EffectiveRate, len(defaultShippingRates)*len(domain.ShippingRegions()))}
	for _, category := range domain.ProductCategories() {
		for _, region := range domain.ShippingRegions() {
			if rate, ok := DefaultShippingRate(category, region); ok {
				m.rates[domain.ShippingRateKey{Category: category, Region: region}] = rate
			}
		}
	}
	return m
}

// RateMatrix is an immutable snapshot of effective rates.
type RateMatrix struct {
	rates map[domain.ShippingRateKey]domain.EffectiveRate
}

// Rate returns the effective rate for a key.
func (m RateMatrix) Rate(category domain.ProductCategory, region domain.ShippingRegion) (domain.EffectiveRate, bool) {
	rate, ok := m.rates[domain.ShippingRateKey{Category: category, Region: region}]
	return rate, ok
}

// Len reports the number of keys in the snapshot.
func (m RateMatrix) Len() int { return len(m.rates) }

// Rates lists every effective rate in category then region order.
func (m RateMatrix) Rates() []domain.EffectiveRate {
	out := make([]domain.EffectiveRate, 0, len(m.rates))
	for _, category := range domain.ProductCategories() {
		for _, region := range domain.ShippingRegions() {
			if rate, ok := m.Rate(category, region); ok {
				out = append(out, rate)
			}
		}
	}
	return out
}

// withOverrides copies the matrix and applies overrides on top.
func (m RateMatrix) withOverrides(overrides []domain.ShippingRate) RateMatrix {
	out := RateMatrix{rates: make(map[domain.ShippingRateKey]domain.EffectiveRate, len(m.rates))}
	for key, rate := range m.rates {
		out.rates[key] = rate
	}
	for _, o := range overrides {
		if !o.Key().Valid() {
			continue
		}
		out.rates[o.Key()] = domain.EffectiveRate{
			Category:           o.Category,
			Region:             o.Region,
			BaseRate:           o.BaseRate,
			AdditionalItemRate: o.AdditionalItemRate,
			Source:             domain.RateSourceOverride,
		}
	}
	return out
}

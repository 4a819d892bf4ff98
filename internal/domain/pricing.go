package domain

// ShippingQuote captures the result of pricing a cart for one region.
type ShippingQuote struct {
	Region             ShippingRegion
	Total              float64
	Surcharge          float64
	Currency           string
	Breakdown          []CategoryBreakdown
	DeliveryEstimate   string
	FreeShipping       FreeShippingProgress
	ItemCount          int
	FreeItemCount      int
	HydratedProductIDs []string
}

// CategoryBreakdown reports how one product category contributed to a quote.
type CategoryBreakdown struct {
	Category           ProductCategory
	Region             ShippingRegion
	BaseRate           float64
	AdditionalItemRate float64
	EstimatedDays      int
	Quantity           int
	Subtotal           float64
	RateSource         RateSource
}

// DeliveryWindow is the business-day range a parcel takes to reach a region.
type DeliveryWindow struct {
	MinDays int
	MaxDays int
}

// FreeShippingProgress describes how close a subtotal is to the free-shipping threshold.
type FreeShippingProgress struct {
	Region    ShippingRegion
	Threshold float64
	Subtotal  float64
	Progress  float64
	Remaining float64
	Eligible  bool
}

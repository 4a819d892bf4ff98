package domain

import "testing"

func TestParseShippingRegion(t *testing.T) {
	cases := []struct {
		in   string
		want ShippingRegion
		ok   bool
	}{
		{in: "USA", want: RegionUSA, ok: true},
		{in: "  united kingdom ", want: RegionUK, ok: true},
		{in: "united_kingdom", want: RegionUK, ok: true},
		{in: "UK", want: RegionUK, ok: true},
		{in: "EFTA", want: RegionEFTA, ok: true},
		{in: "Australia_NZ", want: RegionAustraliaNZ, ok: true},
		{in: "australia/new zealand", want: RegionAustraliaNZ, ok: true},
		{in: "worldwide", want: RegionWorldwide, ok: true},
		{in: "Mars", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseShippingRegion(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseShippingRegion(%q) = %q, %v want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRegionSlugsAreUnique(t *testing.T) {
	seen := map[string]ShippingRegion{}
	for _, region := range ShippingRegions() {
		slug := region.Slug()
		if slug == "" {
			t.Fatalf("region %q has no slug", region)
		}
		if prev, ok := seen[slug]; ok {
			t.Fatalf("slug %q shared by %q and %q", slug, prev, region)
		}
		seen[slug] = region
		parsed, ok := ParseShippingRegion(slug)
		if !ok || parsed != region {
			t.Fatalf("slug %q did not round trip, got %q", slug, parsed)
		}
	}
	if len(seen) != 9 {
		t.Fatalf("expected 9 regions, got %d", len(seen))
	}
}

func TestParseProductCategory(t *testing.T) {
	if got, ok := ParseProductCategory("aop light"); !ok || got != CategoryAOPLight {
		t.Fatalf("expected AOP_LIGHT, got %q %v", got, ok)
	}
	if got, ok := ParseProductCategory("heavy-outerwear"); !ok || got != CategoryHeavyOuterwear {
		t.Fatalf("expected HEAVY_OUTERWEAR, got %q %v", got, ok)
	}
	if _, ok := ParseProductCategory("SOCKS"); ok {
		t.Fatalf("expected SOCKS to be rejected")
	}
}

func TestShippingRateKeyID(t *testing.T) {
	key := ShippingRateKey{Category: CategoryBasicShirt, Region: RegionAustraliaNZ}
	if got := key.ID(); got != "BASIC_SHIRT__australia_new_zealand" {
		t.Fatalf("unexpected id %q", got)
	}
	if (ShippingRateKey{Category: "SOCKS", Region: RegionUSA}).Valid() {
		t.Fatalf("expected unknown category key to be invalid")
	}
}

func TestRegionForCountry(t *testing.T) {
	cases := map[string]ShippingRegion{
		"US": RegionUSA,
		"gb": RegionUK,
		"DE": RegionEurope,
		"NO": RegionEFTA,
		"NZ": RegionAustraliaNZ,
		"JP": RegionJapan,
		"BR": RegionBrazil,
		"CA": RegionCanada,
		"SG": RegionWorldwide,
	}
	for code, want := range cases {
		got, ok := RegionForCountry(code)
		if !ok || got != want {
			t.Fatalf("RegionForCountry(%q) = %q, %v want %q", code, got, ok, want)
		}
	}
	if _, ok := RegionForCountry("AR"); ok {
		t.Fatalf("expected AR to be absent from the table")
	}
}

package appfoliosync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/utils"
)

func TestMapPropertyTrimsAndDefaults(t *testing.T) {
	p := mapProperty(rawProperty{
		ID:         " prop-1 ",
		Name:       "  Maple Court  ",
		Address:    "12 Maple St",
		City:       "Austin",
		State:      "TX",
		PostalCode: "78701",
		UnitCount:  8,
		UpdatedAt:  "2026-02-01T10:00:00Z",
	})
	if p.ExternalId != "prop-1" {
		t.Fatalf("ExternalId = %q", p.ExternalId)
	}
	if p.Name != "Maple Court" {
		t.Fatalf("Name = %q", p.Name)
	}
	if !p.Active {
		t.Fatal("missing active flag must default to true")
	}
	if p.SourceUpdatedAt == nil {
		t.Fatal("SourceUpdatedAt not parsed")
	}
	if p.Notes != "" || p.ManualRank != nil {
		t.Fatal("mapping must not touch local-only fields")
	}
	if p.Latitude != nil || p.GeocodedAt != nil {
		t.Fatal("mapping must not carry geocoding fields")
	}
}

func TestMapPropertyNameFallback(t *testing.T) {
	p := mapProperty(rawProperty{ID: "prop-2"})
	if p.Name != "Property prop-2" {
		t.Fatalf("Name = %q", p.Name)
	}
}

func TestMapPropertyActiveOverride(t *testing.T) {
	if p := mapProperty(rawProperty{ID: "prop-3", Active: utils.NewFalse()}); p.Active {
		t.Fatal("explicit inactive flag must carry through")
	}
	if p := mapProperty(rawProperty{ID: "prop-4", Active: utils.NewTrue()}); !p.Active {
		t.Fatal("explicit active flag must carry through")
	}
}

func TestMapUnitParsesRent(t *testing.T) {
	u := mapUnit(rawUnit{
		ID:         "unit-1",
		UnitNumber: "4B",
		Bedrooms:   2,
		Bathrooms:  1.5,
		MarketRent: json.Number("1850.50"),
	}, 7)
	if u.PropertyId != 7 {
		t.Fatalf("PropertyId = %d", u.PropertyId)
	}
	if u.MarketRent.String() != "1850.5" {
		t.Fatalf("MarketRent = %s", u.MarketRent.String())
	}
}

func TestMapVendorNormalizesPhone(t *testing.T) {
	v := mapVendor(rawVendor{
		ID:    "ven-1",
		Name:  "Ace Plumbing",
		Phone: "(512) 555-0147",
	})
	if v.Phone != "+15125550147" {
		t.Fatalf("Phone = %q, expected E.164", v.Phone)
	}
}

func TestMapVendorKeepsUnparseablePhone(t *testing.T) {
	v := mapVendor(rawVendor{ID: "ven-2", Name: "Ace", Phone: "ext. 12"})
	if v.Phone == "" {
		t.Fatal("unparseable phone must be kept raw, not dropped")
	}
}

func TestMapExpenseCarriesUtilityType(t *testing.T) {
	e := mapExpense(rawExpense{
		ID:            "exp-1",
		Amount:        json.Number("240.00"),
		GlAccountCode: "6210",
		IncurredAt:    "2026-01-10",
	}, 3, nil, "water")
	if e.UtilityType != "water" {
		t.Fatalf("UtilityType = %q", e.UtilityType)
	}
	if e.Amount.String() != "240" {
		t.Fatalf("Amount = %s", e.Amount.String())
	}
	if e.IncurredAt == nil {
		t.Fatal("IncurredAt not parsed from date-only form")
	}
	if e.ManualAdjusted {
		t.Fatal("mapping must not set the local adjustment flag")
	}
}

func TestSourceUnchanged(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	if !sourceUnchanged(&newer, &older) {
		t.Fatal("older incoming timestamp must skip")
	}
	if !sourceUnchanged(&older, &older) {
		t.Fatal("equal timestamps must skip")
	}
	if sourceUnchanged(&older, &newer) {
		t.Fatal("newer incoming timestamp must write")
	}
	if sourceUnchanged(nil, &newer) || sourceUnchanged(&older, nil) {
		t.Fatal("missing timestamps must write")
	}
}

func TestParseSourceTimeForms(t *testing.T) {
	if got := parseSourceTime("2026-02-01T10:00:00Z"); got == nil {
		t.Fatal("RFC3339 not parsed")
	}
	if got := parseSourceTime("2026-02-01"); got == nil {
		t.Fatal("date-only not parsed")
	}
	if got := parseSourceTime("last tuesday"); got != nil {
		t.Fatalf("garbage parsed to %v", got)
	}
	if got := parseSourceTime(""); got != nil {
		t.Fatal("empty string must be nil")
	}
}

func TestDecimalFromNumber(t *testing.T) {
	if got := decimalFromNumber(json.Number("12.34")); got.String() != "12.34" {
		t.Fatalf("got %s", got.String())
	}
	if got := decimalFromNumber(json.Number("")); !got.IsZero() {
		t.Fatalf("empty number must be zero, got %s", got.String())
	}
	if got := decimalFromNumber(json.Number("abc")); !got.IsZero() {
		t.Fatalf("bad number must be zero, got %s", got.String())
	}
}

func TestAddressChangedClearsGeocode(t *testing.T) {
	existing := mapProperty(rawProperty{ID: "p", Address: "12 Maple St", City: "Austin"})
	same := mapProperty(rawProperty{ID: "p", Address: "12 Maple St", City: "Austin"})
	moved := mapProperty(rawProperty{ID: "p", Address: "99 Oak Ave", City: "Austin"})

	if addressChanged(existing, same) {
		t.Fatal("identical address reported as changed")
	}
	if !addressChanged(existing, moved) {
		t.Fatal("street change not detected")
	}
}

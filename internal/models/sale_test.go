package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeListingType(t *testing.T) {
	tests := []struct {
		input    string
		expected ListingType
	}{
		{"Auction", ListingAuction},
		{"chinese", ListingAuction},
		{"BestOffer", ListingBestOffer},
		{"best offer", ListingBestOffer},
		{"FixedPrice", ListingFixedPrice},
		{"", ListingFixedPrice},
		{"cash", ListingCash},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeListingType(tt.input))
		})
	}
}

func TestSaleIdentityKeyIgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	evening := time.Date(2024, 5, 1, 22, 15, 0, 0, time.UTC)

	assert.Equal(t,
		SaleIdentityKey("2020 Topps Mike Trout #27 PSA 10", 100, morning),
		SaleIdentityKey("2020 Topps Mike Trout #27 PSA 10 ", 100.001, evening),
	)
	assert.NotEqual(t,
		SaleIdentityKey("2020 Topps Mike Trout #27 PSA 10", 100, morning),
		SaleIdentityKey("2020 Topps Mike Trout #27 PSA 10", 101, morning),
	)
}

func TestToSaleRecord(t *testing.T) {
	soldAt := time.Date(2024, 5, 1, 18, 0, 0, 0, time.FixedZone("PDT", -7*3600))
	listing := RawListing{
		Title:       "  2020 Topps Mike Trout #27 PSA 10 ",
		Price:       100,
		Shipping:    5.5,
		SoldAt:      soldAt,
		ListingType: "Auction",
	}

	sale := listing.ToSaleRecord("mike-trout|topps|2020|10|27", ProvenanceAIEnhanced)

	assert.Equal(t, "2020 Topps Mike Trout #27 PSA 10", sale.Title)
	assert.Equal(t, 105.5, sale.TotalPrice)
	assert.True(t, sale.Verified)
	assert.Equal(t, ListingAuction, sale.ListingType)
	assert.Equal(t, ProvenanceAIEnhanced, sale.FilterProvenance)
	// 18:00 PDT is 01:00 UTC the next day
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), sale.SoldAt)
}

func TestSaleWeight(t *testing.T) {
	verified := SaleRecord{Verified: true}
	cash := SaleRecord{Verified: false}

	assert.Equal(t, 1.0, verified.Weight())
	assert.Equal(t, 0.5, cash.Weight())
}

func TestCardIsGraded(t *testing.T) {
	assert.True(t, (&Card{Type: CardTypeGraded}).IsGraded())
	assert.True(t, (&Card{Grader: "PSA"}).IsGraded())
	assert.False(t, (&Card{Type: CardTypeRaw, Grader: "PSA"}).IsGraded())
	assert.False(t, (&CanonicalCard{Type: CardTypeSealed}).IsGraded())
}

package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ListingType is how the marketplace listing was sold
type ListingType string

const (
	ListingAuction    ListingType = "auction"
	ListingFixedPrice ListingType = "fixed"
	ListingBestOffer  ListingType = "best-offer"
	ListingCash       ListingType = "cash"
)

// FilterProvenance records which filtering strategy accepted a sale
type FilterProvenance string

const (
	ProvenanceRulesOnly  FilterProvenance = "rules-only"
	ProvenanceAIEnhanced FilterProvenance = "ai-enhanced"
	ProvenanceManual     FilterProvenance = "manual"
)

// SaleRecord is one observed transaction. Sales belong to a fingerprint rather
// than a certificate so identical cards share their history. Rows are only
// ever inserted; (fingerprint, title, final_price, sold_at) is unique.
type SaleRecord struct {
	ID                    uint             `json:"id" gorm:"primaryKey;autoIncrement"`
	Fingerprint           string           `json:"fingerprint" gorm:"not null;uniqueIndex:idx_sale_identity;index:idx_sale_fp_sold,priority:1"`
	Title                 string           `json:"title" gorm:"not null;uniqueIndex:idx_sale_identity"`
	FinalPrice            float64          `json:"final_price" gorm:"not null;uniqueIndex:idx_sale_identity"`
	Shipping              float64          `json:"shipping"`
	TotalPrice            float64          `json:"total_price"`
	SoldAt                time.Time        `json:"sold_at" gorm:"not null;uniqueIndex:idx_sale_identity;index:idx_sale_fp_sold,priority:2"`
	Condition             string           `json:"condition"`
	ListingType           ListingType      `json:"listing_type"`
	SellerName            string           `json:"seller_name"`
	SellerFeedbackScore   int              `json:"seller_feedback_score"`
	SellerFeedbackPercent float64          `json:"seller_feedback_percent"`
	ListingURL            string           `json:"listing_url"`
	ImageURL              string           `json:"image_url"`
	Verified              bool             `json:"verified" gorm:"not null"`
	FilterProvenance      FilterProvenance `json:"filter_provenance"`
	CreatedAt             time.Time        `json:"created_at"`
}

// IdentityKey is the dedup triple used before insert
func (s *SaleRecord) IdentityKey() string {
	return SaleIdentityKey(s.Title, s.FinalPrice, s.SoldAt)
}

// SaleIdentityKey builds the (title, price, sold date) dedup key
func SaleIdentityKey(title string, price float64, soldAt time.Time) string {
	return strings.TrimSpace(title) + "|" + formatCents(price) + "|" + NormalizeSoldAt(soldAt).Format("2006-01-02")
}

// NormalizeSoldAt truncates a sold timestamp to its UTC calendar day so the
// same sale reported at different times of day collapses to one row
func NormalizeSoldAt(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func formatCents(price float64) string {
	return strconv.FormatFloat(math.Round(price*100)/100, 'f', 2, 64)
}

// Weight is the contribution of a sale to the weighted average price
func (s *SaleRecord) Weight() float64 {
	if s.Verified {
		return 1.0
	}
	return 0.5
}

// RawListing is a sold listing as returned by the marketplace search collaborator
type RawListing struct {
	ItemID                string    `json:"item_id"`
	Title                 string    `json:"title"`
	Price                 float64   `json:"price"`
	Shipping              float64   `json:"shipping"`
	SoldAt                time.Time `json:"sold_at"`
	Condition             string    `json:"condition"`
	ListingType           string    `json:"listing_type"`
	SellerName            string    `json:"seller_name"`
	SellerFeedbackScore   int       `json:"seller_feedback_score"`
	SellerFeedbackPercent float64   `json:"seller_feedback_percent"`
	URL                   string    `json:"url"`
	ImageURL              string    `json:"image_url"`
}

// ToSaleRecord converts a marketplace listing into a verified sale
func (l RawListing) ToSaleRecord(fingerprint string, provenance FilterProvenance) SaleRecord {
	return SaleRecord{
		Fingerprint:           fingerprint,
		Title:                 strings.TrimSpace(l.Title),
		FinalPrice:            l.Price,
		Shipping:              l.Shipping,
		TotalPrice:            l.Price + l.Shipping,
		SoldAt:                NormalizeSoldAt(l.SoldAt),
		Condition:             l.Condition,
		ListingType:           NormalizeListingType(l.ListingType),
		SellerName:            l.SellerName,
		SellerFeedbackScore:   l.SellerFeedbackScore,
		SellerFeedbackPercent: l.SellerFeedbackPercent,
		ListingURL:            l.URL,
		ImageURL:              l.ImageURL,
		Verified:              true,
		FilterProvenance:      provenance,
	}
}

// NormalizeListingType maps marketplace listing format strings to ListingType.
// Unknown values are treated as fixed price.
func NormalizeListingType(s string) ListingType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auction", "chinese", "bid":
		return ListingAuction
	case "best-offer", "best_offer", "bestoffer", "best offer", "accepted offer":
		return ListingBestOffer
	case "cash":
		return ListingCash
	default:
		return ListingFixedPrice
	}
}

// CashSaleRequest reports a sale that happened off-marketplace
type CashSaleRequest struct {
	Price  float64   `json:"price" binding:"required,gt=0"`
	SoldAt time.Time `json:"sold_at"`
	Notes  string    `json:"notes"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CollectionItem is a card a collector owns. Bookkeeping around it lives
// outside this service; only the fields pricing needs are modelled here.
type CollectionItem struct {
	ID                string        `json:"id" gorm:"primaryKey"`
	CanonicalCardID   string        `json:"canonical_card_id" gorm:"not null;index"`
	CanonicalCard     CanonicalCard `json:"canonical_card" gorm:"foreignKey:CanonicalCardID"`
	PurchasePrice     *float64      `json:"purchase_price"`
	SerialNumber      string        `json:"serial_number"`
	Quantity          int           `json:"quantity" gorm:"default:1"`
	Notes             string        `json:"notes"`
	LastPricingUpdate *time.Time    `json:"last_pricing_update"`
	AddedAt           time.Time     `json:"added_at"`
}

func (i *CollectionItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.AddedAt.IsZero() {
		i.AddedAt = time.Now()
	}
	return nil
}

type ConsignmentStatus string

const (
	ConsignmentPending ConsignmentStatus = "pending"
	ConsignmentListed  ConsignmentStatus = "listed"
	ConsignmentSold    ConsignmentStatus = "sold"
)

// ConsignmentItem is a card handed over for sale on a collector's behalf
type ConsignmentItem struct {
	ID                string            `json:"id" gorm:"primaryKey"`
	CanonicalCardID   string            `json:"canonical_card_id" gorm:"not null;index"`
	CanonicalCard     CanonicalCard     `json:"canonical_card" gorm:"foreignKey:CanonicalCardID"`
	AskingPrice       *float64          `json:"asking_price"`
	SerialNumber      string            `json:"serial_number"`
	Status            ConsignmentStatus `json:"status" gorm:"default:'pending'"`
	LastPricingUpdate *time.Time        `json:"last_pricing_update"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (i *ConsignmentItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

type AddHoldingRequest struct {
	CanonicalCardID string   `json:"canonical_card_id" binding:"required"`
	PurchasePrice   *float64 `json:"purchase_price"`
	SerialNumber    string   `json:"serial_number"`
	Quantity        int      `json:"quantity"`
	Notes           string   `json:"notes"`
}

type AddConsignmentRequest struct {
	CanonicalCardID string   `json:"canonical_card_id" binding:"required"`
	AskingPrice     *float64 `json:"asking_price"`
	SerialNumber    string   `json:"serial_number"`
}

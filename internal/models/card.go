package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CardType string

const (
	CardTypeGraded CardType = "graded"
	CardTypeRaw    CardType = "raw"
	CardTypeSealed CardType = "sealed"
)

// CanonicalCard is the identity record shared by every holding of the same
// physical certificate. Identity fields never change after creation; only the
// population and image metadata are refreshed.
type CanonicalCard struct {
	ID          string   `json:"id" gorm:"primaryKey"`
	Type        CardType `json:"type" gorm:"not null;default:'graded'"`
	Grader      string   `json:"grader" gorm:"uniqueIndex:idx_grader_cert"`
	CertNumber  *string  `json:"cert_number" gorm:"uniqueIndex:idx_grader_cert"`
	Player      string   `json:"player" gorm:"not null"`
	SetName     string   `json:"set_name"`
	Year        int      `json:"year"`
	CardNumber  string   `json:"card_number"`
	Variant     string   `json:"variant"`
	Grade       string   `json:"grade"`
	IsAutograph bool     `json:"is_autograph"`
	PrintRun    int      `json:"print_run"` // 0 when the card is not serial numbered
	Fingerprint string   `json:"fingerprint" gorm:"not null;index"`

	// Cached certification lookups
	Population          int            `json:"population"`
	PopulationHigher    int            `json:"population_higher"`
	AuthMetadata        datatypes.JSON `json:"auth_metadata,omitempty"`
	ImageURL            string         `json:"image_url"`
	PopulationUpdatedAt *time.Time     `json:"population_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not supply an ID
func (c *CanonicalCard) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// IsGraded reports whether listings must carry a grader and grade to match
func (c *CanonicalCard) IsGraded() bool {
	return c.Type == CardTypeGraded || (c.Type == "" && c.Grader != "")
}

// Card is the normalized, read-only view returned by the resolver. It merges the
// canonical identity with whatever holding (owned or consigned) the id pointed at.
type Card struct {
	ID                string     `json:"id"`
	Source            IDSource   `json:"source"`
	CanonicalCardID   string     `json:"canonical_card_id"`
	Type              CardType   `json:"type"`
	Player            string     `json:"player"`
	Year              int        `json:"year"`
	SetName           string     `json:"set_name"`
	CardNumber        string     `json:"card_number"`
	Grade             string     `json:"grade"`
	Grader            string     `json:"grader"`
	Variant           string     `json:"variant"`
	Title             string     `json:"title"`
	Fingerprint       string     `json:"fingerprint"`
	CertNumber        string     `json:"cert_number,omitempty"`
	IsAutograph       bool       `json:"is_autograph"`
	PrintRun          int        `json:"print_run,omitempty"`
	SerialNumber      string     `json:"serial_number,omitempty"` // e.g. "12/99" on the physical holding
	PurchasePrice     *float64   `json:"purchase_price,omitempty"`
	LastPricingUpdate *time.Time `json:"last_pricing_update,omitempty"`
}

// IDSource names the identifier namespace an item id was resolved through
type IDSource string

const (
	SourceCanonical   IDSource = "canonical"
	SourceCollection  IDSource = "collection"
	SourceConsignment IDSource = "consignment"
)

// IsGraded mirrors CanonicalCard.IsGraded for the resolved view
func (c *Card) IsGraded() bool {
	return c.Type == CardTypeGraded || (c.Type == "" && c.Grader != "")
}

// RegisterCardRequest describes a certificate sighting
type RegisterCardRequest struct {
	Type        CardType `json:"type"`
	Grader      string   `json:"grader"`
	CertNumber  string   `json:"cert_number"`
	Player      string   `json:"player" binding:"required"`
	SetName     string   `json:"set_name"`
	Year        int      `json:"year"`
	CardNumber  string   `json:"card_number"`
	Variant     string   `json:"variant"`
	Grade       string   `json:"grade"`
	IsAutograph bool     `json:"is_autograph"`
	PrintRun    int      `json:"print_run"`
	ImageURL    string   `json:"image_url"`
}

// PopulationUpdate carries refreshed certification metadata
type PopulationUpdate struct {
	Population       int            `json:"population"`
	PopulationHigher int            `json:"population_higher"`
	AuthMetadata     datatypes.JSON `json:"auth_metadata,omitempty"`
	ImageURL         string         `json:"image_url"`
}

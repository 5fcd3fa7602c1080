package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/codyseavey/slab-market/internal/database"
	"github.com/codyseavey/slab-market/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(uuid.New().String())
	require.NoError(t, err)
	return db
}

func registerTrout(t *testing.T, r *CardResolver, cert string) *models.CanonicalCard {
	t.Helper()
	card, _, err := r.RegisterCard(context.Background(), models.RegisterCardRequest{
		Grader:     "psa",
		CertNumber: cert,
		Player:     "Mike Trout",
		SetName:    "Topps",
		Year:       2020,
		CardNumber: "#27",
		Grade:      "10",
	})
	require.NoError(t, err)
	return card
}

func TestRegisterCardSharesFingerprintAcrossCertificates(t *testing.T) {
	r := NewCardResolver(newTestDB(t))

	a := registerTrout(t, r, "1001")
	b := registerTrout(t, r, "1002")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, "PSA", a.Grader)
	assert.Equal(t, models.CardTypeGraded, a.Type)
	assert.Equal(t, "27", a.CardNumber)
}

func TestRegisterCardReturnsExistingCertificate(t *testing.T) {
	r := NewCardResolver(newTestDB(t))

	first := registerTrout(t, r, "1001")
	again, created, err := r.RegisterCard(context.Background(), models.RegisterCardRequest{
		Grader:     "PSA",
		CertNumber: "1001",
		Player:     "Mike Trout",
		Grade:      "10",
	})
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestRegisterCardValidation(t *testing.T) {
	r := NewCardResolver(newTestDB(t))
	ctx := context.Background()

	_, _, err := r.RegisterCard(ctx, models.RegisterCardRequest{Player: " "})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = r.RegisterCard(ctx, models.RegisterCardRequest{Type: models.CardTypeGraded, Player: "Mike Trout"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolveNamespaces(t *testing.T) {
	r := NewCardResolver(newTestDB(t))
	ctx := context.Background()
	canonical := registerTrout(t, r, "1001")

	price := 250.0
	holding, err := r.AddHolding(ctx, models.AddHoldingRequest{CanonicalCardID: canonical.ID, PurchasePrice: &price})
	require.NoError(t, err)
	consignment, err := r.AddConsignment(ctx, models.AddConsignmentRequest{CanonicalCardID: canonical.ID, SerialNumber: "12/99"})
	require.NoError(t, err)

	tests := []struct {
		id     string
		source models.IDSource
	}{
		{canonical.ID, models.SourceCanonical},
		{holding.ID, models.SourceCollection},
		{consignment.ID, models.SourceConsignment},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			card, err := r.Resolve(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.id, card.ID)
			assert.Equal(t, tt.source, card.Source)
			assert.Equal(t, canonical.ID, card.CanonicalCardID)
			assert.Equal(t, canonical.Fingerprint, card.Fingerprint)
			assert.Equal(t, "2020 Topps Mike Trout #27 PSA 10", card.Title)
		})
	}

	card, err := r.Resolve(ctx, holding.ID)
	require.NoError(t, err)
	require.NotNil(t, card.PurchasePrice)
	assert.Equal(t, 250.0, *card.PurchasePrice)

	card, err = r.Resolve(ctx, consignment.ID)
	require.NoError(t, err)
	assert.Equal(t, "12/99", card.SerialNumber)
}

func TestResolveNotFound(t *testing.T) {
	r := NewCardResolver(newTestDB(t))

	_, err := r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveBatchOmitsUnresolvable(t *testing.T) {
	r := NewCardResolver(newTestDB(t))
	ctx := context.Background()
	canonical := registerTrout(t, r, "1001")
	holding, err := r.AddHolding(ctx, models.AddHoldingRequest{CanonicalCardID: canonical.ID})
	require.NoError(t, err)

	cards, err := r.ResolveBatch(ctx, []string{canonical.ID, "nope", holding.ID, canonical.ID})
	require.NoError(t, err)

	assert.Len(t, cards, 2)
	assert.Contains(t, cards, canonical.ID)
	assert.Contains(t, cards, holding.ID)
	assert.NotContains(t, cards, "nope")
}

func TestAddHoldingUnknownCanonical(t *testing.T) {
	r := NewCardResolver(newTestDB(t))

	_, err := r.AddHolding(context.Background(), models.AddHoldingRequest{CanonicalCardID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePopulation(t *testing.T) {
	db := newTestDB(t)
	r := NewCardResolver(db)
	ctx := context.Background()
	canonical := registerTrout(t, r, "1001")

	require.NoError(t, r.UpdatePopulation(ctx, canonical.ID, models.PopulationUpdate{Population: 812, PopulationHigher: 0, ImageURL: "https://img.test/1001.jpg"}))

	var got models.CanonicalCard
	require.NoError(t, db.First(&got, "id = ?", canonical.ID).Error)
	assert.Equal(t, 812, got.Population)
	assert.Equal(t, "https://img.test/1001.jpg", got.ImageURL)
	assert.NotNil(t, got.PopulationUpdatedAt)
	assert.Equal(t, canonical.Fingerprint, got.Fingerprint)

	assert.ErrorIs(t, r.UpdatePopulation(ctx, "ghost", models.PopulationUpdate{}), ErrNotFound)
}

func TestTouchPricingUpdate(t *testing.T) {
	r := NewCardResolver(newTestDB(t))
	ctx := context.Background()
	canonical := registerTrout(t, r, "1001")
	holding, err := r.AddHolding(ctx, models.AddHoldingRequest{CanonicalCardID: canonical.ID})
	require.NoError(t, err)

	card, err := r.Resolve(ctx, holding.ID)
	require.NoError(t, err)
	assert.Nil(t, card.LastPricingUpdate)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.TouchPricingUpdate(ctx, card, at))

	card, err = r.Resolve(ctx, holding.ID)
	require.NoError(t, err)
	require.NotNil(t, card.LastPricingUpdate)
	assert.True(t, at.Equal(*card.LastPricingUpdate))
}

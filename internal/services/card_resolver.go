package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/models"
)

// resolveStrategy looks up a batch of ids in one identifier namespace. Ids it
// does not know are left out of the returned map.
type resolveStrategy struct {
	source models.IDSource
	lookup func(ctx context.Context, ids []string) (map[string]*models.Card, error)
}

// CardResolver maps item ids from any namespace to the canonical card view.
// Namespaces are tried in priority order: canonical cards, owned items, then
// consignment items.
type CardResolver struct {
	db         *gorm.DB
	strategies []resolveStrategy
}

func NewCardResolver(db *gorm.DB) *CardResolver {
	r := &CardResolver{db: db}
	r.strategies = []resolveStrategy{
		{source: models.SourceCanonical, lookup: r.lookupCanonical},
		{source: models.SourceCollection, lookup: r.lookupCollection},
		{source: models.SourceConsignment, lookup: r.lookupConsignment},
	}
	return r
}

// Resolve returns the card for id or ErrNotFound
func (r *CardResolver) Resolve(ctx context.Context, id string) (*models.Card, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty item id", ErrValidation)
	}

	cards, err := r.ResolveBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	card, ok := cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return card, nil
}

// ResolveBatch resolves every id it can, issuing at most one query per
// namespace. Unresolvable ids are absent from the result.
func (r *CardResolver) ResolveBatch(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	result := make(map[string]*models.Card, len(ids))
	remaining := uniqueNonEmpty(ids)

	for _, strategy := range r.strategies {
		if len(remaining) == 0 {
			break
		}

		found, err := strategy.lookup(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("resolve %s ids: %w", strategy.source, err)
		}

		next := remaining[:0:0]
		for _, id := range remaining {
			if card, ok := found[id]; ok {
				result[id] = card
			} else {
				next = append(next, id)
			}
		}
		remaining = next
	}

	if len(remaining) > 0 {
		logger.DebugCtx(ctx, "Unresolved item ids", zap.Strings("ids", remaining))
	}
	return result, nil
}

func (r *CardResolver) lookupCanonical(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	var cards []models.CanonicalCard
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&cards).Error; err != nil {
		return nil, err
	}

	found := make(map[string]*models.Card, len(cards))
	for i := range cards {
		found[cards[i].ID] = cardView(cards[i].ID, models.SourceCanonical, &cards[i])
	}
	return found, nil
}

func (r *CardResolver) lookupCollection(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	var items []models.CollectionItem
	err := r.db.WithContext(ctx).
		Joins("CanonicalCard").
		Where("collection_items.id IN ?", ids).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	found := make(map[string]*models.Card, len(items))
	for i := range items {
		item := &items[i]
		if item.CanonicalCard.ID == "" {
			continue // dangling holding
		}
		card := cardView(item.ID, models.SourceCollection, &item.CanonicalCard)
		card.PurchasePrice = item.PurchasePrice
		card.SerialNumber = item.SerialNumber
		card.LastPricingUpdate = item.LastPricingUpdate
		found[item.ID] = card
	}
	return found, nil
}

func (r *CardResolver) lookupConsignment(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	var items []models.ConsignmentItem
	err := r.db.WithContext(ctx).
		Joins("CanonicalCard").
		Where("consignment_items.id IN ?", ids).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	found := make(map[string]*models.Card, len(items))
	for i := range items {
		item := &items[i]
		if item.CanonicalCard.ID == "" {
			continue
		}
		card := cardView(item.ID, models.SourceConsignment, &item.CanonicalCard)
		card.SerialNumber = item.SerialNumber
		card.LastPricingUpdate = item.LastPricingUpdate
		found[item.ID] = card
	}
	return found, nil
}

func cardView(id string, source models.IDSource, c *models.CanonicalCard) *models.Card {
	card := &models.Card{
		ID:              id,
		Source:          source,
		CanonicalCardID: c.ID,
		Type:            c.Type,
		Player:          c.Player,
		Year:            c.Year,
		SetName:         c.SetName,
		CardNumber:      c.CardNumber,
		Grade:           c.Grade,
		Grader:          c.Grader,
		Variant:         c.Variant,
		Fingerprint:     c.Fingerprint,
		IsAutograph:     c.IsAutograph,
		PrintRun:        c.PrintRun,
	}
	if c.CertNumber != nil {
		card.CertNumber = *c.CertNumber
	}
	card.Title = cardTitle(card)
	return card
}

// cardTitle renders a human label such as "2020 Topps Mike Trout #27 PSA 10"
func cardTitle(c *models.Card) string {
	var parts []string
	if c.Year > 0 {
		parts = append(parts, fmt.Sprintf("%d", c.Year))
	}
	parts = append(parts, c.SetName, c.Player)
	if c.CardNumber != "" {
		parts = append(parts, "#"+strings.TrimPrefix(c.CardNumber, "#"))
	}
	parts = append(parts, c.Variant)
	if c.IsGraded() {
		parts = append(parts, c.Grader, c.Grade)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// RegisterCard returns the canonical card for a certificate sighting, creating
// it on first sight. Cards without a certificate are matched by fingerprint.
func (r *CardResolver) RegisterCard(ctx context.Context, req models.RegisterCardRequest) (*models.CanonicalCard, bool, error) {
	if strings.TrimSpace(req.Player) == "" {
		return nil, false, fmt.Errorf("%w: player is required", ErrValidation)
	}

	grader := normalizeGrader(req.Grader)
	cert := strings.TrimSpace(req.CertNumber)
	cardType := req.Type
	if cardType == "" {
		cardType = models.CardTypeRaw
		if grader != "" {
			cardType = models.CardTypeGraded
		}
	}
	if cardType == models.CardTypeGraded && (grader == "" || strings.TrimSpace(req.Grade) == "") {
		return nil, false, fmt.Errorf("%w: graded cards need a grader and grade", ErrValidation)
	}

	fingerprint, err := GenerateFingerprint(FingerprintInput{
		Player:     req.Player,
		SetName:    req.SetName,
		Year:       req.Year,
		Grade:      req.Grade,
		CardNumber: req.CardNumber,
		Variant:    req.Variant,
	})
	if err != nil {
		return nil, false, err
	}

	db := r.db.WithContext(ctx)
	existing, err := r.findRegistered(db, grader, cert, fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	card := &models.CanonicalCard{
		Type:        cardType,
		Grader:      grader,
		Player:      strings.TrimSpace(req.Player),
		SetName:     strings.TrimSpace(req.SetName),
		Year:        req.Year,
		CardNumber:  strings.TrimPrefix(strings.TrimSpace(req.CardNumber), "#"),
		Variant:     strings.TrimSpace(req.Variant),
		Grade:       strings.TrimSpace(req.Grade),
		IsAutograph: req.IsAutograph,
		PrintRun:    req.PrintRun,
		Fingerprint: fingerprint,
		ImageURL:    req.ImageURL,
	}
	if cert != "" {
		card.CertNumber = &cert
	}

	if err := db.Create(card).Error; err != nil {
		// Lost a race with another registration of the same certificate
		if existing, findErr := r.findRegistered(db, grader, cert, fingerprint); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create canonical card: %w", err)
	}

	logger.InfoCtx(ctx, "Registered canonical card",
		zap.String("id", card.ID),
		zap.String("fingerprint", card.Fingerprint),
		zap.String("grader", grader),
		zap.String("cert", cert))
	return card, true, nil
}

func (r *CardResolver) findRegistered(db *gorm.DB, grader, cert, fingerprint string) (*models.CanonicalCard, error) {
	var card models.CanonicalCard
	var err error
	if cert != "" {
		err = db.Where("grader = ? AND cert_number = ?", grader, cert).First(&card).Error
	} else {
		err = db.Where("fingerprint = ? AND cert_number IS NULL", fingerprint).First(&card).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// AddHolding records an owned copy of a canonical card
func (r *CardResolver) AddHolding(ctx context.Context, req models.AddHoldingRequest) (*models.CollectionItem, error) {
	if err := r.requireCanonical(ctx, req.CanonicalCardID); err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	item := &models.CollectionItem{
		CanonicalCardID: req.CanonicalCardID,
		PurchasePrice:   req.PurchasePrice,
		SerialNumber:    strings.TrimSpace(req.SerialNumber),
		Quantity:        quantity,
		Notes:           req.Notes,
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to add holding: %w", err)
	}
	return item, nil
}

// AddConsignment records a copy handed over for sale
func (r *CardResolver) AddConsignment(ctx context.Context, req models.AddConsignmentRequest) (*models.ConsignmentItem, error) {
	if err := r.requireCanonical(ctx, req.CanonicalCardID); err != nil {
		return nil, err
	}

	item := &models.ConsignmentItem{
		CanonicalCardID: req.CanonicalCardID,
		AskingPrice:     req.AskingPrice,
		SerialNumber:    strings.TrimSpace(req.SerialNumber),
		Status:          models.ConsignmentPending,
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to add consignment: %w", err)
	}
	return item, nil
}

func (r *CardResolver) requireCanonical(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CanonicalCard{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("canonical card %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdatePopulation refreshes the only mutable part of a canonical card
func (r *CardResolver) UpdatePopulation(ctx context.Context, canonicalID string, update models.PopulationUpdate) error {
	now := time.Now()
	updates := map[string]interface{}{
		"population":            update.Population,
		"population_higher":     update.PopulationHigher,
		"population_updated_at": &now,
	}
	if len(update.AuthMetadata) > 0 {
		updates["auth_metadata"] = update.AuthMetadata
	}
	if update.ImageURL != "" {
		updates["image_url"] = update.ImageURL
	}

	result := r.db.WithContext(ctx).Model(&models.CanonicalCard{}).Where("id = ?", canonicalID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update population: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchPricingUpdate stamps last_pricing_update on the holding the card was
// resolved through. Canonical ids have no holding and are skipped.
func (r *CardResolver) TouchPricingUpdate(ctx context.Context, card *models.Card, at time.Time) error {
	var model interface{}
	switch card.Source {
	case models.SourceCollection:
		model = &models.CollectionItem{}
	case models.SourceConsignment:
		model = &models.ConsignmentItem{}
	default:
		return nil
	}
	return r.db.WithContext(ctx).Model(model).Where("id = ?", card.ID).Update("last_pricing_update", at).Error
}

var graderAliases = map[string]string{
	"BECKETT": "BGS",
	"CSG":     "CGC",
}

func normalizeGrader(g string) string {
	g = strings.ToUpper(strings.TrimSpace(g))
	if alias, ok := graderAliases[g]; ok {
		return alias
	}
	return g
}

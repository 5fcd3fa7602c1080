package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

// MaxBatchSize bounds how many ids one batched snapshot read may ask for
const MaxBatchSize = 50

// QuotaReporter exposes the marketplace daily quota
type QuotaReporter interface {
	RequestsRemaining() int
	DailyLimit() int
}

// MarketService serves market snapshots through the snapshot cache
type MarketService struct {
	resolver    *CardResolver
	sales       *SalesStore
	pricing     *PricingCalculator
	cache       *SnapshotCache
	refresher   *RefreshOrchestrator
	quota       QuotaReporter
	autoOnEmpty bool
	now         func() time.Time
}

// MarketStatus is the operational summary returned by the status endpoint
type MarketStatus struct {
	Refresh          RefreshStats `json:"refresh"`
	CacheEntries     int          `json:"cache_entries"`
	QuotaRemaining   int          `json:"marketplace_requests_remaining"`
	QuotaDailyLimit  int          `json:"marketplace_daily_limit"`
	AutoRefreshEmpty bool         `json:"auto_refresh_on_empty"`
}

// CashSaleResult is the stored cash sale and whether it was new
type CashSaleResult struct {
	Sale      models.SaleRecord `json:"sale"`
	Duplicate bool              `json:"duplicate"`
}

// NewMarketService wires the read path. refresher and quota may be nil.
func NewMarketService(
	resolver *CardResolver,
	sales *SalesStore,
	pricing *PricingCalculator,
	cache *SnapshotCache,
	refresher *RefreshOrchestrator,
	quota QuotaReporter,
	autoOnEmpty bool,
) *MarketService {
	return &MarketService{
		resolver:    resolver,
		sales:       sales,
		pricing:     pricing,
		cache:       cache,
		refresher:   refresher,
		quota:       quota,
		autoOnEmpty: autoOnEmpty,
		now:         time.Now,
	}
}

// GetSnapshot returns the cached snapshot for id or computes it from stored sales
func (s *MarketService) GetSnapshot(ctx context.Context, id string, opts SnapshotOptions) (*models.MarketSnapshot, error) {
	opts = opts.Normalized()
	if snap, ok := s.cache.Get(id, opts); ok {
		return snap, nil
	}
	gen := s.cache.Generation()

	card, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	sales, err := s.sales.GetSales(ctx, card.Fingerprint)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, id, card, sales, opts, gen), nil
}

// GetSnapshotBatch serves cache hits and computes every miss from one batched
// sales read. Ids that do not resolve map to nil.
func (s *MarketService) GetSnapshotBatch(ctx context.Context, ids []string, opts SnapshotOptions) (map[string]*models.MarketSnapshot, error) {
	ids = uniqueNonEmpty(ids)
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: at most %d ids per batch, got %d", ErrValidation, MaxBatchSize, len(ids))
	}
	opts = opts.Normalized()

	result := make(map[string]*models.MarketSnapshot, len(ids))
	var misses []string
	for _, id := range ids {
		if snap, ok := s.cache.Get(id, opts); ok {
			result[id] = snap
			continue
		}
		result[id] = nil
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return result, nil
	}
	gen := s.cache.Generation()

	cards, err := s.resolver.ResolveBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	fingerprints := make([]string, 0, len(cards))
	for _, card := range cards {
		fingerprints = append(fingerprints, card.Fingerprint)
	}
	salesByFP, err := s.sales.GetSalesBatch(ctx, fingerprints)
	if err != nil {
		return nil, err
	}

	for _, id := range misses {
		card, ok := cards[id]
		if !ok {
			continue
		}
		result[id] = s.compute(ctx, id, card, salesByFP[card.Fingerprint], opts, gen)
	}

	logger.DebugCtx(ctx, "Snapshot batch served",
		zap.Int("requested", len(ids)),
		zap.Int("cache_hits", len(ids)-len(misses)),
		zap.Int("resolved", len(cards)))
	return result, nil
}

// compute prices sales read at cache generation gen. The snapshot is returned
// either way but only cached when no purge happened since.
func (s *MarketService) compute(ctx context.Context, id string, card *models.Card, sales []models.SaleRecord, opts SnapshotOptions, gen uint64) *models.MarketSnapshot {
	start := time.Now()
	snap := s.pricing.Compute(id, card.Fingerprint, sales, opts)
	metrics.SnapshotComputeDuration.Observe(time.Since(start).Seconds())

	if !s.cache.SetIfCurrent(id, opts, snap, gen) {
		logger.DebugCtx(ctx, "Snapshot not cached, purged during read", zap.String("item_id", id))
	}
	if snap.SalesCount == 0 {
		s.autoRefresh(ctx, id)
	}
	return snap
}

// autoRefresh schedules a background refresh for a card with no stored sales
func (s *MarketService) autoRefresh(ctx context.Context, id string) {
	if !s.autoOnEmpty || s.refresher == nil {
		return
	}
	res, err := s.refresher.ScheduleRefresh(ctx, id, RefreshOptions{UseAIFiltering: true})
	if err != nil {
		logger.WarnCtx(ctx, "Auto refresh not scheduled", zap.String("item_id", id), zap.Error(err))
		return
	}
	logger.DebugCtx(ctx, "Auto refresh for empty snapshot", zap.String("item_id", id), zap.String("message", res.Message))
}

// PurgeCache drops cached snapshots by id (every history variant) or by key
// substring. Returns the number of entries removed.
func (s *MarketService) PurgeCache(ctx context.Context, ids []string, pattern string) (int, error) {
	ids = uniqueNonEmpty(ids)
	pattern = strings.TrimSpace(pattern)
	if len(ids) == 0 && pattern == "" {
		return 0, fmt.Errorf("%w: ids or pattern required", ErrValidation)
	}

	removed := s.cache.PurgeIDs(ids) + s.cache.PurgePattern(pattern)
	logger.InfoCtx(ctx, "Snapshot cache purged",
		zap.Strings("ids", ids),
		zap.String("pattern", pattern),
		zap.Int("removed", removed))
	return removed, nil
}

// RecordCashSale stores an off-marketplace sale for the card's fingerprint.
// Cash sales are unverified and carry half weight in the average.
func (s *MarketService) RecordCashSale(ctx context.Context, id string, req models.CashSaleRequest) (*CashSaleResult, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	card, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	soldAt := req.SoldAt
	if soldAt.IsZero() {
		soldAt = s.now()
	}
	if soldAt.After(s.now()) {
		return nil, fmt.Errorf("%w: sold_at is in the future", ErrValidation)
	}

	title := card.Title + " (cash sale)"
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		title += " - " + notes
	}
	sale := models.SaleRecord{
		Fingerprint:      card.Fingerprint,
		Title:            title,
		FinalPrice:       req.Price,
		TotalPrice:       req.Price,
		SoldAt:           models.NormalizeSoldAt(soldAt),
		ListingType:      models.ListingCash,
		Verified:         false,
		FilterProvenance: models.ProvenanceManual,
	}

	inserted, err := s.sales.InsertSales(ctx, card.Fingerprint, []models.SaleRecord{sale})
	if err != nil {
		return nil, err
	}
	s.cache.PurgeIDs([]string{id, card.CanonicalCardID})

	logger.InfoCtx(ctx, "Cash sale recorded",
		zap.String("item_id", id),
		zap.Float64("price", req.Price),
		zap.Bool("duplicate", inserted.Saved == 0))
	return &CashSaleResult{Sale: sale, Duplicate: inserted.Saved == 0}, nil
}

// Status reports refresh, cache and quota state
func (s *MarketService) Status() MarketStatus {
	status := MarketStatus{
		CacheEntries:     s.cache.Len(),
		AutoRefreshEmpty: s.autoOnEmpty,
	}
	if s.refresher != nil {
		status.Refresh = s.refresher.Stats()
	}
	if s.quota != nil {
		status.QuotaRemaining = s.quota.RequestsRemaining()
		status.QuotaDailyLimit = s.quota.DailyLimit()
	}
	return status
}

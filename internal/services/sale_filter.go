package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

// Reason codes recorded whenever AI filtering is skipped or falls back
const (
	AIReasonDisabled      = "ai_disabled"
	AIReasonNotConfigured = "ai_not_configured"
	AIReasonNetwork       = "ai_network_error"
	AIReasonUpstream      = "ai_upstream_error"
	AIReasonBadResponse   = "ai_bad_response"
	AIReasonNoCandidates  = "no_candidates"
)

// FilterRequest carries the candidate listings for one target card
type FilterRequest struct {
	Card     *models.Card
	Target   TargetProfile
	Listings []models.RawListing
}

// SaleFilter narrows candidate listings down to those that are the target card
//
//go:generate mockgen -source=sale_filter.go -destination=../mocks/sale_filter.go -package=mocks -mock_names=SaleFilter=MockSaleFilter
type SaleFilter interface {
	Filter(ctx context.Context, req FilterRequest) ([]models.RawListing, error)
}

// AIFilterError is returned by AI-backed filters and carries a reason code
type AIFilterError struct {
	Reason string
	Err    error
}

func (e *AIFilterError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *AIFilterError) Unwrap() error { return e.Err }

// Is lets callers match every AI filter failure against ErrUpstreamUnavailable
func (e *AIFilterError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func aiError(reason string, err error) error {
	return &AIFilterError{Reason: reason, Err: err}
}

// RulesFilter applies the rule-based listing predicate
type RulesFilter struct {
	Relaxed bool
}

func (f RulesFilter) Filter(_ context.Context, req FilterRequest) ([]models.RawListing, error) {
	var predicate *ListingFilter
	if f.Relaxed {
		predicate = NewRelaxedListingFilter(req.Target)
	} else {
		predicate = NewListingFilter(req.Target)
	}

	kept := make([]models.RawListing, 0, len(req.Listings))
	for _, l := range req.Listings {
		if reason := predicate.Check(l.Title); reason != "" {
			metrics.ListingsFiltered.WithLabelValues("rejected").Inc()
			continue
		}
		metrics.ListingsFiltered.WithLabelValues("accepted").Inc()
		kept = append(kept, l)
	}
	return kept, nil
}

// FilterOutcome is the kept set plus how it was decided
type FilterOutcome struct {
	Listings   []models.RawListing
	Provenance models.FilterProvenance
	Reason     string // non-empty when the AI step was skipped or failed
}

// FallbackFilter tries the primary (AI) filter and falls back to the rule
// filter on any error. A nil primary counts as not configured.
type FallbackFilter struct {
	primary  SaleFilter
	fallback SaleFilter
}

func NewFallbackFilter(primary, fallback SaleFilter) *FallbackFilter {
	if fallback == nil {
		fallback = RulesFilter{Relaxed: true}
	}
	return &FallbackFilter{primary: primary, fallback: fallback}
}

// Apply never fails; the worst case is the fallback's output tagged rules-only
func (f *FallbackFilter) Apply(ctx context.Context, req FilterRequest) FilterOutcome {
	if len(req.Listings) == 0 {
		return f.skip(ctx, req, AIReasonNoCandidates)
	}
	if f.primary == nil {
		return f.fallbackOutcome(ctx, req, AIReasonNotConfigured)
	}

	kept, err := f.primary.Filter(ctx, req)
	if err != nil {
		reason := AIReasonUpstream
		var aiErr *AIFilterError
		if errors.As(err, &aiErr) {
			reason = aiErr.Reason
		}
		logger.WarnCtx(ctx, "AI sale filter failed, falling back to rules",
			zap.String("item_id", itemID(req.Card)),
			zap.String("reason", reason),
			zap.Error(err))
		return f.fallbackOutcome(ctx, req, reason)
	}

	metrics.AIFilterTotal.WithLabelValues(string(models.ProvenanceAIEnhanced)).Inc()
	return FilterOutcome{Listings: kept, Provenance: models.ProvenanceAIEnhanced}
}

func (f *FallbackFilter) fallbackOutcome(ctx context.Context, req FilterRequest, reason string) FilterOutcome {
	kept, err := f.fallback.Filter(ctx, req)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("item_id", itemID(req.Card)))
		kept = req.Listings
	}
	metrics.AIFilterTotal.WithLabelValues(string(models.ProvenanceRulesOnly)).Inc()
	return f.skip(ctx, FilterRequest{Card: req.Card, Listings: kept}, reason)
}

func (f *FallbackFilter) skip(ctx context.Context, req FilterRequest, reason string) FilterOutcome {
	RecordAISkip(ctx, req.Card, reason)
	return FilterOutcome{Listings: req.Listings, Provenance: models.ProvenanceRulesOnly, Reason: reason}
}

// RecordAISkip logs and counts a reason code for AI filtering not being used
func RecordAISkip(ctx context.Context, card *models.Card, reason string) {
	metrics.AIFilterFallbacks.WithLabelValues(reason).Inc()
	logger.InfoCtx(ctx, "AI sale filter skipped", zap.String("item_id", itemID(card)), zap.String("reason", reason))
}

func itemID(card *models.Card) string {
	if card == nil {
		return ""
	}
	return card.ID
}

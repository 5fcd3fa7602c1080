package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

const (
	defaultRefreshWorkers   = 4
	defaultRefreshQueueSize = 256
	defaultRefreshMinDelay  = 2 * time.Second
	defaultRefreshMaxDelay  = 5 * time.Second
	refreshErrorBuffer      = 64
)

// RefreshOptions controls one scheduled refresh
type RefreshOptions struct {
	UseAIFiltering bool
	Delay          time.Duration
	RandomizeDelay bool // pick a delay between the configured min and max
}

// ScheduleResult reports what ScheduleRefresh did with the request
type ScheduleResult struct {
	Instant bool   `json:"instant"`
	Message string `json:"message"`

	// Task is nil unless a new refresh was scheduled
	Task *ScheduledRefresh `json:"-"`
}

// ScheduledRefresh completes once a delayed refresh has run, been dropped or
// been cancelled
type ScheduledRefresh struct {
	done chan struct{}
	err  error
}

// Wait blocks until the refresh finishes and returns its error
func (s *ScheduledRefresh) Wait() error {
	<-s.done
	return s.err
}

// Done is closed when the refresh finishes
func (s *ScheduledRefresh) Done() <-chan struct{} {
	return s.done
}

// RefreshResult summarises one run of the acquisition pipeline
type RefreshResult struct {
	ItemID               string                  `json:"item_id"`
	SalesCount           int                     `json:"sales_count"`
	SavedCount           int                     `json:"saved_count"`
	TotalSalesInDatabase int64                   `json:"total_sales_in_database"`
	SearchTermUsed       string                  `json:"search_term_used"`
	AIReason             string                  `json:"ai_reason,omitempty"`
	FilterProvenance     models.FilterProvenance `json:"filter_provenance"`
}

// RefreshError is delivered on the Errors channel when a background refresh fails
type RefreshError struct {
	ItemID string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.ItemID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// RefreshStats is a point-in-time view of the orchestrator
type RefreshStats struct {
	Pending        int    `json:"pending"`
	RunningWorkers int64  `json:"running_workers"`
	WaitingTasks   uint64 `json:"waiting_tasks"`
	CompletedTasks uint64 `json:"completed_tasks"`
	FailedTasks    uint64 `json:"failed_tasks"`
	DroppedTasks   uint64 `json:"dropped_tasks"`
}

// RefreshOrchestrator pulls marketplace sales for a card, filters them, stores
// the new ones and invalidates cached snapshots. At most one background
// refresh per item id is pending at a time. Delays elapse outside the worker
// pool and submits never block; a full queue drops the refresh.
type RefreshOrchestrator struct {
	ctx      context.Context
	resolver *CardResolver
	sales    *SalesStore
	search   MarketplaceSearcher
	filter   *FallbackFilter
	cache    *SnapshotCache
	pool     pond.Pool
	minDelay time.Duration
	maxDelay time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}
	delays  sync.WaitGroup

	errs chan error
}

// NewRefreshOrchestrator starts a worker pool bound to ctx. ai may be nil when
// no AI filter is configured; refreshes asking for one then fall back to rules.
func NewRefreshOrchestrator(
	ctx context.Context,
	cfg config.RefreshConfig,
	resolver *CardResolver,
	sales *SalesStore,
	search MarketplaceSearcher,
	ai SaleFilter,
	cache *SnapshotCache,
) *RefreshOrchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultRefreshWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultRefreshQueueSize
	}
	minDelay, maxDelay := cfg.MinDelay, cfg.MaxDelay
	if minDelay <= 0 && maxDelay <= 0 {
		minDelay, maxDelay = defaultRefreshMinDelay, defaultRefreshMaxDelay
	}
	maxDelay = max(maxDelay, minDelay)

	pool := pond.NewPool(
		workers,
		pond.WithQueueSize(queueSize),
		pond.WithContext(ctx),
		pond.WithNonBlocking(true),
	)

	logger.InfoCtx(ctx, "Refresh worker pool created",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize),
		zap.Duration("min_delay", minDelay),
		zap.Duration("max_delay", maxDelay))

	return &RefreshOrchestrator{
		ctx:      ctx,
		resolver: resolver,
		sales:    sales,
		search:   search,
		filter:   NewFallbackFilter(ai, RulesFilter{Relaxed: true}),
		cache:    cache,
		pool:     pool,
		minDelay: minDelay,
		maxDelay: maxDelay,
		now:      time.Now,
		pending:  make(map[string]struct{}),
		errs:     make(chan error, refreshErrorBuffer),
	}
}

// Errors delivers background refresh failures. Errors are dropped when
// nobody drains the channel.
func (o *RefreshOrchestrator) Errors() <-chan error {
	return o.errs
}

// ScheduleRefresh queues a background refresh for id. When sales are already
// stored for the card's fingerprint it returns instantly without searching.
func (o *RefreshOrchestrator) ScheduleRefresh(ctx context.Context, id string, opts RefreshOptions) (*ScheduleResult, error) {
	card, err := o.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	stored, err := o.sales.CountSales(ctx, card.Fingerprint)
	if err != nil {
		return nil, err
	}
	if stored > 0 {
		metrics.RefreshTotal.WithLabelValues("instant").Inc()
		return &ScheduleResult{
			Instant: true,
			Message: fmt.Sprintf("%d sales already stored for this card", stored),
		}, nil
	}

	if !o.markPending(id) {
		metrics.RefreshTotal.WithLabelValues("coalesced").Inc()
		return &ScheduleResult{Message: "refresh already pending"}, nil
	}

	delay := o.delayFor(opts)
	handle := &ScheduledRefresh{done: make(chan struct{})}
	o.delays.Add(1)
	go o.runScheduled(id, delay, opts.UseAIFiltering, handle)

	metrics.RefreshTotal.WithLabelValues("scheduled").Inc()
	logger.InfoCtx(ctx, "Refresh scheduled",
		zap.String("item_id", id),
		zap.Duration("delay", delay),
		zap.Bool("ai", opts.UseAIFiltering))

	return &ScheduleResult{
		Message: fmt.Sprintf("refresh scheduled in %s", delay.Round(time.Millisecond)),
		Task:    handle,
	}, nil
}

// runScheduled waits out the delay, then hands the refresh to the pool,
// detached from the request that scheduled it. The item stays pending until
// the refresh finishes or is dropped.
func (o *RefreshOrchestrator) runScheduled(id string, delay time.Duration, useAI bool, handle *ScheduledRefresh) {
	defer o.delays.Done()
	defer close(handle.done)
	defer o.clearPending(id)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-o.ctx.Done():
			timer.Stop()
			handle.err = o.ctx.Err()
			return
		case <-timer.C:
		}
	}

	task := o.pool.SubmitErr(func() error {
		_, err := o.RefreshNow(o.ctx, id, useAI)
		return err
	})
	handle.err = task.Wait()

	switch {
	case handle.err == nil, o.ctx.Err() != nil:
		// shutting down
	case errors.Is(handle.err, pond.ErrQueueFull), errors.Is(handle.err, pond.ErrPoolStopped):
		metrics.RefreshTotal.WithLabelValues("dropped").Inc()
		o.reportError(&RefreshError{ItemID: id, Err: handle.err})
	default:
		o.reportError(&RefreshError{ItemID: id, Err: handle.err})
	}
}

func (o *RefreshOrchestrator) reportError(err *RefreshError) {
	logger.Error(err, zap.String("item_id", err.ItemID))
	select {
	case o.errs <- err:
	default:
		logger.Warn("Refresh error channel full, dropping error", zap.String("item_id", err.ItemID))
	}
}

func (o *RefreshOrchestrator) delayFor(opts RefreshOptions) time.Duration {
	if !opts.RandomizeDelay {
		return max(opts.Delay, 0)
	}
	spread := int64(o.maxDelay - o.minDelay)
	if spread <= 0 {
		return o.minDelay
	}
	return o.minDelay + time.Duration(rand.Int63n(spread+1))
}

func (o *RefreshOrchestrator) markPending(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[id]; ok {
		return false
	}
	o.pending[id] = struct{}{}
	metrics.RefreshPending.Set(float64(len(o.pending)))
	return true
}

func (o *RefreshOrchestrator) clearPending(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.pending, id)
	metrics.RefreshPending.Set(float64(len(o.pending)))
}

// IsPending reports whether a background refresh for id is queued or running
func (o *RefreshOrchestrator) IsPending(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[id]
	return ok
}

// RefreshNow runs the acquisition pipeline synchronously:
// search, strict rules, optional AI re-filter, insert, cache purge.
// A failed marketplace search is treated as zero results.
func (o *RefreshOrchestrator) RefreshNow(ctx context.Context, id string, useAI bool) (*RefreshResult, error) {
	start := time.Now()
	defer func() {
		metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}()

	card, err := o.resolver.Resolve(ctx, id)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if card.Fingerprint == "" {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: card %s has no fingerprint", ErrInsufficientData, id)
	}

	term := BuildSearchTerm(card)
	result := &RefreshResult{ItemID: id, SearchTermUsed: term, FilterProvenance: models.ProvenanceRulesOnly}

	listings, err := o.search.SearchSold(ctx, term, MaxSearchResults)
	if err != nil {
		logger.WarnCtx(ctx, "Marketplace search failed, no sales found",
			zap.String("item_id", id),
			zap.String("query", term),
			zap.Error(err))
		listings = nil
	}
	if len(listings) > MaxSearchResults {
		listings = listings[:MaxSearchResults]
	}

	req := FilterRequest{Card: card, Target: NewTargetProfile(card), Listings: listings}
	strict, err := RulesFilter{}.Filter(ctx, req)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	req.Listings = strict

	kept := req.Listings
	if useAI {
		outcome := o.filter.Apply(ctx, req)
		kept = outcome.Listings
		result.FilterProvenance = outcome.Provenance
		result.AIReason = outcome.Reason
	} else {
		RecordAISkip(ctx, card, AIReasonDisabled)
		result.AIReason = AIReasonDisabled
	}
	result.SalesCount = len(kept)

	records := make([]models.SaleRecord, 0, len(kept))
	for _, l := range kept {
		records = append(records, l.ToSaleRecord(card.Fingerprint, result.FilterProvenance))
	}
	inserted, err := o.sales.InsertSales(ctx, card.Fingerprint, records)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	result.SavedCount = inserted.Saved

	if result.TotalSalesInDatabase, err = o.sales.CountSales(ctx, card.Fingerprint); err != nil {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	o.cache.PurgeIDs([]string{id, card.CanonicalCardID})

	if err := o.resolver.TouchPricingUpdate(ctx, card, o.now()); err != nil {
		logger.WarnCtx(ctx, "Failed to stamp last pricing update", zap.String("item_id", id), zap.Error(err))
	}

	metrics.RefreshTotal.WithLabelValues("completed").Inc()
	logger.InfoCtx(ctx, "Refresh completed",
		zap.String("item_id", id),
		zap.String("query", term),
		zap.Int("candidates", len(listings)),
		zap.Int("kept", result.SalesCount),
		zap.Int("saved", result.SavedCount),
		zap.Int64("total", result.TotalSalesInDatabase),
		zap.String("provenance", string(result.FilterProvenance)))
	return result, nil
}

// Stats reports pending refreshes and pool counters
func (o *RefreshOrchestrator) Stats() RefreshStats {
	o.mu.Lock()
	pending := len(o.pending)
	o.mu.Unlock()

	return RefreshStats{
		Pending:        pending,
		RunningWorkers: o.pool.RunningWorkers(),
		WaitingTasks:   o.pool.WaitingTasks(),
		CompletedTasks: o.pool.CompletedTasks(),
		FailedTasks:    o.pool.FailedTasks(),
		DroppedTasks:   o.pool.DroppedTasks(),
	}
}

// Stop waits for delayed, queued and running refreshes to finish. Cancelling
// the orchestrator's context first abandons refreshes still in their delay.
func (o *RefreshOrchestrator) Stop() {
	logger.Info("Shutting down refresh worker pool",
		zap.Uint64("submitted", o.pool.SubmittedTasks()),
		zap.Uint64("waiting", o.pool.WaitingTasks()))

	o.delays.Wait()
	o.pool.StopAndWait()

	logger.Info("Refresh worker pool shutdown complete",
		zap.Uint64("completed", o.pool.CompletedTasks()),
		zap.Uint64("failed", o.pool.FailedTasks()))
}

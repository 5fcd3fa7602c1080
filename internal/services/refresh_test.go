package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/database"
	"github.com/codyseavey/slab-market/internal/mocks"
	"github.com/codyseavey/slab-market/internal/models"
	"github.com/codyseavey/slab-market/internal/services"
)

type refreshEnv struct {
	db       *gorm.DB
	resolver *services.CardResolver
	sales    *services.SalesStore
	cache    *services.SnapshotCache
	search   *mocks.MockMarketplaceSearcher
	ai       *mocks.MockSaleFilter
	orch     *services.RefreshOrchestrator
	card     *models.CanonicalCard
}

func newRefreshEnv(t *testing.T) *refreshEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	db, err := database.OpenMemory(uuid.New().String())
	require.NoError(t, err)
	cache, err := services.NewSnapshotCache(config.CacheConfig{})
	require.NoError(t, err)

	env := &refreshEnv{
		db:       db,
		resolver: services.NewCardResolver(db),
		sales:    services.NewSalesStore(db),
		cache:    cache,
		search:   mocks.NewMockMarketplaceSearcher(ctrl),
		ai:       mocks.NewMockSaleFilter(ctrl),
	}
	env.orch = services.NewRefreshOrchestrator(
		context.Background(),
		config.RefreshConfig{Workers: 2, MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		env.resolver, env.sales, env.search, env.ai, env.cache,
	)
	t.Cleanup(env.orch.Stop)

	env.card, _, err = env.resolver.RegisterCard(context.Background(), models.RegisterCardRequest{
		Grader:     "PSA",
		CertNumber: "12345678",
		Player:     "Mike Trout",
		SetName:    "Topps",
		Year:       2020,
		CardNumber: "27",
		Grade:      "10",
	})
	require.NoError(t, err)
	return env
}

func (e *refreshEnv) registerCard(t *testing.T, cert string) *models.CanonicalCard {
	t.Helper()
	card, _, err := e.resolver.RegisterCard(context.Background(), models.RegisterCardRequest{
		Grader:     "PSA",
		CertNumber: cert,
		Player:     "Mike Trout",
		SetName:    "Topps",
		Year:       2020,
		CardNumber: "27",
		Grade:      "10",
	})
	require.NoError(t, err)
	return card
}

// troutListings has two listings that pass the strict rules and two that do not
func troutListings() []models.RawListing {
	soldAt := time.Now().Add(-48 * time.Hour)
	return []models.RawListing{
		{Title: "2020 Topps Mike Trout #27 PSA 10", Price: 100, Shipping: 5, SoldAt: soldAt, ListingType: "Auction"},
		{Title: "2020 TOPPS MIKE TROUT 27 PSA 10 GEM MINT", Price: 120, SoldAt: soldAt},
		{Title: "2020 Topps Mike Trout #27 PSA 9", Price: 40, SoldAt: soldAt},
		{Title: "2020 Topps Mike Trout #27 BGS 9.5", Price: 90, SoldAt: soldAt},
	}
}

func TestScheduleRefreshInstantWhenSalesStored(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	_, err := env.sales.InsertSales(ctx, env.card.Fingerprint, []models.SaleRecord{
		troutListings()[0].ToSaleRecord(env.card.Fingerprint, models.ProvenanceRulesOnly),
	})
	require.NoError(t, err)

	// no SearchSold expectation: any marketplace call fails the test
	res, err := env.orch.ScheduleRefresh(ctx, env.card.ID, services.RefreshOptions{})
	require.NoError(t, err)
	assert.True(t, res.Instant)
	assert.Nil(t, res.Task)
	assert.False(t, env.orch.IsPending(env.card.ID))
}

func TestScheduleRefreshUnknownID(t *testing.T) {
	env := newRefreshEnv(t)

	_, err := env.orch.ScheduleRefresh(context.Background(), "missing", services.RefreshOptions{})
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestScheduleRefreshCoalesces(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	env.search.EXPECT().
		SearchSold(gomock.Any(), "2020 Topps Mike Trout #27 PSA 10", services.MaxSearchResults).
		Return(troutListings(), nil).
		Times(1)

	first, err := env.orch.ScheduleRefresh(ctx, env.card.ID, services.RefreshOptions{Delay: 100 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, first.Task)
	assert.False(t, first.Instant)
	assert.True(t, env.orch.IsPending(env.card.ID))

	second, err := env.orch.ScheduleRefresh(ctx, env.card.ID, services.RefreshOptions{Delay: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, second.Instant)
	assert.Nil(t, second.Task)
	assert.Equal(t, "refresh already pending", second.Message)

	require.NoError(t, first.Task.Wait())
	assert.False(t, env.orch.IsPending(env.card.ID))

	count, err := env.sales.CountSales(ctx, env.card.Fingerprint)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestScheduleRefreshRandomizedDelay(t *testing.T) {
	env := newRefreshEnv(t)

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	start := time.Now()
	res, err := env.orch.ScheduleRefresh(context.Background(), env.card.ID, services.RefreshOptions{RandomizeDelay: true})
	require.NoError(t, err)
	require.NoError(t, res.Task.Wait())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestScheduledRefreshReportsErrors(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	res, err := env.orch.ScheduleRefresh(ctx, env.card.ID, services.RefreshOptions{Delay: 50 * time.Millisecond})
	require.NoError(t, err)

	// the card disappears before the delayed refresh runs
	require.NoError(t, env.db.Delete(&models.CanonicalCard{}, "id = ?", env.card.ID).Error)

	assert.ErrorIs(t, res.Task.Wait(), services.ErrNotFound)
	select {
	case err := <-env.orch.Errors():
		var refreshErr *services.RefreshError
		require.True(t, errors.As(err, &refreshErr))
		assert.Equal(t, env.card.ID, refreshErr.ItemID)
		assert.ErrorIs(t, err, services.ErrNotFound)
	default:
		t.Fatal("expected a refresh error")
	}
}

func TestScheduleRefreshNeverBlocksCaller(t *testing.T) {
	env := newRefreshEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	orch := services.NewRefreshOrchestrator(ctx,
		config.RefreshConfig{Workers: 1, QueueSize: 1, MinDelay: 200 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
		env.resolver, env.sales, env.search, nil, env.cache,
	)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})
	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	for i := 0; i < 4; i++ {
		card := env.registerCard(t, fmt.Sprintf("9000000%d", i))

		start := time.Now()
		res, err := orch.ScheduleRefresh(ctx, card.ID, services.RefreshOptions{RandomizeDelay: true})
		require.NoError(t, err)
		require.NotNil(t, res.Task)
		assert.Less(t, time.Since(start), 50*time.Millisecond, "schedule #%d blocked", i+1)
	}
	assert.Equal(t, 4, orch.Stats().Pending)
}

func TestScheduledRefreshDroppedWhenQueueFull(t *testing.T) {
	env := newRefreshEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	orch := services.NewRefreshOrchestrator(ctx,
		config.RefreshConfig{Workers: 1, QueueSize: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		env.resolver, env.sales, env.search, nil, env.cache,
	)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, int) ([]models.RawListing, error) {
			started <- struct{}{}
			<-release
			return nil, nil
		}).
		AnyTimes()

	a := env.registerCard(t, "80000001")
	b := env.registerCard(t, "80000002")
	c := env.registerCard(t, "80000003")

	running, err := orch.ScheduleRefresh(ctx, a.ID, services.RefreshOptions{})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never started")
	}

	queued, err := orch.ScheduleRefresh(ctx, b.ID, services.RefreshOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return orch.Stats().WaitingTasks == 1
	}, 2*time.Second, 5*time.Millisecond)

	dropped, err := orch.ScheduleRefresh(ctx, c.ID, services.RefreshOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, dropped.Task.Wait(), pond.ErrQueueFull)
	assert.False(t, orch.IsPending(c.ID))
	select {
	case err := <-orch.Errors():
		var refreshErr *services.RefreshError
		require.True(t, errors.As(err, &refreshErr))
		assert.Equal(t, c.ID, refreshErr.ItemID)
		assert.ErrorIs(t, err, pond.ErrQueueFull)
	default:
		t.Fatal("expected the dropped refresh to be reported")
	}

	close(release)
	require.NoError(t, running.Task.Wait())
	require.NoError(t, queued.Task.Wait())
	assert.EqualValues(t, 1, orch.Stats().DroppedTasks)
	assert.Equal(t, 0, orch.Stats().Pending)
}

func TestRefreshNowRulesOnly(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(troutListings(), nil)
	env.cache.Set(env.card.ID, services.SnapshotOptions{}, &models.MarketSnapshot{ItemID: env.card.ID})

	res, err := env.orch.RefreshNow(ctx, env.card.ID, false)
	require.NoError(t, err)

	assert.Equal(t, "2020 Topps Mike Trout #27 PSA 10", res.SearchTermUsed)
	assert.Equal(t, 2, res.SalesCount)
	assert.Equal(t, 2, res.SavedCount)
	assert.EqualValues(t, 2, res.TotalSalesInDatabase)
	assert.Equal(t, services.AIReasonDisabled, res.AIReason)
	assert.Equal(t, models.ProvenanceRulesOnly, res.FilterProvenance)
	assert.Equal(t, 0, env.cache.Len())

	sales, err := env.sales.GetSales(ctx, env.card.Fingerprint)
	require.NoError(t, err)
	for _, s := range sales {
		assert.True(t, s.Verified)
		assert.Equal(t, models.ProvenanceRulesOnly, s.FilterProvenance)
	}

	// a second run finds the same listings and stores nothing new
	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(troutListings(), nil)
	again, err := env.orch.RefreshNow(ctx, env.card.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.SavedCount)
	assert.EqualValues(t, 2, again.TotalSalesInDatabase)
}

func TestRefreshNowAIEnhanced(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()
	listings := troutListings()

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(listings, nil)
	env.ai.EXPECT().Filter(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req services.FilterRequest) ([]models.RawListing, error) {
			// the AI only sees what the strict rules kept
			assert.Len(t, req.Listings, 2)
			return req.Listings[:1], nil
		})

	res, err := env.orch.RefreshNow(ctx, env.card.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SavedCount)
	assert.Empty(t, res.AIReason)
	assert.Equal(t, models.ProvenanceAIEnhanced, res.FilterProvenance)

	sales, err := env.sales.GetSales(ctx, env.card.Fingerprint)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 105.0, sales[0].TotalPrice)
	assert.Equal(t, models.ProvenanceAIEnhanced, sales[0].FilterProvenance)
}

func TestRefreshNowFallsBackWhenAIFails(t *testing.T) {
	env := newRefreshEnv(t)

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(troutListings(), nil)
	env.ai.EXPECT().Filter(gomock.Any(), gomock.Any()).
		Return(nil, &services.AIFilterError{Reason: services.AIReasonNetwork, Err: errors.New("connection reset")})

	res, err := env.orch.RefreshNow(context.Background(), env.card.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SavedCount)
	assert.Equal(t, services.AIReasonNetwork, res.AIReason)
	assert.Equal(t, models.ProvenanceRulesOnly, res.FilterProvenance)
}

func TestRefreshNowMarketplaceFailureFindsNothing(t *testing.T) {
	env := newRefreshEnv(t)

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, services.ErrUpstreamUnavailable)

	res, err := env.orch.RefreshNow(context.Background(), env.card.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SalesCount)
	assert.Equal(t, 0, res.SavedCount)
	assert.Equal(t, services.AIReasonNoCandidates, res.AIReason)
}

func TestRefreshNowStampsHolding(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	holding, err := env.resolver.AddHolding(ctx, models.AddHoldingRequest{CanonicalCardID: env.card.ID})
	require.NoError(t, err)

	env.search.EXPECT().SearchSold(gomock.Any(), gomock.Any(), gomock.Any()).Return(troutListings(), nil)

	_, err = env.orch.RefreshNow(ctx, holding.ID, false)
	require.NoError(t, err)

	card, err := env.resolver.Resolve(ctx, holding.ID)
	require.NoError(t, err)
	require.NotNil(t, card.LastPricingUpdate)
	assert.WithinDuration(t, time.Now(), *card.LastPricingUpdate, time.Minute)
}

package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/slab-market/internal/models"
)

var pricingNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func fixedCalculator() *PricingCalculator {
	return &PricingCalculator{now: func() time.Time { return pricingNow }}
}

func saleDaysAgo(days int, price float64, verified bool) models.SaleRecord {
	return models.SaleRecord{
		Title:      "sale",
		FinalPrice: price,
		TotalPrice: price,
		SoldAt:     pricingNow.AddDate(0, 0, -days),
		Verified:   verified,
	}
}

func repeatSales(n, daysAgo int, price float64) []models.SaleRecord {
	sales := make([]models.SaleRecord, 0, n)
	for i := 0; i < n; i++ {
		sales = append(sales, saleDaysAgo(daysAgo, price, true))
	}
	return sales
}

func TestWeightedAverage(t *testing.T) {
	snap := fixedCalculator().Compute("item", "fp", []models.SaleRecord{
		saleDaysAgo(1, 100, true),
		saleDaysAgo(2, 50, false),
	}, SnapshotOptions{})

	assert.Equal(t, 83.33, snap.AveragePrice)
	assert.Equal(t, 100.0, snap.HighPrice)
	assert.Equal(t, 50.0, snap.LowPrice)
	assert.Equal(t, models.PricingPeriod30Days, snap.PricingPeriod)
	assert.Equal(t, 2, snap.Sales30d)
}

func TestPricingFallsBackToAllTime(t *testing.T) {
	snap := fixedCalculator().Compute("item", "fp", []models.SaleRecord{
		saleDaysAgo(45, 200, true),
		saleDaysAgo(400, 100, true),
	}, SnapshotOptions{})

	assert.Equal(t, models.PricingPeriodAllTime, snap.PricingPeriod)
	assert.Equal(t, 150.0, snap.AveragePrice)
	assert.Equal(t, 0, snap.Sales30d)
	require.NotNil(t, snap.LastSaleDate)
	assert.Equal(t, pricingNow.AddDate(0, 0, -45), *snap.LastSaleDate)
}

func TestPricingUsesTotalPrice(t *testing.T) {
	sale := saleDaysAgo(1, 100, true)
	sale.Shipping = 4.99
	sale.TotalPrice = 104.99

	snap := fixedCalculator().Compute("item", "fp", []models.SaleRecord{sale}, SnapshotOptions{})
	assert.Equal(t, 104.99, snap.AveragePrice)
}

func TestPricingNoSales(t *testing.T) {
	snap := fixedCalculator().Compute("item", "fp", nil, SnapshotOptions{IncludeHistory: true})

	assert.Equal(t, 0, snap.SalesCount)
	assert.Equal(t, 0.0, snap.AveragePrice)
	assert.Equal(t, 0, snap.Confidence)
	assert.Equal(t, models.LiquidityCold, snap.Liquidity)
	assert.Equal(t, models.PricingPeriodAllTime, snap.PricingPeriod)
	assert.Nil(t, snap.LastSaleDate)
	assert.Empty(t, snap.History)
}

func TestLiquidityTierFor(t *testing.T) {
	tests := []struct {
		count    int
		expected models.LiquidityTier
	}{
		{50, models.LiquidityFire},
		{49, models.LiquidityHot},
		{30, models.LiquidityHot},
		{29, models.LiquidityWarm},
		{15, models.LiquidityWarm},
		{14, models.LiquidityCool},
		{5, models.LiquidityCool},
		{4, models.LiquidityCold},
		{0, models.LiquidityCold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, LiquidityTierFor(tt.count), "count %d", tt.count)
	}
}

func TestExitTimeFor(t *testing.T) {
	assert.Equal(t, "1-3 days", ExitTimeFor(models.LiquidityFire, 10))
	assert.Equal(t, "3-7 days", ExitTimeFor(models.LiquidityFire, 9))
	assert.Equal(t, "1-2 weeks", ExitTimeFor(models.LiquidityHot, 20))
	assert.Equal(t, "2-4 weeks", ExitTimeFor(models.LiquidityWarm, 0))
	assert.Equal(t, "1-2 months", ExitTimeFor(models.LiquidityCool, 0))
	assert.Equal(t, "2+ months", ExitTimeFor(models.LiquidityCold, 0))
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		sales    []models.SaleRecord
		expected int
	}{
		{"no sales", nil, 0},
		{"one recent", repeatSales(1, 10, 100), 35},
		{"fifteen consistent", repeatSales(15, 10, 100), 95},
		{"eight consistent", repeatSales(8, 60, 100), 85},
		{
			// 2 recent -> base 35; 4 within 180 days -> boost min(55, 25+32) = 55
			name:     "historical boost capped",
			sales:    append(repeatSales(2, 10, 100), repeatSales(2, 150, 100)...),
			expected: 55,
		},
		{
			// 1 recent -> base 35; 2 within 180 days -> boost 41
			name:     "historical boost",
			sales:    append(repeatSales(1, 10, 100), append(repeatSales(1, 120, 100), repeatSales(3, 300, 100)...)...),
			expected: 41,
		},
		{
			// no sales in 180 days -> boost 25
			name:     "only old history",
			sales:    repeatSales(4, 365, 100),
			expected: 25,
		},
		{
			// base 70; mean 180, population stddev 160 -> consistency floors at 0.3
			name: "inconsistent prices",
			sales: []models.SaleRecord{
				saleDaysAgo(1, 100, true), saleDaysAgo(2, 100, true), saleDaysAgo(3, 100, true),
				saleDaysAgo(4, 100, true), saleDaysAgo(5, 500, true),
			},
			expected: 21,
		},
		{
			// base 70; mean 100, population stddev 8.94 -> 70 * 0.9106
			name: "slightly varying prices",
			sales: []models.SaleRecord{
				saleDaysAgo(1, 90, true), saleDaysAgo(2, 110, true), saleDaysAgo(3, 90, true),
				saleDaysAgo(4, 110, true), saleDaysAgo(5, 100, true),
			},
			expected: 64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := fixedCalculator().Compute("item", "fp", tt.sales, SnapshotOptions{})
			assert.Equal(t, tt.expected, snap.Confidence)
		})
	}
}

func TestSnapshotHistory(t *testing.T) {
	sales := []models.SaleRecord{
		saleDaysAgo(1, 100.004, true),
		saleDaysAgo(2, 90, false),
		saleDaysAgo(3, 80, true),
	}

	snap := fixedCalculator().Compute("item", "fp", sales, SnapshotOptions{IncludeHistory: true, HistoryPoints: 2})
	require.Len(t, snap.History, 2)
	assert.Equal(t, 100.0, snap.History[0].Price)
	assert.False(t, snap.History[1].Verified)

	snap = fixedCalculator().Compute("item", "fp", sales, SnapshotOptions{HistoryPoints: 2})
	assert.Nil(t, snap.History)
}

func TestSnapshotOptionsNormalized(t *testing.T) {
	assert.Equal(t, SnapshotOptions{}, SnapshotOptions{HistoryPoints: 10}.Normalized())
	assert.Equal(t, DefaultHistoryPoints, SnapshotOptions{IncludeHistory: true}.Normalized().HistoryPoints)
	assert.Equal(t, MaxHistoryPoints, SnapshotOptions{IncludeHistory: true, HistoryPoints: 5000}.Normalized().HistoryPoints)
}

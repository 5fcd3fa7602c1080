package services

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/slab-market/internal/models"
)

const (
	pricingWindow    = 30 * 24 * time.Hour
	confidenceWindow = 90 * 24 * time.Hour
	boostWindow      = 180 * 24 * time.Hour

	// DefaultHistoryPoints is used when history is requested without a count
	DefaultHistoryPoints = 30
	// MaxHistoryPoints caps the embedded sale history
	MaxHistoryPoints = 200
)

// PricingCalculator derives market snapshots from stored sales
type PricingCalculator struct {
	now func() time.Time
}

func NewPricingCalculator() *PricingCalculator {
	return &PricingCalculator{now: time.Now}
}

// SnapshotOptions controls the optional sale history embedded in a snapshot
type SnapshotOptions struct {
	IncludeHistory bool
	HistoryPoints  int
}

// Normalized applies the default and cap to HistoryPoints. Without history
// the point count is irrelevant and reset to zero.
func (o SnapshotOptions) Normalized() SnapshotOptions {
	if !o.IncludeHistory {
		return SnapshotOptions{}
	}
	if o.HistoryPoints <= 0 {
		o.HistoryPoints = DefaultHistoryPoints
	}
	if o.HistoryPoints > MaxHistoryPoints {
		o.HistoryPoints = MaxHistoryPoints
	}
	return o
}

// Compute builds the snapshot for one card from all of its sales, which must
// be ordered newest first
func (p *PricingCalculator) Compute(itemID, fingerprint string, sales []models.SaleRecord, opts SnapshotOptions) *models.MarketSnapshot {
	now := p.now()
	snap := &models.MarketSnapshot{
		ItemID:      itemID,
		Fingerprint: fingerprint,
		SalesCount:  len(sales),
		Liquidity:   LiquidityTierFor(len(sales)),
		ComputedAt:  now,
	}

	var recent30, recent90 []models.SaleRecord
	count180 := 0
	for _, s := range sales {
		age := now.Sub(s.SoldAt)
		if age <= pricingWindow {
			recent30 = append(recent30, s)
		}
		if age <= confidenceWindow {
			recent90 = append(recent90, s)
		}
		if age <= boostWindow {
			count180++
		}
		if snap.LastSaleDate == nil || s.SoldAt.After(*snap.LastSaleDate) {
			soldAt := s.SoldAt
			snap.LastSaleDate = &soldAt
		}
	}
	snap.Sales30d = len(recent30)

	priced := recent30
	snap.PricingPeriod = models.PricingPeriod30Days
	if len(priced) == 0 {
		priced = sales
		snap.PricingPeriod = models.PricingPeriodAllTime
	}

	if len(priced) > 0 {
		snap.AveragePrice = weightedAverage(priced)
		high, low := priced[0].TotalPrice, priced[0].TotalPrice
		for _, s := range priced[1:] {
			high = math.Max(high, s.TotalPrice)
			low = math.Min(low, s.TotalPrice)
		}
		snap.HighPrice = round2(high)
		snap.LowPrice = round2(low)
	}

	snap.Confidence = confidenceScore(recent90, len(sales), count180)
	snap.ExitTime = ExitTimeFor(snap.Liquidity, len(recent30))

	if opts = opts.Normalized(); opts.IncludeHistory {
		snap.History = history(sales, opts.HistoryPoints)
	}
	return snap
}

// weightedAverage weights verified sales 1.0 and unverified (cash) sales 0.5
func weightedAverage(sales []models.SaleRecord) float64 {
	sumPW := decimal.Zero
	sumW := decimal.Zero
	for i := range sales {
		w := decimal.NewFromFloat(sales[i].Weight())
		sumPW = sumPW.Add(decimal.NewFromFloat(sales[i].TotalPrice).Mul(w))
		sumW = sumW.Add(w)
	}
	if sumW.IsZero() {
		return 0
	}
	return sumPW.Div(sumW).Round(2).InexactFloat64()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// LiquidityTierFor buckets a total sales count
func LiquidityTierFor(count int) models.LiquidityTier {
	switch {
	case count >= 50:
		return models.LiquidityFire
	case count >= 30:
		return models.LiquidityHot
	case count >= 15:
		return models.LiquidityWarm
	case count >= 5:
		return models.LiquidityCool
	default:
		return models.LiquidityCold
	}
}

// ExitTimeFor estimates how long a listing takes to sell. Fire-tier cards
// with ten or more sales in the last 30 days sell fastest.
func ExitTimeFor(tier models.LiquidityTier, recentCount int) string {
	switch tier {
	case models.LiquidityFire:
		if recentCount >= 10 {
			return "1-3 days"
		}
		return "3-7 days"
	case models.LiquidityHot:
		return "1-2 weeks"
	case models.LiquidityWarm:
		return "2-4 weeks"
	case models.LiquidityCool:
		return "1-2 months"
	default:
		return "2+ months"
	}
}

// confidenceScore rates 0-100 how much the snapshot can be trusted
func confidenceScore(recent []models.SaleRecord, total, count180 int) int {
	base := baseConfidence(len(recent))

	// Hand-tuned boost for cards that trade rarely but have history
	if len(recent) < 3 && total >= 3 {
		boost := min(55, 25+count180*8)
		base = max(base, boost)
	}

	consistency := 1.0
	if len(recent) >= 3 {
		consistency = math.Max(0.3, 1-coefficientOfVariation(recent))
	}
	return int(math.Round(float64(base) * consistency))
}

func baseConfidence(recentCount int) int {
	switch {
	case recentCount >= 15:
		return 95
	case recentCount >= 8:
		return 85
	case recentCount >= 5:
		return 70
	case recentCount >= 3:
		return 55
	case recentCount >= 1:
		return 35
	default:
		return 0
	}
}

// coefficientOfVariation is the population standard deviation over the mean
func coefficientOfVariation(sales []models.SaleRecord) float64 {
	if len(sales) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sales {
		sum += s.TotalPrice
	}
	mean := sum / float64(len(sales))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, s := range sales {
		d := s.TotalPrice - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(sales))) / mean
}

// history returns up to points sales, newest first
func history(sales []models.SaleRecord, points int) []models.SalePoint {
	n := min(points, len(sales))
	out := make([]models.SalePoint, 0, n)
	for _, s := range sales[:n] {
		out = append(out, models.SalePoint{
			SoldAt:   s.SoldAt,
			Price:    round2(s.TotalPrice),
			Title:    s.Title,
			Verified: s.Verified,
		})
	}
	return out
}

package models

import (
	"time"
)

// LiquidityTier buckets total trade volume
type LiquidityTier string

const (
	LiquidityFire LiquidityTier = "fire"
	LiquidityHot  LiquidityTier = "hot"
	LiquidityWarm LiquidityTier = "warm"
	LiquidityCool LiquidityTier = "cool"
	LiquidityCold LiquidityTier = "cold"
)

const (
	PricingPeriod30Days  = "30 days"
	PricingPeriodAllTime = "All time"
)

// MarketSnapshot is the derived pricing view for one card. It is never
// persisted; it lives only as long as its cache entry.
type MarketSnapshot struct {
	ItemID        string        `json:"item_id"`
	Fingerprint   string        `json:"fingerprint"`
	AveragePrice  float64       `json:"average_price"`
	HighPrice     float64       `json:"high_price"`
	LowPrice      float64       `json:"low_price"`
	Liquidity     LiquidityTier `json:"liquidity"`
	Confidence    int           `json:"confidence"`
	SalesCount    int           `json:"sales_count"`
	Sales30d      int           `json:"sales_30d"`
	LastSaleDate  *time.Time    `json:"last_sale_date"`
	ExitTime      string        `json:"exit_time"`
	PricingPeriod string        `json:"pricing_period"`
	History       []SalePoint   `json:"history,omitempty"`
	ComputedAt    time.Time     `json:"computed_at"`
}

// SalePoint is one entry of the embedded sale history
type SalePoint struct {
	SoldAt   time.Time `json:"sold_at"`
	Price    float64   `json:"price"`
	Title    string    `json:"title"`
	Verified bool      `json:"verified"`
}

// SnapshotBatchRequest is the body of a batched snapshot read
type SnapshotBatchRequest struct {
	IDs            []string `json:"ids" binding:"required"`
	IncludeHistory bool     `json:"include_history"`
	HistoryPoints  int      `json:"history_points"`
}

// PurgeRequest targets cache entries by explicit ids or a key substring
type PurgeRequest struct {
	IDs     []string `json:"ids"`
	Pattern string   `json:"pattern"`
}

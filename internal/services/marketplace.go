package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

const (
	marketplaceDefaultTimeout    = 15 * time.Second
	marketplaceDefaultDailyLimit = 1000
	// MaxSearchResults bounds how many listings one refresh considers
	MaxSearchResults = 50
)

// MarketplaceSearcher finds sold listings for a query
//
//go:generate mockgen -source=marketplace.go -destination=../mocks/marketplace.go -package=mocks -mock_names=MarketplaceSearcher=MockMarketplaceSearcher
type MarketplaceSearcher interface {
	SearchSold(ctx context.Context, query string, limit int) ([]models.RawListing, error)
}

// MarketplaceClient searches a sold-listings JSON API.
//
//	GET {base}/api/sold?q=...&limit=...
//	  -> either {"listings":[...]} or [...]
type MarketplaceClient struct {
	client     *http.Client
	apiKey     string
	baseURL    string
	dailyLimit int
	maxResults int
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff

	// Daily quota
	mu             sync.Mutex
	requestsToday  int
	lastRequestDay time.Time
}

// marketplaceListing is the wire format of one sold listing
type marketplaceListing struct {
	ItemID      string  `json:"item_id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Shipping    float64 `json:"shipping"`
	SoldDate    string  `json:"sold_date"`
	Condition   string  `json:"condition"`
	ListingType string  `json:"listing_type"`
	Seller      struct {
		Username        string  `json:"username"`
		FeedbackScore   int     `json:"feedback_score"`
		FeedbackPercent float64 `json:"feedback_percent"`
	} `json:"seller"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

func NewMarketplaceClient(cfg config.MarketplaceConfig) *MarketplaceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = marketplaceDefaultTimeout
	}
	dailyLimit := cfg.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = marketplaceDefaultDailyLimit
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	metrics.MarketplaceQuotaLimit.Set(float64(dailyLimit))
	metrics.MarketplaceQuotaRemaining.Set(float64(dailyLimit))

	return &MarketplaceClient{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		dailyLimit: dailyLimit,
		maxResults: maxResults,
		limiter:    rate.NewLimiter(limit, 1),
		newBackOff: defaultMarketplaceBackOff,
	}
}

func defaultMarketplaceBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	b.RandomizationFactor = 0.5
	return b
}

// IsConfigured reports whether a base URL was provided
func (c *MarketplaceClient) IsConfigured() bool {
	return c.baseURL != ""
}

// checkRateLimit consumes one request from today's quota.
// Returns false once the daily limit is reached.
func (c *MarketplaceClient) checkRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if c.lastRequestDay.Before(today) {
		c.requestsToday = 0
		c.lastRequestDay = today
	}

	if c.requestsToday >= c.dailyLimit {
		return false
	}

	c.requestsToday++
	metrics.MarketplaceQuotaRemaining.Set(float64(c.dailyLimit - c.requestsToday))
	return true
}

// RequestsRemaining returns the number of searches left today
func (c *MarketplaceClient) RequestsRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if c.lastRequestDay.Before(today) {
		return c.dailyLimit
	}
	return max(c.dailyLimit-c.requestsToday, 0)
}

// DailyLimit returns the configured daily search quota
func (c *MarketplaceClient) DailyLimit() int {
	return c.dailyLimit
}

// SearchSold returns up to limit sold listings for query. Network errors,
// 429s and 5xx responses are retried with exponential backoff.
func (c *MarketplaceClient) SearchSold(ctx context.Context, query string, limit int) ([]models.RawListing, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("%w: marketplace.base_url not set", ErrUpstreamUnavailable)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrValidation)
	}
	if limit <= 0 || limit > c.maxResults {
		limit = c.maxResults
	}
	if !c.checkRateLimit() {
		metrics.MarketplaceRequestsTotal.WithLabelValues("quota").Inc()
		return nil, fmt.Errorf("%w: marketplace daily limit of %d reached", ErrRateLimited, c.dailyLimit)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	reqURL := c.baseURL + "/api/sold?" + params.Encode()

	start := time.Now()
	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to search marketplace: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("marketplace API error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("marketplace API error: status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnCtx(ctx, "Marketplace search failed, retrying",
			zap.String("query", query), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify)
	metrics.MarketplaceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MarketplaceRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	listings, err := decodeSoldListings(body)
	if err != nil {
		metrics.MarketplaceRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	metrics.MarketplaceRequestsTotal.WithLabelValues("success").Inc()

	if len(listings) > limit {
		listings = listings[:limit]
	}
	logger.DebugCtx(ctx, "Marketplace search", zap.String("query", query), zap.Int("results", len(listings)))
	return listings, nil
}

// decodeSoldListings accepts both object-wrapped and bare-array payloads.
// Listings without a title, a positive price or a parseable sold date are dropped.
func decodeSoldListings(body []byte) ([]models.RawListing, error) {
	var wrapped struct {
		Listings []marketplaceListing `json:"listings"`
	}
	var raw []marketplaceListing
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Listings != nil {
		raw = wrapped.Listings
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("search payload parse: %w", err)
	}

	listings := make([]models.RawListing, 0, len(raw))
	for _, l := range raw {
		soldAt, ok := parseSoldDate(l.SoldDate)
		if !ok || strings.TrimSpace(l.Title) == "" || l.Price <= 0 {
			continue
		}
		listings = append(listings, models.RawListing{
			ItemID:                l.ItemID,
			Title:                 strings.TrimSpace(l.Title),
			Price:                 l.Price,
			Shipping:              l.Shipping,
			SoldAt:                soldAt,
			Condition:             l.Condition,
			ListingType:           l.ListingType,
			SellerName:            l.Seller.Username,
			SellerFeedbackScore:   l.Seller.FeedbackScore,
			SellerFeedbackPercent: l.Seller.FeedbackPercent,
			URL:                   l.URL,
			ImageURL:              l.ImageURL,
		})
	}
	return listings, nil
}

var soldDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseSoldDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range soldDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
)

// CallerHeader identifies the calling client. Requests without it are keyed
// by client IP.
const CallerHeader = "X-Caller-ID"

const defaultMaxCallers = 10000

// CallerLimiter holds one token bucket per caller. The least recently seen
// callers are evicted once maxCallers is reached.
type CallerLimiter struct {
	scope     string
	perMinute int
	limit     rate.Limit

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

func NewCallerLimiter(scope string, perMinute, maxCallers int) (*CallerLimiter, error) {
	if perMinute <= 0 {
		return nil, fmt.Errorf("%s rate limit must be positive, got %d", scope, perMinute)
	}
	if maxCallers <= 0 {
		maxCallers = defaultMaxCallers
	}
	limiters, err := lru.New[string, *rate.Limiter](maxCallers)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s limiter table: %w", scope, err)
	}
	return &CallerLimiter{
		scope:     scope,
		perMinute: perMinute,
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		limiters:  limiters,
	}, nil
}

func (l *CallerLimiter) limiterFor(caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(caller); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.perMinute)
	l.limiters.Add(caller, lim)
	return lim
}

// Reserve takes a token for caller. When none is available it returns false
// and how long until one would be.
func (l *CallerLimiter) Reserve(caller string) (bool, time.Duration) {
	lim := l.limiterFor(caller)
	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Handler rejects requests over the caller's budget with 429 and Retry-After
func (l *CallerLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerID(c)
		if ok, wait := l.Reserve(caller); !ok {
			metrics.RateLimitedTotal.WithLabelValues(l.scope).Inc()
			logger.Debug("Request rate limited",
				zap.String("scope", l.scope),
				zap.String("caller", caller),
				zap.Duration("retry_after", wait))

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("rate limit exceeded: %d %s requests per minute", l.perMinute, l.scope),
			})
			return
		}
		c.Next()
	}
}

// CallerID returns the caller header or the client IP
func CallerID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(CallerHeader)); id != "" {
		return id
	}
	return c.ClientIP()
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"kallied-admin/backend/internal/server/httpx"
)

// defaultLimiterCapacity bounds how many client IPs keep a limiter at once.
const defaultLimiterCapacity = 10000

// RateLimiter throttles selected paths per client IP with a token bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int
	paths map[string]bool

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows perMinute requests per IP on each of paths, with bursts of burst.
// perMinute <= 0 disables limiting. Least recently seen IPs are evicted past capacity.
func NewRateLimiter(perMinute float64, burst int, paths map[string]bool) (*RateLimiter, error) {
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](defaultLimiterCapacity)
	if err != nil {
		return nil, err
	}
	l := &RateLimiter{limit: rate.Limit(perMinute / 60), burst: burst, paths: paths, limiters: cache}
	if perMinute <= 0 {
		l.limit = rate.Inf
	}
	return l, nil
}

// Middleware rejects over-limit requests with 429 and Retry-After. Run it after ClientIPMiddleware.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit == rate.Inf || !l.paths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		res := l.limiter(ClientIPFromContext(r.Context())).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			httpx.RespondError(w, http.StatusTooManyRequests, httpx.CodeRateLimited, "too many attempts; retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gestaozabele/manutencao/internal/util"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

// RateLimiter guarda um token bucket por chave (IP ou identidade).
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow consome um token da chave.
func (l *RateLimiter) Allow(key string) bool {
	now := util.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastSweep) >= limiterSweepEvery {
		l.sweep(now)
	}
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep descarta buckets ociosos. Exige mu.
func (l *RateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func limitBy(l *RateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" && !l.Allow(k) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "limite de requisições excedido")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit usa o endereço remoto, já ajustado por chi middleware.RealIP.
func IPRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return limitBy(l, func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	})
}

// UserRateLimit usa a identidade da sessão; sem sessão, não limita.
func UserRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return limitBy(l, GetSubject)
}

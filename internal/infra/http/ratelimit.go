package http

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"liuyan-board/internal/domain"
)

// RateLimiter ограничивает частоту запросов с одного адреса.
type RateLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// NewRateLimiter создаёт пул лимитеров. Непозитивные значения заменяются на 5 rps и burst 10.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *RateLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow сообщает, можно ли принять запрос с ключом.
func (p *RateLimiter) Allow(key string) bool {
	return p.get(key).Allow()
}

// Middleware отвечает 429, если адрес превысил лимит. Адрес берётся после middleware.RealIP.
func (p *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.Allow(clientIP(r)) {
			WriteError(w, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

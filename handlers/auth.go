package handlers

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", settings.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// APIKeyAuthMiddleware requires a key matching the configured bcrypt hash.
// Without a configured hash every request passes.
func APIKeyAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if settings.APIKeyHash == "" {
			next(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+apiKeyHeader+" header")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(settings.APIKeyHash), []byte(key)) != nil {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next(w, r)
	}
}

func RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientKey(r), time.Now()) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// rateLimiter keeps a sliding one-minute window of request times per client.
// Clients whose window has emptied are dropped at most once a minute.
type rateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	requests    map[string][]time.Time
	lastSweep   time.Time
}

// newRateLimiter parses limits like "1000/min". Empty, "unlimited" or an
// unparsable limit disables limiting.
func newRateLimiter(limit string) *rateLimiter {
	rl := &rateLimiter{requests: make(map[string][]time.Time)}
	if limit == "" || limit == "unlimited" {
		return rl
	}
	if _, err := fmt.Sscanf(limit, "%d/min", &rl.maxRequests); err != nil || rl.maxRequests < 0 {
		log.WithField("limit", limit).Warn("ignoring invalid API_RATE_LIMIT")
		rl.maxRequests = 0
	}
	return rl
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	if rl == nil || rl.maxRequests == 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := now.Add(-time.Minute)
	if now.Sub(rl.lastSweep) >= time.Minute {
		rl.sweep(windowStart)
		rl.lastSweep = now
	}

	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.maxRequests {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

func (rl *rateLimiter) sweep(windowStart time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(rl.requests, key)
		}
	}
}

// clientKey identifies the caller by API key once keys are verified by
// APIKeyAuthMiddleware, otherwise by remote address.
func clientKey(r *http.Request) string {
	if settings.APIKeyHash != "" {
		if key := r.Header.Get(apiKeyHeader); key != "" {
			return "key:" + key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

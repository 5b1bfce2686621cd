// Package middleware holds the diag server's HTTP middleware: a
// JWT/API-key auth gate in front of the destructive admin routes, and a
// per-client rate limiter.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maumercado/coprocrt/internal/logger"
)

type contextKey string

const claimsContextKey contextKey = "diag-claims"

// AuthConfig configures the Auth middleware. Either a JWT secret or a
// set of static API keys (or both) may be configured; an empty Enabled
// gate lets every request through, same default-open posture as the
// teacher's middleware so a local, no-auth diag server is one flag away.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   map[string]bool
}

// Claims is the JWT payload the diag admin routes trust.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Auth gates requests behind an API key (X-API-Key) or a bearer JWT.
// Destructive admin routes (stop/cancel/interrupt a coprocess) are the
// intended targets; read-only introspection routes may be left ungated
// by mounting Auth only under /diag/admin.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if cfg.APIKeys[apiKey] {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if authHeader == "" || tokenString == authHeader {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the authenticated caller's claims, if Auth
// admitted the request via JWT.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey).(*Claims)
	return c
}

// RateLimiter is a simple per-client token bucket, grounded on the
// teacher's internal/api/middleware/ratelimit.go.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 1000
	}
	return &RateLimiter{tokens: float64(rps), maxTokens: float64(rps), refillRate: float64(rps), lastRefill: time.Now()}
}

func (rl *RateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// ClientRateLimit enforces a per-client (by X-Forwarded-For or
// RemoteAddr) requests-per-second ceiling on the diag API.
func ClientRateLimit(rps int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*RateLimiter)

	limiterFor := func(clientID string) *RateLimiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[clientID]
		if !ok {
			l = newRateLimiter(rps)
			limiters[clientID] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-Forwarded-For")
			if clientID == "" {
				clientID = r.RemoteAddr
			}
			if !limiterFor(clientID).allow() {
				logger.Warn().Str("client", clientID).Str("path", r.URL.Path).Msg("diag rate limit exceeded")
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

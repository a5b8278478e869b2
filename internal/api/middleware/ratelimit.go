package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// Counter is the fixed-window counter shared with the message pipeline.
type Counter interface {
	Check(ctx context.Context, key string, maxEvents int, window time.Duration) (ratelimit.Result, error)
}

// RateLimiter limits HTTP requests per endpoint and blocks repeat offenders.
type RateLimiter struct {
	client           *redis.Client
	counter          Counter
	limits           map[string]RateLimit
	blocker          *IPBlocker
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, counter Counter, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:           client,
		counter:          counter,
		blocker:          NewIPBlocker(client),
		logger:           logger,
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
		limits: map[string]RateLimit{
			"POST /register": {10, time.Hour, ipKey},
			"POST /login":    {30, time.Minute, ipKey},
			"GET /users/":    {100, time.Minute, ipKey},
			"POST /rooms":    {30, time.Hour, userKey},
			"GET /rooms/":    {120, time.Minute, userKey},
			"GET /stats":     {60, time.Minute, ipKey},
		},
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "http:ip:" + RealIP(r)
}

// userKey returns the caller's user key, falling back to the IP.
func userKey(r *http.Request) string {
	if userID := r.Header.Get(HeaderUserID); userID != "" {
		return "http:user:" + userID
	}
	return ipKey(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		// Check IP block first
		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			http.Error(w, `{"error":"temporarily blocked"}`, http.StatusForbidden)
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		res, err := rl.counter.Check(r.Context(), key, limit.Requests, limit.Window)
		if err != nil {
			// Fail open.
			rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Window.WindowStart.Add(limit.Window).Unix(), 10))

		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()

			rl.trackViolation(r.Context(), ip)

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("user", r.Header.Get(HeaderUserID)).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit finds the matching rate limit for a request. The longest
// matching pattern wins.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path

	var best string
	for pattern := range rl.limits {
		if strings.HasPrefix(key, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best == "" {
		return nil
	}
	l := rl.limits[best]
	return &l
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	key := fmt.Sprintf("violations:ip:%s", ip)
	count, _ := rl.client.Incr(ctx, key).Result()
	rl.client.Expire(ctx, key, time.Hour)

	if count >= 10 {
		rl.blocker.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	exists, _ := b.client.Exists(ctx, key).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Set(ctx, key, reason, duration)
}

// Unblock removes an IP block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Del(ctx, key)
}

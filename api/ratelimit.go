package api

import (
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/config"
)

// RateLimitConfig bounds password attempts per client.
type RateLimitConfig struct {
	AttemptsPerMinute int           // refill rate
	BurstSize         int           // attempts allowed back to back
	BanDuration       time.Duration // lockout once the bucket is empty
}

func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		AttemptsPerMinute: 10,
		BurstSize:         5,
		BanDuration:       30 * time.Second,
	}
}

func RateLimitConfigFrom(cfg *config.Config) *RateLimitConfig {
	return &RateLimitConfig{
		AttemptsPerMinute: cfg.RateLimit.PasswordAttemptsPerMinute,
		BurstSize:         cfg.RateLimit.Burst,
		BanDuration:       time.Duration(cfg.RateLimit.BanSeconds) * time.Second,
	}
}

// clientLimiter is the token bucket of one client
type clientLimiter struct {
	mu sync.Mutex

	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	bannedUntil time.Time
}

// RateLimiter throttles password-bearing requests per client key.
type RateLimiter struct {
	mu sync.Mutex

	config  *RateLimitConfig
	clients map[string]*clientLimiter
	now     func() time.Time

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		config:          config,
		clients:         make(map[string]*clientLimiter),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes idle, unbanned clients
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	staleThreshold := 10 * time.Minute

	for key, cl := range rl.clients {
		cl.mu.Lock()
		if now.Sub(cl.lastRefill) > staleThreshold && now.After(cl.bannedUntil) {
			delete(rl.clients, key)
		}
		cl.mu.Unlock()
	}
}

func (rl *RateLimiter) getClientLimiter(key string) *clientLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, exists := rl.clients[key]; exists {
		return cl
	}

	cl := &clientLimiter{
		tokens:     float64(rl.config.BurstSize),
		maxTokens:  float64(rl.config.BurstSize),
		refillRate: float64(rl.config.AttemptsPerMinute) / 60,
		lastRefill: rl.now(),
	}
	rl.clients[key] = cl
	return cl
}

// Allow consumes one attempt for key. An empty bucket bans the client for
// BanDuration.
func (rl *RateLimiter) Allow(key string) bool {
	cl := rl.getClientLimiter(key)
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := rl.now()

	if now.Before(cl.bannedUntil) {
		return false
	}

	// token bucket refill
	elapsed := now.Sub(cl.lastRefill).Seconds()
	cl.tokens += elapsed * cl.refillRate
	if cl.tokens > cl.maxTokens {
		cl.tokens = cl.maxTokens
	}
	cl.lastRefill = now

	if cl.tokens < 1 {
		cl.bannedUntil = now.Add(rl.config.BanDuration)
		return false
	}

	cl.tokens--
	return true
}

func (rl *RateLimiter) IsBanned(key string) bool {
	rl.mu.Lock()
	cl, exists := rl.clients[key]
	rl.mu.Unlock()

	if !exists {
		return false
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	return rl.now().Before(cl.bannedUntil)
}

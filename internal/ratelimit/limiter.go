// Package ratelimit provides per-action, per-session rate limiting.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Rule bounds one action to a number of attempts per window.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Config defines the rate limiting configuration.
type Config struct {
	Rules           map[string]Rule // Per-action rules, keyed by action name
	Default         Rule            // Applied to actions with no explicit rule
	CleanupInterval time.Duration   // How often to clean up idle limiters
}

// Actions with dedicated rules in DefaultConfig.
const (
	ActionAuth     = "auth"
	ActionPassword = "password"
)

// DefaultConfig guards the auth and password-submission actions the way the
// client always has: five attempts per minute each.
var DefaultConfig = Config{
	Rules: map[string]Rule{
		ActionAuth:     {MaxAttempts: 5, Window: time.Minute},
		ActionPassword: {MaxAttempts: 5, Window: time.Minute},
	},
	Default:         Rule{MaxAttempts: 10, Window: time.Minute},
	CleanupInterval: time.Hour,
}

// limiterEntry holds a rate limiter and tracks its last usage. lastUsed is
// unix nanoseconds, atomic because the lookup fast path updates it while
// holding only the read lock.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// Limiter manages per-action, per-session attempt limiting. Exceeding a
// window rejects the action locally without consulting any backend.
type Limiter struct {
	limiters map[string]*limiterEntry
	mu       sync.RWMutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a limiter with the given configuration and starts its
// background cleanup goroutine.
func New(config Config) *Limiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	l := &Limiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// Allow records an attempt for the action by the given session and reports
// whether it fits in the window. An empty session id buckets as anonymous.
func (l *Limiter) Allow(action, sessionID string) bool {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	return l.getLimiter(action, action+"_"+sessionID).Allow()
}

func (l *Limiter) getLimiter(action, key string) *rate.Limiter {
	// Fast path: existing limiter under read lock.
	l.mu.RLock()
	entry, exists := l.limiters[key]
	if exists {
		entry.lastUsed.Store(time.Now().UnixNano())
		l.mu.RUnlock()
		return entry.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	entry, exists = l.limiters[key]
	if exists {
		entry.lastUsed.Store(time.Now().UnixNano())
		return entry.limiter
	}

	rule, ok := l.config.Rules[action]
	if !ok {
		rule = l.config.Default
	}

	entry = &limiterEntry{
		limiter: rate.NewLimiter(rate.Limit(float64(rule.MaxAttempts)/rule.Window.Seconds()), rule.MaxAttempts),
	}
	entry.lastUsed.Store(time.Now().UnixNano())
	l.limiters[key] = entry

	return entry.limiter
}

// Cleanup removes limiters that have been idle for longer than the cleanup
// interval. Called periodically by the background goroutine.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.config.CleanupInterval).UnixNano()
	for key, entry := range l.limiters {
		if entry.lastUsed.Load() < cutoff {
			delete(l.limiters, key)
		}
	}
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (l *Limiter) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// Len returns the number of active limiters. Primarily for tests.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

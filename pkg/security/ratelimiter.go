package security

import (
	"sync"
	"time"
)

const (
	maxBuckets      = 10000 // Limit to 10k unique IPs to prevent memory exhaustion
	cleanupInterval = 5 * time.Minute
)

// RateLimiter is a fixed-window per-IP request limiter.
type RateLimiter struct {
	buckets    map[string]*bucket
	now        func() time.Time
	stopCh     chan struct{}
	cleanupWG  sync.WaitGroup
	stopOnce   sync.Once
	maxTokens  int
	maxBuckets int
	window     time.Duration
	mu         sync.Mutex
}

type bucket struct {
	resetTime time.Time
	count     int
}

// NewRateLimiter allows maxTokens requests per IP in each window.
func NewRateLimiter(maxTokens int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		now:        time.Now,
		maxTokens:  maxTokens,
		maxBuckets: maxBuckets,
		window:     window,
		stopCh:     make(chan struct{}),
	}

	rl.cleanupWG.Add(1)
	go rl.cleanupRoutine()

	return rl
}

// Allow checks if a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[ip]

	if !exists || now.After(b.resetTime) {
		if !exists && len(rl.buckets) >= rl.maxBuckets {
			rl.evictOldest()
		}

		rl.buckets[ip] = &bucket{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	if b.count >= rl.maxTokens {
		return false
	}

	b.count++
	return true
}

// cleanupRoutine periodically removes expired buckets.
func (rl *RateLimiter) cleanupRoutine() {
	defer rl.cleanupWG.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, b := range rl.buckets {
		if now.After(b.resetTime) {
			delete(rl.buckets, ip)
		}
	}
}

// evictOldest removes the bucket closest to expiry (called with lock held).
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time

	for ip, b := range rl.buckets {
		if oldestIP == "" || b.resetTime.Before(oldestTime) {
			oldestIP = ip
			oldestTime = b.resetTime
		}
	}

	if oldestIP != "" {
		delete(rl.buckets, oldestIP)
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	rl.cleanupWG.Wait()
}

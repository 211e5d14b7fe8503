// Package ratelimit keeps an in-memory token bucket per client so one caller
// cannot flood job creation or search. Buckets live in one process; each api
// replica limits on its own.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter gives every key a bucket of limit tokens that refills evenly over
// window.
type Limiter struct {
	limit  float64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a Limiter together with the goroutine that forgets idle keys.
// Close stops it.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   float64(limit),
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow takes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve takes a token for key. When none is left it reports how long
// until the next one arrives.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return false, l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit, seen: now}
		l.buckets[key] = b
	}
	perSecond := l.limit / l.window.Seconds()
	b.tokens = math.Min(l.limit, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	return false, wait
}

// Reset forgets key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle for two windows; they would be full again anyway.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

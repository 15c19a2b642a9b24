package kernel

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// RateLimitWindowConfig names the three sliding windows spec 4.3 checks for
// every user: a short burst window, a one-minute window and a one-hour
// window.
type RateLimitWindowConfig struct {
	RPM   int64
	RPH   int64
	Burst int64
}

// RateLimitResult is returned by Check.
type RateLimitResult struct {
	Allowed           bool
	ExceededWindow    string // "burst", "rpm", "rph", or "" if allowed
	RetryAfterSeconds float64
	Remaining         int64 // min headroom across the three windows (spec 4.3/6.2)
}

const burstWindow = time.Second

// userWindows holds the three timestamp deques for one user. Grounded on
// spec 4.3's algorithm: "maintain, per user, three ordered lists of
// timestamps... drop entries older than the window... if all three windows
// have headroom, push now onto all three and allow; otherwise reject without
// mutating any window."
//
// This replaces coreengine/kernel/rate_limiter.go's bucketed SlidingWindow
// counter (which only approximates the count within a window) with an exact
// per-timestamp deque, since spec 4.3/P5 requires exact sliding-window
// admission rather than a bucketed approximation.
type userWindows struct {
	burst []time.Time
	rpm   []time.Time
	rph   []time.Time
}

// RateLimiter enforces spec 4.3's per-user sliding-window admission control.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitWindowConfig
	perUser map[kernelid.UserId]*RateLimitWindowConfig
	windows map[kernelid.UserId]*userWindows
	now     func() time.Time
}

// NewRateLimiter constructs a limiter with the given default window config.
func NewRateLimiter(cfg RateLimitWindowConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		cfg:     cfg,
		perUser: make(map[kernelid.UserId]*RateLimitWindowConfig),
		windows: make(map[kernelid.UserId]*userWindows),
		now:     now,
	}
}

// SetUserLimits overrides the default window config for one user.
func (rl *RateLimiter) SetUserLimits(user kernelid.UserId, cfg RateLimitWindowConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cp := cfg
	rl.perUser[user] = &cp
}

// GetConfig returns the effective window config for a user (override or default).
func (rl *RateLimiter) GetConfig(user kernelid.UserId) RateLimitWindowConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cfg, ok := rl.perUser[user]; ok {
		return *cfg
	}
	return rl.cfg
}

// Check performs the exact check-then-push admission test of spec 4.3:
// stale entries are dropped from all three deques first, then all three
// windows are checked for headroom; only if all three have room is now
// pushed onto all three, atomically under the limiter's lock. A rejection
// leaves every deque unchanged.
func (rl *RateLimiter) Check(user kernelid.UserId) RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cfg := rl.cfg
	if override, ok := rl.perUser[user]; ok {
		cfg = *override
	}

	w, ok := rl.windows[user]
	if !ok {
		w = &userWindows{}
		rl.windows[user] = w
	}

	now := rl.now()
	w.burst = dropStale(w.burst, now, burstWindow)
	w.rpm = dropStale(w.rpm, now, time.Minute)
	w.rph = dropStale(w.rph, now, time.Hour)

	if int64(len(w.burst)) >= cfg.Burst {
		return RateLimitResult{Allowed: false, ExceededWindow: "burst", RetryAfterSeconds: retryAfter(w.burst, now, burstWindow), Remaining: remaining(cfg, w)}
	}
	if int64(len(w.rpm)) >= cfg.RPM {
		return RateLimitResult{Allowed: false, ExceededWindow: "rpm", RetryAfterSeconds: retryAfter(w.rpm, now, time.Minute), Remaining: remaining(cfg, w)}
	}
	if int64(len(w.rph)) >= cfg.RPH {
		return RateLimitResult{Allowed: false, ExceededWindow: "rph", RetryAfterSeconds: retryAfter(w.rph, now, time.Hour), Remaining: remaining(cfg, w)}
	}

	w.burst = append(w.burst, now)
	w.rpm = append(w.rpm, now)
	w.rph = append(w.rph, now)
	return RateLimitResult{Allowed: true, Remaining: remaining(cfg, w)}
}

// remaining computes spec 4.3/6.2's remaining count: the minimum, across the
// three sliding windows, of (window size - current window length).
func remaining(cfg RateLimitWindowConfig, w *userWindows) int64 {
	r := cfg.Burst - int64(len(w.burst))
	if v := cfg.RPM - int64(len(w.rpm)); v < r {
		r = v
	}
	if v := cfg.RPH - int64(len(w.rph)); v < r {
		r = v
	}
	if r < 0 {
		r = 0
	}
	return r
}

func dropStale(deque []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(deque) && deque[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return deque
	}
	return append([]time.Time(nil), deque[i:]...)
}

func retryAfter(deque []time.Time, now time.Time, window time.Duration) float64 {
	if len(deque) == 0 {
		return 0
	}
	oldest := deque[0]
	wait := window - now.Sub(oldest)
	if wait < 0 {
		wait = 0
	}
	return wait.Seconds()
}

// CleanupExpired drops every user whose three deques are all empty, freeing
// memory for users who have gone idle (spec 4.7's periodic GC hook).
func (rl *RateLimiter) CleanupExpired(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for user, w := range rl.windows {
		w.burst = dropStale(w.burst, now, burstWindow)
		w.rpm = dropStale(w.rpm, now, time.Minute)
		w.rph = dropStale(w.rph, now, time.Hour)
		if len(w.burst) == 0 && len(w.rpm) == 0 && len(w.rph) == 0 {
			delete(rl.windows, user)
			removed++
		}
	}
	return removed
}

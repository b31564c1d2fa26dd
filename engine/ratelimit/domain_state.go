package ratelimit

import (
	"math"
	"sync"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

const latencyEWMALambda = 0.2

// circuit breaker states
const (
	circuitClosed = iota
	circuitOpen
	circuitHalfOpen
)

type breakerState struct {
	state             int
	openedAt          time.Time
	halfOpenSuccesses int
	consecutiveFails  int
}

// domainState holds one origin's token bucket, latency estimate, error
// window and circuit breaker. Every exported behavior of AdaptiveRateLimiter
// bottoms out in a method here, guarded by its own mutex so shards never
// contend across domains.
type domainState struct {
	mu sync.Mutex

	bucket   *tokenBucket
	fillRate float64

	latencyEWMA float64
	window      *slidingWindow

	breaker breakerState

	// nextEarliest is the earliest time a request may proceed, advanced by
	// an upstream Retry-After hint independent of token availability.
	nextEarliest time.Time
	lastActivity time.Time
}

func newDomainState(cfg engmodels.RateLimitConfig, now time.Time) *domainState {
	fill := clampFloat(cfg.InitialRPS, cfg.MinRPS, cfg.MaxRPS)
	capacity := cfg.TokenBucketCapacity
	if capacity <= 0 {
		capacity = fill
	}

	windowDur := cfg.StatsWindow
	if windowDur <= 0 {
		windowDur = 30 * time.Second
	}
	bucketDur := cfg.StatsBucket
	if bucketDur <= 0 {
		bucketDur = 2 * time.Second
	}

	return &domainState{
		bucket:       newTokenBucket(capacity, fill, now),
		fillRate:     fill,
		latencyEWMA: float64(cfg.LatencyTarget),
		window:       newSlidingWindow(windowDur, bucketDur),
		breaker:      breakerState{state: circuitClosed},
		lastActivity: now,
	}
}

// planRequest returns how long the caller must wait before this request may
// proceed, or ErrCircuitOpen if the breaker is tripped.
func (d *domainState) planRequest(cfg engmodels.RateLimitConfig, now time.Time) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = now

	switch d.breaker.state {
	case circuitOpen:
		if now.Sub(d.breaker.openedAt) >= effectiveOpenDuration(cfg.OpenStateDuration) {
			d.breaker.state = circuitHalfOpen
			d.breaker.halfOpenSuccesses = 0
		} else {
			return 0, ErrCircuitOpen
		}
	}

	if now.Before(d.nextEarliest) {
		return d.nextEarliest.Sub(now), nil
	}

	wait, ok := d.bucket.reserve(now, 1)
	if ok {
		return 0, nil
	}
	return wait, nil
}

func (d *domainState) applyFeedback(cfg engmodels.RateLimitConfig, fb Feedback, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastActivity = now
	d.bucket.refill(now)

	observed := fb.Latency
	if observed <= 0 {
		observed = cfg.LatencyTarget
	}
	d.latencyEWMA = (1-latencyEWMALambda)*d.latencyEWMA + latencyEWMALambda*float64(observed)

	shouldDecrease := isThrottleStatus(fb.StatusCode) || isServerErrorStatus(fb.StatusCode) || fb.Err != nil
	if !shouldDecrease && cfg.LatencyTarget > 0 {
		degradeThreshold := time.Duration(float64(cfg.LatencyTarget) * cfg.LatencyDegradeFactor)
		if degradeThreshold <= 0 {
			degradeThreshold = 2 * cfg.LatencyTarget
		}
		shouldDecrease = observed >= degradeThreshold
	}

	decrease, increase := cfg.AIMDDecrease, cfg.AIMDIncrease
	if decrease <= 0 {
		decrease = 0.5
	}
	if increase < 0 {
		increase = 0.2
	}
	minRPS, maxRPS := cfg.MinRPS, cfg.MaxRPS
	if minRPS <= 0 {
		minRPS = 0.1
	}
	if maxRPS <= 0 {
		maxRPS = 5
	}

	if shouldDecrease {
		d.fillRate = math.Max(minRPS, d.fillRate*decrease)
	} else if isSuccessfulStatus(fb.StatusCode) {
		d.fillRate = math.Min(maxRPS, d.fillRate+increase)
	}
	d.bucket.setFillRate(d.fillRate)

	isError := isErrorFeedback(fb)
	d.window.record(now, 1, boolToInt(isError))

	if isError {
		d.breaker.consecutiveFails++
	} else if isSuccessfulStatus(fb.StatusCode) {
		d.breaker.consecutiveFails = 0
	}

	if fb.RetryAfter > 0 {
		retryAt := now.Add(fb.RetryAfter)
		if retryAt.After(d.nextEarliest) {
			d.nextEarliest = retryAt
		}
	}

	total, _ := d.window.snapshot(now)
	errorRate := d.window.errorRate(now)
	d.updateBreakerAfterFeedback(cfg, now, isError, isSuccessfulStatus(fb.StatusCode), errorRate, total)
}

func (d *domainState) updateBreakerAfterFeedback(cfg engmodels.RateLimitConfig, now time.Time, isError, success bool, errorRate float64, total int) {
	switch d.breaker.state {
	case circuitClosed:
		minSamples := cfg.MinSamplesToTrip
		if minSamples <= 0 {
			minSamples = 1
		}
		if (cfg.ErrorRateThreshold > 0 && total >= minSamples && errorRate >= cfg.ErrorRateThreshold) ||
			(cfg.ConsecutiveFailThreshold > 0 && d.breaker.consecutiveFails >= cfg.ConsecutiveFailThreshold) {
			d.openBreaker(now)
		}
	case circuitOpen:
		if now.Sub(d.breaker.openedAt) >= effectiveOpenDuration(cfg.OpenStateDuration) {
			d.breaker.state = circuitHalfOpen
			d.breaker.halfOpenSuccesses = 0
		}
	case circuitHalfOpen:
		if isError {
			d.openBreaker(now)
			return
		}
		if success {
			probes := cfg.HalfOpenProbes
			if probes <= 0 {
				probes = 1
			}
			d.breaker.halfOpenSuccesses++
			if d.breaker.halfOpenSuccesses >= probes {
				d.breaker.state = circuitClosed
				d.breaker.consecutiveFails = 0
				d.breaker.halfOpenSuccesses = 0
			}
		}
	}
}

func (d *domainState) openBreaker(now time.Time) {
	d.breaker.state = circuitOpen
	d.breaker.openedAt = now
	d.breaker.halfOpenSuccesses = 0
}

func effectiveOpenDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func clampFloat(value, min, max float64) float64 {
	if min > 0 && value < min {
		value = min
	}
	if max > 0 && value > max {
		value = max
	}
	return value
}

func isSuccessfulStatus(code int) bool { return code >= 200 && code < 400 }
func isThrottleStatus(code int) bool   { return code == 429 || code == 503 }
func isServerErrorStatus(code int) bool {
	return code >= 500 && code < 600
}

func isErrorFeedback(fb Feedback) bool {
	if fb.Err != nil {
		return true
	}
	return isThrottleStatus(fb.StatusCode) || isServerErrorStatus(fb.StatusCode)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

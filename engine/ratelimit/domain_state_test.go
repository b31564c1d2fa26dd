package ratelimit

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDomainStateAIMDIncreaseOnFastSuccess(t *testing.T) {
	cfg := testRateLimitConfig()
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	initial := ds.fillRate
	ds.applyFeedback(cfg, Feedback{StatusCode: 200, Latency: cfg.LatencyTarget / 2}, now.Add(50*time.Millisecond))

	expected := math.Min(cfg.MaxRPS, initial+cfg.AIMDIncrease)
	if !almostEqual(ds.fillRate, expected) {
		t.Fatalf("expected fill rate %v, got %v", expected, ds.fillRate)
	}
	if !almostEqual(ds.bucket.fillRate, ds.fillRate) {
		t.Fatalf("bucket fill rate out of sync: %v vs %v", ds.bucket.fillRate, ds.fillRate)
	}
}

func TestDomainStateAIMDDecreaseOnServerError(t *testing.T) {
	cfg := testRateLimitConfig()
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	initial := ds.fillRate
	ds.applyFeedback(cfg, Feedback{StatusCode: 503}, now.Add(time.Millisecond))

	expected := math.Max(cfg.MinRPS, initial*cfg.AIMDDecrease)
	if !almostEqual(ds.fillRate, expected) {
		t.Fatalf("expected fill rate %v, got %v", expected, ds.fillRate)
	}
}

func TestDomainStateAIMDDecreaseOnSlowSuccess(t *testing.T) {
	cfg := testRateLimitConfig()
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	initial := ds.fillRate
	slow := time.Duration(float64(cfg.LatencyTarget) * cfg.LatencyDegradeFactor * 2)
	ds.applyFeedback(cfg, Feedback{StatusCode: 200, Latency: slow}, now.Add(time.Millisecond))

	expected := math.Max(cfg.MinRPS, initial*cfg.AIMDDecrease)
	if !almostEqual(ds.fillRate, expected) {
		t.Fatalf("expected latency-triggered decrease to %v, got %v", expected, ds.fillRate)
	}
}

func TestDomainStateBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.ConsecutiveFailThreshold = 2
	cfg.ErrorRateThreshold = 0 // isolate the consecutive-failure path
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	ds.applyFeedback(cfg, Feedback{StatusCode: 503}, now)
	if ds.breaker.state != circuitClosed {
		t.Fatalf("breaker should stay closed after 1 failure, got state %d", ds.breaker.state)
	}

	ds.applyFeedback(cfg, Feedback{StatusCode: 503}, now.Add(time.Millisecond))
	if ds.breaker.state != circuitOpen {
		t.Fatalf("breaker should open after %d consecutive failures, got state %d", cfg.ConsecutiveFailThreshold, ds.breaker.state)
	}
}

func TestDomainStateBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.ConsecutiveFailThreshold = 1
	cfg.HalfOpenProbes = 2
	cfg.OpenStateDuration = time.Second
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	ds.applyFeedback(cfg, Feedback{StatusCode: 503}, now)
	if ds.breaker.state != circuitOpen {
		t.Fatalf("expected breaker open, got %d", ds.breaker.state)
	}

	// Force the transition to half-open the same way planRequest would.
	probeTime := now.Add(2 * time.Second)
	if _, err := ds.planRequest(cfg, probeTime); err != nil {
		t.Fatalf("unexpected planRequest error: %v", err)
	}
	if ds.breaker.state != circuitHalfOpen {
		t.Fatalf("expected half-open after open duration elapsed, got %d", ds.breaker.state)
	}

	ds.applyFeedback(cfg, Feedback{StatusCode: 200}, probeTime.Add(time.Millisecond))
	ds.applyFeedback(cfg, Feedback{StatusCode: 200}, probeTime.Add(2*time.Millisecond))
	if ds.breaker.state != circuitClosed {
		t.Fatalf("expected breaker closed after %d half-open successes, got %d", cfg.HalfOpenProbes, ds.breaker.state)
	}
}

func TestDomainStateRetryAfterSetsEarliestRequestTime(t *testing.T) {
	cfg := testRateLimitConfig()
	now := time.Unix(0, 0)
	ds := newDomainState(cfg, now)

	ds.applyFeedback(cfg, Feedback{StatusCode: 200, RetryAfter: 2 * time.Second}, now)

	wait, err := ds.planRequest(cfg, now.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected planRequest error: %v", err)
	}
	if wait < time.Second {
		t.Fatalf("expected planRequest to still be waiting on retry-after, got wait=%v", wait)
	}
}

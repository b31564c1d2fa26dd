package ratelimit

import (
	"testing"
	"time"
)

func TestSlidingWindowErrorRate(t *testing.T) {
	now := time.Unix(0, 0)
	w := newSlidingWindow(10*time.Second, time.Second)

	w.record(now, 1, 0)
	w.record(now.Add(time.Second), 1, 1)
	w.record(now.Add(2*time.Second), 1, 1)

	rate := w.errorRate(now.Add(2 * time.Second))
	if rate < 0.6 || rate > 0.7 {
		t.Fatalf("expected error rate near 2/3, got %v", rate)
	}
}

func TestSlidingWindowEvictsOldBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	w := newSlidingWindow(2*time.Second, time.Second)

	w.record(now, 1, 1)
	total, errors := w.snapshot(now.Add(5 * time.Second))
	if total != 0 || errors != 0 {
		t.Fatalf("expected expired bucket to be evicted, got total=%d errors=%d", total, errors)
	}
}
